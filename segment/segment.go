// Package segment resolves an arbitrary playback time range within one
// recording to a key-frame-aligned byte range, using the fast whole-
// recording path when possible and an index walk otherwise.
package segment

import (
	"fmt"
	"math"

	"github.com/nvrstore/recstore/index"
	"github.com/nvrstore/recstore/recerrs"
)

// Recording is the subset of a persisted recording row a Segment needs.
// SampleFileBytes and TrailingZero are carried directly from the row so
// the fast path (the whole recording) never has to walk VideoIndex.
type Recording struct {
	Duration90k        int64
	VideoSampleEntryID int32
	VideoIndex         []byte
	VideoSamples       int
	VideoSyncSamples   int
	SampleFileBytes    int64
	TrailingZero       bool
}

// Segment is a resolved playback view: a byte range into the sample
// file plus the frame/key-frame counts the caller must observe while
// walking it.
type Segment struct {
	rec Recording

	ActualStart90k     int64
	SampleFileRange    [2]int64 // half-open [begin, end)
	Frames             int
	KeyFrames          int
	VideoSampleEntryID int32
	HaveTrailingZero   bool

	beginPos int64
	fastPath bool
}

// New creates a Segment for the half-open range [a, b) within rec. A
// desired range with a > b or b > rec.Duration90k is rejected; a == b
// still produces exactly one frame, the most recent key frame at or
// before a.
func New(rec Recording, a, b int64) (*Segment, error) {
	if a > b || b > rec.Duration90k {
		return nil, fmt.Errorf("%w: [%d,%d) vs duration %d", recerrs.ErrRangeOutOfBounds, a, b, rec.Duration90k)
	}

	s := &Segment{rec: rec, VideoSampleEntryID: rec.VideoSampleEntryID}

	if a == 0 && b == rec.Duration90k {
		s.fastPath = true
		s.ActualStart90k = 0
		s.beginPos = 0
		s.SampleFileRange = [2]int64{0, rec.SampleFileBytes}
		s.Frames = rec.VideoSamples
		s.KeyFrames = rec.VideoSyncSamples
		s.HaveTrailingZero = rec.TrailingZero

		return s, nil
	}

	return s.slowPath(a, b)
}

func (s *Segment) slowPath(a, b int64) (*Segment, error) {
	endClamped := b
	if b == s.rec.Duration90k {
		endClamped = math.MaxInt32
	}

	it := index.NewIterator(s.rec.VideoIndex)

	var begin index.Sample
	haveBegin := false
	frames := 0
	fileEnd := int64(0)
	trailingZero := false

	for {
		ok, err := it.Next()
		if err != nil {
			return nil, err
		}

		if !ok {
			break
		}

		cur := it.Cur()

		justSetBegin := false
		if cur.Start90k <= a && cur.IsKey {
			begin = cur
			haveBegin = true
			justSetBegin = true
		}

		// A frame that just became the new begin must always be
		// included in full, even if it also satisfies the stop
		// condition (the a == b case, where the desired range's one
		// required frame starts exactly at the cutoff).
		if !justSetBegin && cur.Start90k >= endClamped && frames > 0 {
			fileEnd = cur.Pos
			trailingZero = cur.Duration90k == 0

			break
		}

		frames++
		fileEnd = cur.Pos + int64(cur.Bytes)
		trailingZero = cur.Duration90k == 0
	}

	if !haveBegin {
		return nil, fmt.Errorf("%w: no key frame at or before %d", recerrs.ErrNotKeyFrame, a)
	}

	s.ActualStart90k = begin.Start90k
	s.beginPos = begin.Pos
	s.SampleFileRange = [2]int64{begin.Pos, fileEnd}
	s.HaveTrailingZero = trailingZero

	// Count frames/key-frames actually spanned by [begin, stop).
	it2 := index.NewIterator(s.rec.VideoIndex)
	spanned, keySpanned := 0, 0

	for {
		ok, err := it2.Next()
		if err != nil {
			return nil, err
		}

		if !ok {
			break
		}

		cur := it2.Cur()
		if cur.Pos < begin.Pos {
			continue
		}

		if cur.Pos >= fileEnd {
			break
		}

		spanned++
		if cur.IsKey {
			keySpanned++
		}
	}

	s.Frames = spanned
	s.KeyFrames = keySpanned

	return s, nil
}

// Foreach iterates the index from this Segment's begin sample, invoking
// cb with every sample snapshot in range, and verifies that the
// observed frame/key-frame counts match the Segment's recorded counts.
// The first frame produced must be a key frame.
func (s *Segment) Foreach(cb func(index.Sample) error) error {
	it := index.NewIterator(s.rec.VideoIndex)

	frames, keyFrames := 0, 0
	first := true

	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}

		if !ok {
			break
		}

		cur := it.Cur()
		if cur.Pos < s.beginPos {
			continue
		}

		if cur.Pos >= s.SampleFileRange[1] {
			break
		}

		if first {
			if !cur.IsKey {
				return recerrs.ErrNotKeyFrame
			}

			first = false
		}

		if err := cb(cur); err != nil {
			return err
		}

		frames++
		if cur.IsKey {
			keyFrames++
		}
	}

	if frames == 0 {
		return recerrs.ErrNoFrames
	}

	if frames != s.Frames {
		return fmt.Errorf("%w: expected %d frames, found %d", recerrs.ErrCountMismatch, s.Frames, frames)
	}

	if keyFrames != s.KeyFrames {
		return fmt.Errorf("%w: more than expected %d key frames (found %d)", recerrs.ErrCountMismatch, s.KeyFrames, keyFrames)
	}

	return nil
}
