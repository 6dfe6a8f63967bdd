// Package writer implements the per-stream Writer state machine
// (spec.md §4.4): it opens sample files, writes packets, maintains the
// index-in-progress, and hands completed recordings to a Syncer.
package writer

import (
	"fmt"
	"math"
	"os"

	"github.com/nvrstore/recstore/clock"
	"github.com/nvrstore/recstore/clockadjust"
	"github.com/nvrstore/recstore/dir"
	"github.com/nvrstore/recstore/index"
	"github.com/nvrstore/recstore/internal/checksum"
	"github.com/nvrstore/recstore/recerrs"
	"github.com/nvrstore/recstore/recfmt"
	"github.com/nvrstore/recstore/store"
)

// SyncerChannel is the narrow interface a Writer uses to hand a
// just-closed recording to its stream's Syncer. syncer.Syncer
// implements it; the Writer never imports the syncer package, which
// keeps the Writer<->Syncer dependency one-way (spec.md §9).
type SyncerChannel interface {
	AsyncSaveRecording(id recfmt.CompositeId, totalDuration90k int64, f *os.File)
}

// state is the Writer's coarse open/closed phase.
type state int

const (
	stateUnopened state = iota
	stateOpen
	stateClosed
)

// unflushedSample is the at-most-one frame held by a Writer: written to
// disk but not yet appended to the index, because a sample's recorded
// duration is the gap to the *next* frame's presentation timestamp.
type unflushedSample struct {
	localTime90k int64
	pts90k       int64
	len          int32
	isKey        bool
}

// take removes and returns the held unflushed sample, if any. Every
// exit path of Write that calls take eventually calls either store (on
// success) or restore (on error), so the invariant "at most one
// unflushed sample, never lost" holds even across fallible steps.
// Close restores the sample on a pts or encoding error; once it has
// appended the sample to the index, Close holds no unflushed sample.
func (ip *inProgress) take() (*unflushedSample, bool) {
	u := ip.unflushed
	ip.unflushed = nil

	return u, u != nil
}

func (ip *inProgress) restore(u *unflushedSample) { ip.unflushed = u }
func (ip *inProgress) store(u *unflushedSample)   { ip.unflushed = u }

// inProgress holds everything that only exists while a Writer is Open.
type inProgress struct {
	id     recfmt.CompositeId
	openID uint32
	file   *os.File

	enc      *index.Encoder
	hasher   *checksum.Fingerprint
	adjuster clockadjust.Adjuster

	unflushed *unflushedSample

	startTime90k       int64 // provisional until Close finalizes it
	localStart90k      int64 // earliest plausible local start seen so far
	runOffset          uint32
	videoSampleEntryID uint32
	bytesWritten       int64
	completedLiveOff   int64
	cumulativeDuration int64
}

// Config configures a new Writer. Store, Dir, Clocks and Syncer are
// required. Live segments are broadcast through Store.SendLiveSegment.
type Config struct {
	StreamID           uint32
	VideoSampleEntryID uint32
	Store              store.Store
	Dir                *dir.SampleFileDir
	Clocks             clock.Clocks
	Syncer             SyncerChannel
}

// Writer is the per-stream state machine described in spec.md §4.4. It
// is not safe for concurrent use: frames for one stream must be
// submitted by a single goroutine, in order.
type Writer struct {
	cfg Config

	state state
	cur   *inProgress

	runOffset    uint32
	runEnd90k    int64
	haveRunEnd   bool
	pendingDelta *int64
	nextOpenID   uint32
}

// New creates a Writer in the Unopened state.
func New(cfg Config) *Writer {
	return &Writer{cfg: cfg}
}

// ResetRun starts a new run: the next recording opened will have
// run_offset 0 and a provisional start_time_90k of "pending first-frame
// evidence" rather than being pinned to the end of some earlier
// recording. Call this when resuming acquisition after a gap.
func (w *Writer) ResetRun() {
	w.runOffset = 0
	w.haveRunEnd = false
	w.pendingDelta = nil
}

// Write submits one compressed frame. See spec.md §4.4 for the
// per-frame algorithm this implements exactly.
func (w *Writer) Write(pkt []byte, localTime90k, pts90k int64, isKey bool) error {
	if w.state != stateOpen {
		if err := w.open(); err != nil {
			return err
		}
	}

	ip := w.cur

	if u, ok := ip.take(); ok {
		raw := pts90k - u.pts90k
		if raw <= 0 {
			ip.restore(u)
			return fmt.Errorf("%w: pts %d after %d", recerrs.ErrNonMonotonicPts, pts90k, u.pts90k)
		}

		adj := ip.adjuster.Adjust(int32(raw))

		if err := ip.enc.AddSample(adj, u.len, u.isKey); err != nil {
			ip.restore(u)
			return err
		}

		w.finalizeAppend(ip, u, adj)

		if isKey {
			w.emitLiveSegment(ip)
			ip.completedLiveOff = ip.cumulativeDuration
		}
	}

	writeAll(w.cfg.Clocks, ip.file, pkt)
	ip.bytesWritten += int64(len(pkt))
	ip.hasher.Write(pkt)

	ip.store(&unflushedSample{
		localTime90k: localTime90k,
		pts90k:       pts90k,
		len:          int32(len(pkt)),
		isKey:        isKey,
	})

	return nil
}

// Close finalizes the current recording. nextPts90k is the pts of the
// frame that would have come next, if known; nil marks the recording
// TrailingZero (the final sample's recorded duration is 0).
func (w *Writer) Close(nextPts90k *int64) error {
	if w.state != stateOpen {
		return nil
	}

	ip := w.cur

	u, ok := ip.take()
	if !ok {
		return recerrs.ErrMissingUnflushedSample
	}

	var duration int32

	trailingZero := nextPts90k == nil
	if !trailingZero {
		raw := *nextPts90k - u.pts90k
		if raw <= 0 {
			ip.restore(u)
			return fmt.Errorf("%w: close pts %d after %d", recerrs.ErrNonMonotonicPts, *nextPts90k, u.pts90k)
		}

		duration = ip.adjuster.Adjust(int32(raw))
	} else {
		duration = ip.adjuster.Adjust(0)
	}

	if err := ip.enc.AddSample(duration, u.len, u.isKey); err != nil {
		ip.restore(u)
		return err
	}

	w.finalizeAppend(ip, u, duration)
	w.emitLiveSegment(ip)
	ip.completedLiveOff = ip.cumulativeDuration

	if ip.runOffset == 0 {
		ip.startTime90k = ip.localStart90k
	}

	localTimeDelta := ip.localStart90k - ip.startTime90k

	sha1sum := ip.hasher.Sum()

	flags := recfmt.Flags(0).WithTrailingZero(trailingZero)
	videoIndex := append([]byte(nil), ip.enc.Bytes()...)

	row := store.RecordingRow{
		ID:                 ip.id,
		OpenID:             ip.openID,
		StartTime90k:       ip.startTime90k,
		Duration90k:        ip.cumulativeDuration,
		SampleFileBytes:    ip.bytesWritten,
		VideoSamples:       uint32(ip.enc.Len()),
		VideoSyncSamples:   uint32(ip.enc.KeyCount()),
		VideoSampleEntryID: ip.videoSampleEntryID,
		RunOffset:          ip.runOffset,
		LocalTimeDelta90k:  localTimeDelta,
		Flags:              flags,
		SampleFileSha1:     sha1sum,
		VideoIndex:         videoIndex,
	}

	if err := w.cfg.Store.UpdateRecording(ip.id, row); err != nil {
		return fmt.Errorf("finalize recording %s: %w", ip.id, err)
	}

	w.cfg.Syncer.AsyncSaveRecording(ip.id, ip.cumulativeDuration, ip.file)

	delta := localTimeDelta
	w.pendingDelta = &delta
	w.runOffset = ip.runOffset + 1
	w.runEnd90k = ip.startTime90k + ip.cumulativeDuration
	w.haveRunEnd = true

	ip.enc.Release()
	w.cur = nil
	w.state = stateClosed

	return nil
}

// Drop finalizes the writer as Close(nil) would, swallowing any error.
// It is meant to be deferred (defer w.Drop()) so it also observes a
// panicking unwind, in which case it re-panics without finalizing,
// avoiding a double panic.
func (w *Writer) Drop() {
	if r := recover(); r != nil {
		panic(r)
	}

	if w.state == stateOpen {
		_ = w.Close(nil)
	}
}

func (w *Writer) open() error {
	provisional := w.runEnd90k
	if w.runOffset == 0 || !w.haveRunEnd {
		provisional = math.MaxInt64
	}

	openID := w.nextOpenID
	w.nextOpenID++

	draft := store.Draft{
		OpenID:             openID,
		StartTime90k:       provisional,
		VideoSampleEntryID: w.cfg.VideoSampleEntryID,
		RunOffset:          w.runOffset,
	}

	id, err := w.cfg.Store.AddRecording(w.cfg.StreamID, draft)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}

	f := clock.RetryForever(w.cfg.Clocks, func() (*os.File, error) {
		return w.cfg.Dir.Create(id)
	})

	w.cur = &inProgress{
		id:                 id,
		openID:             openID,
		file:               f,
		enc:                index.NewEncoder(),
		hasher:             checksum.NewFingerprint(),
		adjuster:           clockadjust.New(w.pendingDelta),
		startTime90k:       provisional,
		localStart90k:      math.MaxInt64,
		runOffset:          w.runOffset,
		videoSampleEntryID: w.cfg.VideoSampleEntryID,
	}
	w.state = stateOpen

	return nil
}

// finalizeAppend folds a just-finalized unflushed sample into the
// running duration/local-start bookkeeping, per spec.md §4.4 step 2.
func (w *Writer) finalizeAppend(ip *inProgress, u *unflushedSample, duration int32) {
	ip.cumulativeDuration += int64(duration)

	if candidate := u.localTime90k - ip.cumulativeDuration; candidate < ip.localStart90k {
		ip.localStart90k = candidate
	}
}

func (w *Writer) emitLiveSegment(ip *inProgress) {
	w.cfg.Store.SendLiveSegment(w.cfg.StreamID, store.LiveSegment{
		Recording:  ip.id,
		Off90kFrom: ip.completedLiveOff,
		Off90kTo:   ip.cumulativeDuration,
	})
}

// writeAll writes all of buf to f, retrying forever on transient
// errors (spec.md §4.4 step 3); a short write simply advances the
// slice and continues.
func writeAll(c clock.Clocks, f *os.File, buf []byte) {
	for len(buf) > 0 {
		n := clock.RetryForever(c, func() (int, error) {
			return f.Write(buf)
		})
		buf = buf[n:]
	}
}
