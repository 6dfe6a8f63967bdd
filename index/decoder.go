package index

import (
	"encoding/binary"
	"fmt"

	"github.com/nvrstore/recstore/recerrs"
)

// Sample is one decoded frame: its byte offset and time offset within
// the recording, its duration, size, and key-frame flag.
type Sample struct {
	Pos        int64 // byte offset into the sample file
	Start90k   int64 // time offset into the recording, in 90kHz ticks
	Duration90k int32
	Bytes      int32
	IsKey      bool
}

// Iterator walks a sample-index byte string one sample at a time,
// reconstructing absolute position and time from the encoded deltas. It
// starts uninitialized; the first Next() call produces the first
// sample.
type Iterator struct {
	data []byte
	off  int

	prevDuration int32
	prevBytesKey int32
	prevBytesNon int32

	pos      int64
	start90k int64

	cur     Sample
	started bool
	done    bool
}

// NewIterator creates an Iterator over data, uninitialized.
func NewIterator(data []byte) *Iterator {
	return &Iterator{data: data}
}

// Cur returns the most recently produced sample. It is only valid after
// a Next() call that returned true.
func (it *Iterator) Cur() Sample { return it.cur }

// Next advances to the next sample. It returns false cleanly at
// end-of-input (the read offset exactly equals len(data)), or true with
// Cur() updated. Any non-nil error is terminal: the caller must not
// call Next again.
func (it *Iterator) Next() (bool, error) {
	if it.done {
		return false, nil
	}

	if it.off == len(it.data) {
		it.done = true
		return false, nil
	}

	r1, next1, ok := decodeUvarint(it.data, it.off)
	if !ok {
		return false, fmt.Errorf("%w 1 at offset %d", recerrs.ErrBadVarint, it.off)
	}

	r2, next2, ok := decodeUvarint(it.data, next1)
	if !ok {
		return false, fmt.Errorf("%w 2 at offset %d", recerrs.ErrBadVarint, next1)
	}

	isKey := r1&1 != 0
	durationDelta := unzigzag32(int32(r1 >> 1))
	duration := it.prevDuration + durationDelta

	startTs := it.start90k

	if duration < 0 {
		return false, fmt.Errorf("%w %d after applying delta %d", recerrs.ErrNegativeDuration, duration, durationDelta)
	}

	if duration == 0 && next2 != len(it.data) {
		return false, fmt.Errorf("%w; have %d bytes left", recerrs.ErrZeroDurationMidIndex, len(it.data)-next2)
	}

	var bytesDelta int32
	var bytes int32
	if isKey {
		bytesDelta = unzigzag32(int32(r2))
		bytes = it.prevBytesKey + bytesDelta
		it.prevBytesKey = bytes
	} else {
		bytesDelta = unzigzag32(int32(r2))
		bytes = it.prevBytesNon + bytesDelta
		it.prevBytesNon = bytes
	}

	if bytes <= 0 {
		return false, fmt.Errorf("%w %d after applying delta %d to key=%v frame at ts %d",
			recerrs.ErrNonPositiveBytes, bytes, bytesDelta, isKey, startTs)
	}

	it.cur = Sample{
		Pos:         it.pos,
		Start90k:    startTs,
		Duration90k: duration,
		Bytes:       bytes,
		IsKey:       isKey,
	}

	it.prevDuration = duration
	it.pos += int64(bytes)
	it.start90k += int64(duration)
	it.off = next2
	it.started = true

	return true, nil
}

func decodeUvarint(data []byte, off int) (uint64, int, bool) {
	v, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return 0, off, false
	}

	return v, off + n, true
}
