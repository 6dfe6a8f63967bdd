// Package index implements the sample-index codec: a lazy, byte-exact
// encoding of a recording's per-frame (duration_90k, bytes, is_key)
// triples using two LEB128 varints per sample, zigzag-delta compressed
// against per-stream running state. It generalizes the single-running-
// delta timestamp codec pattern to two interleaved, independently
// tracked deltas.
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/nvrstore/recstore/internal/pool"
	"github.com/nvrstore/recstore/recerrs"
	"github.com/nvrstore/recstore/recfmt"
)

// Encoder builds the sample-index byte string for one recording,
// sample by sample. It is not safe for concurrent use and, like the
// buffers it draws from, is meant to be short-lived: one Encoder per
// recording.
type Encoder struct {
	buf *pool.ByteBuffer

	prevDuration int32
	prevBytesKey int32
	prevBytesNon int32

	count      int
	keyCount   int
	durationSum int64
}

// NewEncoder creates an Encoder with an empty index and all running
// deltas at zero, matching the codec's documented initial state.
func NewEncoder() *Encoder {
	return &Encoder{buf: pool.GetIndexBuffer()}
}

// AddSample appends one (duration_90k, bytes, is_key) record to the
// index. durationSum tracks the cumulative recording duration so the
// encoder can refuse to exceed MAX_RECORDING_DURATION; the Writer is
// responsible for closing and rotating before this would trigger.
func (e *Encoder) AddSample(duration90k int32, bytes int32, isKey bool) error {
	if e.durationSum+int64(duration90k) > recfmt.MaxRecordingDuration {
		return fmt.Errorf("%w: %d", recerrs.ErrCapacityExceeded, e.durationSum+int64(duration90k))
	}

	durationDelta := duration90k - e.prevDuration
	r1 := (zigzag32(durationDelta) << 1)
	if isKey {
		r1 |= 1
	}

	var bytesDelta int32
	if isKey {
		bytesDelta = bytes - e.prevBytesKey
		e.prevBytesKey = bytes
	} else {
		bytesDelta = bytes - e.prevBytesNon
		e.prevBytesNon = bytes
	}
	r2 := zigzag32(bytesDelta)

	appendUvarint(e.buf, uint64(r1))
	appendUvarint(e.buf, uint64(r2))

	e.prevDuration = duration90k
	e.count++
	if isKey {
		e.keyCount++
	}
	e.durationSum += int64(duration90k)

	return nil
}

// Bytes returns the encoded index. The returned slice is valid until
// the next AddSample call or Release.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Len returns the number of samples encoded so far.
func (e *Encoder) Len() int { return e.count }

// KeyCount returns the number of key-frame samples encoded so far.
func (e *Encoder) KeyCount() int { return e.keyCount }

// DurationSum returns the cumulative duration_90k of all encoded samples.
func (e *Encoder) DurationSum() int64 { return e.durationSum }

// Release returns the encoder's buffer to the pool. Call once the
// caller has copied out (or handed off) the bytes it needs; the
// Encoder must not be used afterward.
func (e *Encoder) Release() {
	pool.PutIndexBuffer(e.buf)
	e.buf = nil
}

func zigzag32(n int32) int32 {
	return (n << 1) ^ (n >> 31)
}

func unzigzag32(n int32) int32 {
	return int32(uint32(n)>>1) ^ -(n & 1)
}

func appendUvarint(buf *pool.ByteBuffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}
