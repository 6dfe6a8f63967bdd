// Package recfmt defines the wire-level constants and small value types
// shared across the recording storage engine: the 90kHz time base, the
// packed stream/recording identifier, and the persisted recording flags.
package recfmt

import "fmt"

const (
	// TimeUnitsPerSec is the number of ticks per second used by every
	// timestamp and duration in the engine.
	TimeUnitsPerSec = 90000

	// DesiredRecordingDuration is the target length of one recording
	// before the Writer rotates to a new one.
	DesiredRecordingDuration = 60 * TimeUnitsPerSec

	// MaxRecordingDuration is the hard limit enforced by the sample-index
	// encoder; exceeding it is a capacity error the Writer must avoid by
	// closing and rotating first.
	MaxRecordingDuration = 5 * DesiredRecordingDuration
)

// CompositeId packs a 32-bit stream id (high) and a 32-bit recording id
// (low) into one 64-bit identifier. It is used both as the metadata
// store's primary key and as the on-disk sample-file name.
type CompositeId uint64

// NewCompositeId packs streamID and recordingID into a CompositeId.
func NewCompositeId(streamID, recordingID uint32) CompositeId {
	return CompositeId(uint64(streamID)<<32 | uint64(recordingID))
}

// StreamId returns the high 32 bits.
func (c CompositeId) StreamId() uint32 { return uint32(c >> 32) }

// RecordingId returns the low 32 bits.
func (c CompositeId) RecordingId() uint32 { return uint32(c) }

// String renders the lowercase zero-padded 16-hex-digit filename form
// used for sample files, per the external sample-file naming contract.
func (c CompositeId) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// ParseCompositeId parses the 16-hex-digit filename form back into a
// CompositeId. It returns false if s is not exactly 16 hex digits.
func ParseCompositeId(s string) (CompositeId, bool) {
	if len(s) != 16 {
		return 0, false
	}

	var v uint64
	for _, r := range s {
		v <<= 4
		switch {
		case r >= '0' && r <= '9':
			v |= uint64(r - '0')
		case r >= 'a' && r <= 'f':
			v |= uint64(r-'a') + 10
		default:
			return 0, false
		}
	}

	return CompositeId(v), true
}

// Flags is the packed per-recording bit field persisted alongside each
// row. It mirrors the accessor style of a bit-packed blob header flag,
// scaled down to the two bits this format actually needs.
type Flags uint8

const (
	// FlagTrailingZero marks a recording whose final sample's recorded
	// duration is legitimately zero (the writer was closed without a
	// known next pts).
	FlagTrailingZero Flags = 1 << 0

	// FlagGrowing marks a recording still being written; cleared by
	// MarkSynced once the file and row are durable.
	FlagGrowing Flags = 1 << 1
)

// HasTrailingZero reports whether the trailing-zero bit is set.
func (f Flags) HasTrailingZero() bool { return f&FlagTrailingZero != 0 }

// HasGrowing reports whether the growing bit is set.
func (f Flags) HasGrowing() bool { return f&FlagGrowing != 0 }

// WithTrailingZero returns f with the trailing-zero bit set or cleared.
func (f Flags) WithTrailingZero(v bool) Flags {
	if v {
		return f | FlagTrailingZero
	}

	return f &^ FlagTrailingZero
}

// WithGrowing returns f with the growing bit set or cleared.
func (f Flags) WithGrowing(v bool) Flags {
	if v {
		return f | FlagGrowing
	}

	return f &^ FlagGrowing
}
