// Package retention implements spec.md §4.6: given a per-stream byte
// budget, select the oldest recordings for deletion once the budget is
// exceeded.
package retention

import (
	"fmt"

	"github.com/nvrstore/recstore/store"
)

// Limits is the in-memory (not persisted) retention configuration for
// one stream; LowerRetention mutates it directly.
type Limits struct {
	RetainBytes int64
}

// RoundUp rounds a recording's byte count up to the filesystem block
// multiple used for accounting, so small recordings don't
// underestimate the space they actually occupy.
type RoundUp func(bytes int64) int64

// Rotate walks streamID's recordings oldest-to-newest via st, moving
// recordings to the garbage list until the store's current accounting
// (fs_bytes + fs_bytes_to_add - fs_bytes_to_delete + extra) no longer
// exceeds retainBytes. It does nothing if the budget is not exceeded.
func Rotate(st store.Store, streamID uint32, retainBytes, extra int64, round RoundUp) error {
	fsBytes, fsBytesToAdd, fsBytesToDelete, err := st.AccountingSnapshot(streamID)
	if err != nil {
		return fmt.Errorf("retention rotate: accounting snapshot: %w", err)
	}

	need := fsBytes + fsBytesToAdd - fsBytesToDelete + extra - retainBytes
	if need <= 0 {
		return nil
	}

	var accumulated int64

	predicate := func(row store.RecordingRow) bool {
		if accumulated >= need {
			return false
		}

		accumulated += round(row.SampleFileBytes)

		return true
	}

	return st.DeleteOldestRecordings(streamID, predicate, round)
}

// LowerRetention changes limits in memory only and triggers one
// rotation pass against the current accounting; it never writes to
// the store's persisted stream limits (spec.md §4.6 — "in memory
// only, not the database").
func LowerRetention(st store.Store, streamID uint32, limits *Limits, newRetainBytes int64, round RoundUp) error {
	limits.RetainBytes = newRetainBytes

	return Rotate(st, streamID, limits.RetainBytes, 0, round)
}

// DefaultRoundUp rounds up to blockSize, the common case for ext4/xfs
// 4 KiB blocks.
func DefaultRoundUp(blockSize int64) RoundUp {
	return func(bytes int64) int64 {
		if bytes <= 0 {
			return 0
		}

		return ((bytes + blockSize - 1) / blockSize) * blockSize
	}
}
