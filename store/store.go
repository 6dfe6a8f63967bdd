// Package store implements the metadata-store contract (spec.md §6):
// the single mutation gate guarding recording rows, garbage lists, and
// the per-stream next-recording-id counter, plus the on-flush
// notification hook the Syncer uses to self-notify.
package store

import "github.com/nvrstore/recstore/recfmt"

// Draft is the in-memory shape of a recording while it is being
// written (spec.md's RecordingToInsert), as handed to AddRecording.
type Draft struct {
	OpenID             uint32
	StartTime90k       int64
	VideoSampleEntryID uint32
	RunOffset          uint32
}

// LiveSegment is a newly-finalized, key-frame-delimited byte range
// within a still-open recording, broadcast to playback consumers.
type LiveSegment struct {
	Recording  recfmt.CompositeId
	Off90kFrom int64
	Off90kTo   int64
}

// Store is the metadata-store contract consumed by writer, syncer and
// retention (spec.md §6). Implementations must serialize all mutating
// calls behind one lock ("database lock", spec.md §5).
type Store interface {
	// AddRecording assigns the next recording id for streamID and
	// persists a Growing row built from draft.
	AddRecording(streamID uint32, draft Draft) (recfmt.CompositeId, error)

	// UpdateRecording overwrites the row for id with row's contents.
	// Used by the Writer once per recording, at Close, to persist the
	// finalized index/bytes/counts.
	UpdateRecording(id recfmt.CompositeId, row RecordingRow) error

	// MarkSynced clears the Growing flag and moves fs_bytes_to_add into
	// fs_bytes for id's stream.
	MarkSynced(id recfmt.CompositeId) error

	// DeleteOldestRecordings iterates streamID's recordings oldest to
	// newest, invoking predicate per row; predicate returns whether to
	// keep going. Selected rows move to the garbage_needs_unlink list,
	// and round(row.SampleFileBytes) is added to fs_bytes_to_delete so
	// a later AccountingSnapshot reflects space already earmarked for
	// reclaim.
	DeleteOldestRecordings(streamID uint32, predicate func(row RecordingRow) bool, round func(bytes int64) int64) error

	// DeleteGarbage removes ids from garbage_needs_unlink and appends
	// them to garbage_unlinked (the row itself is already gone),
	// subtracting each id's previously-rounded size back out of
	// fs_bytes_to_delete.
	DeleteGarbage(dirID uint32, ids []recfmt.CompositeId) error

	// AccountingSnapshot returns the current retention accounting for
	// streamID: durable bytes, bytes pending sync, and bytes already
	// earmarked for deletion but not yet reclaimed.
	AccountingSnapshot(streamID uint32) (fsBytes, fsBytesToAdd, fsBytesToDelete int64, err error)

	// Flush commits all pending changes and synchronously invokes the
	// registered on-flush callback, if any.
	Flush(reason string) error

	// OnFlush registers cb to run synchronously at the end of every
	// successful Flush. A second call replaces the prior callback.
	OnFlush(cb func())

	// ClearOnFlush deregisters the on-flush callback.
	ClearOnFlush()

	// SendLiveSegment broadcasts seg to playback consumers of streamID.
	SendLiveSegment(streamID uint32, seg LiveSegment)

	// WithRecordingPlayback invokes cb with the row for id, giving the
	// caller read access to the immutable VideoIndex bytes.
	WithRecordingPlayback(id recfmt.CompositeId, cb func(row RecordingRow) error) error

	// NextRecordingID returns the next id to be assigned for streamID,
	// used by the Syncer's startup abandoned-file scan.
	NextRecordingID(streamID uint32) (uint32, error)

	// GarbageNeedsUnlink lists ids in dirID's directory whose row is
	// gone but whose file may still exist on disk.
	GarbageNeedsUnlink(dirID uint32) ([]recfmt.CompositeId, error)

	Close() error
}
