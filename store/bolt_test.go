package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/nvrstore/recstore/internal/compress"
	"github.com/nvrstore/recstore/recerrs"
	"github.com/nvrstore/recstore/recfmt"
)

func openTestStore(t *testing.T, opts ...Option) *BoltStore {
	t.Helper()

	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestAddUpdateMarkSyncedAccounting(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AddRecording(1, Draft{OpenID: 0, StartTime90k: 1000, VideoSampleEntryID: 7, RunOffset: 0})
	require.NoError(t, err)
	require.Equal(t, recfmt.NewCompositeId(1, 0), id)

	next, err := s.NextRecordingID(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), next)

	row := RecordingRow{
		ID:              id,
		Duration90k:     9000,
		SampleFileBytes: 12345,
		VideoSamples:    3,
		VideoIndex:      []byte{1, 2, 3, 4, 5},
	}
	require.NoError(t, s.UpdateRecording(id, row))

	fsBytes, fsToAdd, fsToDelete, err := s.AccountingSnapshot(1)
	require.NoError(t, err)
	require.Equal(t, int64(0), fsBytes)
	require.Equal(t, int64(12345), fsToAdd)
	require.Equal(t, int64(0), fsToDelete)

	require.NoError(t, s.MarkSynced(id))

	fsBytes, fsToAdd, fsToDelete, err = s.AccountingSnapshot(1)
	require.NoError(t, err)
	require.Equal(t, int64(12345), fsBytes)
	require.Equal(t, int64(0), fsToAdd)
	require.Equal(t, int64(0), fsToDelete)

	var seen RecordingRow
	require.NoError(t, s.WithRecordingPlayback(id, func(r RecordingRow) error {
		seen = r
		return nil
	}))
	require.False(t, seen.Flags.HasGrowing())
	require.Equal(t, []byte{1, 2, 3, 4, 5}, seen.VideoIndex)
}

func TestDeleteOldestRecordingsAndGarbageRoundTrip(t *testing.T) {
	s := openTestStore(t)

	var ids []recfmt.CompositeId
	for range 3 {
		id, err := s.AddRecording(1, Draft{})
		require.NoError(t, err)

		require.NoError(t, s.UpdateRecording(id, RecordingRow{ID: id, SampleFileBytes: 1000}))
		require.NoError(t, s.MarkSynced(id))

		ids = append(ids, id)
	}

	fsBytes, _, _, err := s.AccountingSnapshot(1)
	require.NoError(t, err)
	require.Equal(t, int64(3000), fsBytes)

	deleted := 0
	round := func(b int64) int64 { return b }

	require.NoError(t, s.DeleteOldestRecordings(1, func(RecordingRow) bool {
		deleted++
		return deleted <= 2
	}, round))

	fsBytes, _, fsToDelete, err := s.AccountingSnapshot(1)
	require.NoError(t, err)
	require.Equal(t, int64(1000), fsBytes)
	require.Equal(t, int64(2000), fsToDelete)

	garbage, err := s.GarbageNeedsUnlink(1)
	require.NoError(t, err)
	require.ElementsMatch(t, ids[:2], garbage)

	// The surviving recording must still be readable.
	require.NoError(t, s.WithRecordingPlayback(ids[2], func(RecordingRow) error { return nil }))

	require.NoError(t, s.DeleteGarbage(1, garbage))

	_, _, fsToDelete, err = s.AccountingSnapshot(1)
	require.NoError(t, err)
	require.Equal(t, int64(0), fsToDelete)

	remaining, err := s.GarbageNeedsUnlink(1)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestFlushInvokesOnFlushCallback(t *testing.T) {
	s := openTestStore(t)

	fired := 0
	s.OnFlush(func() { fired++ })

	require.NoError(t, s.Flush("test"))
	require.Equal(t, 1, fired)

	s.ClearOnFlush()
	require.NoError(t, s.Flush("test again"))
	require.Equal(t, 1, fired)
}

func TestLiveSegmentBroadcastsToSubscribers(t *testing.T) {
	s := openTestStore(t)

	var got []LiveSegment
	s.SubscribeLiveSegments(1, func(seg LiveSegment) { got = append(got, seg) })

	seg := LiveSegment{Recording: recfmt.NewCompositeId(1, 0), Off90kFrom: 0, Off90kTo: 3000}
	s.SendLiveSegment(1, seg)
	s.SendLiveSegment(2, LiveSegment{}) // different stream, no subscribers

	require.Equal(t, []LiveSegment{seg}, got)
}

func TestIndexCompressionRoundTrip(t *testing.T) {
	codec, err := compress.New(compress.Zstd)
	require.NoError(t, err)

	s := openTestStore(t, WithIndexCompression(codec))

	id, err := s.AddRecording(1, Draft{})
	require.NoError(t, err)

	original := make([]byte, 0, 256)
	for i := range 256 {
		original = append(original, byte(i))
	}

	require.NoError(t, s.UpdateRecording(id, RecordingRow{ID: id, VideoIndex: original}))

	var seen []byte
	require.NoError(t, s.WithRecordingPlayback(id, func(r RecordingRow) error {
		seen = r.VideoIndex
		return nil
	}))
	require.Equal(t, original, seen)
}

func TestWithRecordingPlaybackMissingRow(t *testing.T) {
	s := openTestStore(t)

	err := s.WithRecordingPlayback(recfmt.NewCompositeId(9, 9), func(RecordingRow) error { return nil })
	require.Error(t, err)
}

// TestWithRecordingPlaybackDetectsChecksumCorruption exercises spec.md
// §7's corruption taxonomy: corruption is reported, never silently
// repaired. UpdateRecording always derives IndexChecksum itself, so the
// only way to produce a mismatch is to tamper with the stored bytes
// directly, as a bitrot event would.
func TestWithRecordingPlaybackDetectsChecksumCorruption(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AddRecording(1, Draft{})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRecording(id, RecordingRow{ID: id, VideoIndex: []byte{1, 2, 3}}))

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecordings)

		row, perr := ParseRecordingRow(b.Get(idKey(id)))
		require.NoError(t, perr)

		row.VideoIndex[0] ^= 0xff

		return b.Put(idKey(id), row.Bytes())
	})
	require.NoError(t, err)

	err = s.WithRecordingPlayback(id, func(RecordingRow) error { return nil })
	require.ErrorIs(t, err, recerrs.ErrIndexChecksumMismatch)
}
