package writer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvrstore/recstore/clock"
	"github.com/nvrstore/recstore/dir"
	"github.com/nvrstore/recstore/recerrs"
	"github.com/nvrstore/recstore/recfmt"
	"github.com/nvrstore/recstore/store"
)

type fakeStore struct {
	store.Store

	nextID  uint32
	rows    map[recfmt.CompositeId]store.RecordingRow
	drafts  []store.Draft
	live    []store.LiveSegment
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[recfmt.CompositeId]store.RecordingRow)}
}

func (f *fakeStore) AddRecording(streamID uint32, draft store.Draft) (recfmt.CompositeId, error) {
	id := recfmt.NewCompositeId(streamID, f.nextID)
	f.nextID++
	f.drafts = append(f.drafts, draft)

	return id, nil
}

func (f *fakeStore) UpdateRecording(id recfmt.CompositeId, row store.RecordingRow) error {
	f.rows[id] = row
	return nil
}

func (f *fakeStore) SendLiveSegment(_ uint32, seg store.LiveSegment) {
	f.live = append(f.live, seg)
}

type fakeSyncer struct {
	calls []struct {
		id       recfmt.CompositeId
		duration int64
	}
}

func (s *fakeSyncer) AsyncSaveRecording(id recfmt.CompositeId, totalDuration90k int64, f *os.File) {
	s.calls = append(s.calls, struct {
		id       recfmt.CompositeId
		duration int64
	}{id, totalDuration90k})
	_ = f.Close()
}

func newTestWriter(t *testing.T) (*Writer, *fakeStore, *fakeSyncer) {
	t.Helper()

	d, err := dir.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	fs := newFakeStore()
	sync := &fakeSyncer{}

	w := New(Config{
		StreamID:           1,
		VideoSampleEntryID: 7,
		Store:              fs,
		Dir:                d,
		Clocks:             clock.Real{},
		Syncer:             sync,
	})

	return w, fs, sync
}

func TestWriterWriteAndCloseProducesRow(t *testing.T) {
	w, fs, sync := newTestWriter(t)

	require.NoError(t, w.Write([]byte("keyframe"), 1000, 1000, true))
	require.NoError(t, w.Write([]byte("p1"), 4000, 4000, false))
	require.NoError(t, w.Write([]byte("p2"), 7000, 7000, false))

	next := int64(10000)
	require.NoError(t, w.Close(&next))

	require.Len(t, fs.rows, 1)
	require.Len(t, sync.calls, 1)

	var row store.RecordingRow
	for _, r := range fs.rows {
		row = r
	}

	require.Equal(t, uint32(3), row.VideoSamples)
	require.Equal(t, uint32(1), row.VideoSyncSamples)
	require.Equal(t, int64(9000), row.Duration90k) // (4000-1000)+(7000-4000)+(10000-7000)
	require.Equal(t, int64(len("keyframe")+len("p1")+len("p2")), row.SampleFileBytes)
	require.False(t, row.Flags.HasTrailingZero())
	require.Equal(t, sync.calls[0].duration, row.Duration90k)
}

func TestWriterCloseWithoutNextPtsSetsTrailingZero(t *testing.T) {
	w, fs, _ := newTestWriter(t)

	require.NoError(t, w.Write([]byte("k"), 0, 0, true))
	require.NoError(t, w.Close(nil))

	for _, r := range fs.rows {
		require.True(t, r.Flags.HasTrailingZero())
		require.Equal(t, int64(0), r.Duration90k)
	}
}

func TestWriterRejectsNonMonotonicPts(t *testing.T) {
	w, _, _ := newTestWriter(t)

	require.NoError(t, w.Write([]byte("k"), 0, 1000, true))
	err := w.Write([]byte("p"), 500, 500, false)
	require.ErrorIs(t, err, recerrs.ErrNonMonotonicPts)
}

func TestWriterCloseOnUnopenedWriterIsNoop(t *testing.T) {
	w, fs, sync := newTestWriter(t)

	require.NoError(t, w.Close(nil))
	require.Empty(t, fs.rows)
	require.Empty(t, sync.calls)
}

func TestWriterEmitsLiveSegmentOnKeyFrame(t *testing.T) {
	w, fs, _ := newTestWriter(t)

	require.NoError(t, w.Write([]byte("k1"), 0, 0, true))
	require.NoError(t, w.Write([]byte("p1"), 3000, 3000, false))
	require.NoError(t, w.Write([]byte("k2"), 6000, 6000, true))

	require.Len(t, fs.live, 1, "live segment emitted when the second key frame's predecessor is finalized")
	require.Equal(t, int64(0), fs.live[0].Off90kFrom)
	require.Equal(t, int64(6000), fs.live[0].Off90kTo)

	next := int64(9000)
	require.NoError(t, w.Close(&next))
	require.Len(t, fs.live, 2, "Close emits a final live segment for the trailing span")
}

func TestWriterNewRunStartsAtOffsetZero(t *testing.T) {
	w, fs, _ := newTestWriter(t)

	require.NoError(t, w.Write([]byte("k"), 0, 0, true))
	next := int64(3000)
	require.NoError(t, w.Close(&next))

	require.NoError(t, w.Write([]byte("k2"), 3000, 3000, true))
	next2 := int64(6000)
	require.NoError(t, w.Close(&next2))

	require.Equal(t, uint32(0), fs.drafts[0].RunOffset)
	require.Equal(t, uint32(1), fs.drafts[1].RunOffset)

	w.ResetRun()
	require.NoError(t, w.Write([]byte("k3"), 20000, 20000, true))
	next3 := int64(23000)
	require.NoError(t, w.Close(&next3))
	require.Equal(t, uint32(0), fs.drafts[2].RunOffset)
}
