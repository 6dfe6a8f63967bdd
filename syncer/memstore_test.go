package syncer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nvrstore/recstore/recfmt"
	"github.com/nvrstore/recstore/store"
)

// memStore is a minimal in-memory store.Store used to exercise the
// Syncer without a real bbolt file, mirroring the teacher's habit of
// hand-rolled in-memory fakes for package-internal tests.
type memStore struct {
	mu sync.Mutex

	nextID      map[uint32]uint32
	rows        map[recfmt.CompositeId]store.RecordingRow
	needUnlink  map[recfmt.CompositeId]int64
	unlinked    map[recfmt.CompositeId]bool
	fsBytes     map[uint32]int64
	fsToAdd     map[uint32]int64
	fsToDelete  map[uint32]int64
	onFlush     func()
	flushCount  int
	flushErr    error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:     make(map[uint32]uint32),
		rows:       make(map[recfmt.CompositeId]store.RecordingRow),
		needUnlink: make(map[recfmt.CompositeId]int64),
		unlinked:   make(map[recfmt.CompositeId]bool),
		fsBytes:    make(map[uint32]int64),
		fsToAdd:    make(map[uint32]int64),
		fsToDelete: make(map[uint32]int64),
	}
}

func (m *memStore) AddRecording(streamID uint32, draft store.Draft) (recfmt.CompositeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recID := m.nextID[streamID]
	m.nextID[streamID] = recID + 1

	id := recfmt.NewCompositeId(streamID, recID)
	m.rows[id] = store.RecordingRow{
		ID:                 id,
		OpenID:             draft.OpenID,
		StartTime90k:       draft.StartTime90k,
		VideoSampleEntryID: draft.VideoSampleEntryID,
		RunOffset:          draft.RunOffset,
		Flags:              recfmt.Flags(0).WithGrowing(true),
	}

	return id, nil
}

func (m *memStore) UpdateRecording(id recfmt.CompositeId, row store.RecordingRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row.ID = id
	m.rows[id] = row
	m.fsToAdd[id.StreamId()] += row.SampleFileBytes

	return nil
}

func (m *memStore) MarkSynced(id recfmt.CompositeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("mark synced: %s not found", id)
	}

	row.Flags = row.Flags.WithGrowing(false)
	m.rows[id] = row

	streamID := id.StreamId()
	m.fsBytes[streamID] += m.fsToAdd[streamID]
	m.fsToAdd[streamID] = 0

	return nil
}

func (m *memStore) DeleteOldestRecordings(streamID uint32, predicate func(store.RecordingRow) bool, round func(int64) int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []recfmt.CompositeId

	for id := range m.rows {
		if id.StreamId() == streamID {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		row := m.rows[id]
		if !predicate(row) {
			break
		}

		rounded := round(row.SampleFileBytes)
		m.needUnlink[id] = rounded
		m.fsBytes[streamID] -= row.SampleFileBytes
		m.fsToDelete[streamID] += rounded
		delete(m.rows, id)
	}

	return nil
}

func (m *memStore) DeleteGarbage(dirID uint32, ids []recfmt.CompositeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if rounded, ok := m.needUnlink[id]; ok {
			m.fsToDelete[id.StreamId()] -= rounded
			delete(m.needUnlink, id)
		}

		m.unlinked[id] = true
	}

	return nil
}

func (m *memStore) AccountingSnapshot(streamID uint32) (int64, int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsBytes[streamID], m.fsToAdd[streamID], m.fsToDelete[streamID], nil
}

func (m *memStore) Flush(reason string) error {
	m.mu.Lock()
	if m.flushErr != nil {
		err := m.flushErr
		m.mu.Unlock()

		return err
	}

	m.flushCount++
	cb := m.onFlush
	m.mu.Unlock()

	if cb != nil {
		cb()
	}

	return nil
}

func (m *memStore) OnFlush(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFlush = cb
}

func (m *memStore) ClearOnFlush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFlush = nil
}

func (m *memStore) SendLiveSegment(uint32, store.LiveSegment) {}

func (m *memStore) WithRecordingPlayback(id recfmt.CompositeId, cb func(store.RecordingRow) error) error {
	m.mu.Lock()
	row, ok := m.rows[id]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("recording %s not found", id)
	}

	return cb(row)
}

func (m *memStore) NextRecordingID(streamID uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nextID[streamID], nil
}

func (m *memStore) GarbageNeedsUnlink(dirID uint32) ([]recfmt.CompositeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]recfmt.CompositeId, 0, len(m.needUnlink))
	for id := range m.needUnlink {
		ids = append(ids, id)
	}

	return ids, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushCount
}

var _ store.Store = (*memStore)(nil)
