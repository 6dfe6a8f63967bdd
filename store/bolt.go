package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/nvrstore/recstore/internal/checksum"
	"github.com/nvrstore/recstore/internal/compress"
	"github.com/nvrstore/recstore/internal/options"
	"github.com/nvrstore/recstore/recerrs"
	"github.com/nvrstore/recstore/recfmt"
)

var (
	bucketStreams    = []byte("streams")
	bucketRecordings = []byte("recordings")
	bucketNeedUnlink = []byte("garbage_needs_unlink")
	bucketUnlinked   = []byte("garbage_unlinked")
)

// streamMeta is the per-stream bookkeeping row kept in bucketStreams:
// the next recording id to assign and the retention accounting used by
// the retention package to decide how many bytes must be reclaimed.
type streamMeta struct {
	NextRecordingID uint32
	FSBytes         int64
	FSBytesToAdd    int64
	FSBytesToDelete int64
}

const streamMetaSize = 4 + 8*3

func (m streamMeta) bytes() []byte {
	b := make([]byte, streamMetaSize)
	binary.LittleEndian.PutUint32(b[0:4], m.NextRecordingID)
	binary.LittleEndian.PutUint64(b[4:12], uint64(m.FSBytes))
	binary.LittleEndian.PutUint64(b[12:20], uint64(m.FSBytesToAdd))
	binary.LittleEndian.PutUint64(b[20:28], uint64(m.FSBytesToDelete))

	return b
}

func parseStreamMeta(b []byte) streamMeta {
	return streamMeta{
		NextRecordingID: binary.LittleEndian.Uint32(b[0:4]),
		FSBytes:         int64(binary.LittleEndian.Uint64(b[4:12])),
		FSBytesToAdd:    int64(binary.LittleEndian.Uint64(b[12:20])),
		FSBytesToDelete: int64(binary.LittleEndian.Uint64(b[20:28])),
	}
}

func streamKey(streamID uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, streamID)

	return k
}

func idKey(id recfmt.CompositeId) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))

	return k
}

// BoltStore is a Store backed by a single bbolt file, the embedded
// transactional KV store also used by the SentryShot NVR's metadata
// layer. Every mutating call runs inside one bbolt.Update transaction,
// satisfying the single-mutation-gate policy of spec.md §5.
type BoltStore struct {
	db *bbolt.DB

	mu       sync.Mutex
	onFlush  func()
	liveSubs map[uint32][]func(LiveSegment)

	codec compress.Codec
}

// Option configures a BoltStore at open time, in the style of
// internal/options' generic functional-options helper.
type Option = options.Option[*BoltStore]

// WithIndexCompression selects the Codec used to compress each row's
// video_index payload before it is written, and to decompress it on
// WithRecordingPlayback. The default, if unset, is no compression.
func WithIndexCompression(codec compress.Codec) Option {
	return options.NoError(func(s *BoltStore) { s.codec = codec })
}

// OpenBoltStore opens (creating if necessary) the bbolt file at path
// and ensures all four buckets exist.
func OpenBoltStore(path string, opts ...Option) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStreams, bucketRecordings, bucketNeedUnlink, bucketUnlinked} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt store buckets: %w", err)
	}

	noop, _ := compress.New(compress.None)

	s := &BoltStore{db: db, liveSubs: make(map[uint32][]func(LiveSegment)), codec: noop}
	if err := options.Apply(s, opts...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply bolt store options: %w", err)
	}

	return s, nil
}

func (s *BoltStore) streamMeta(tx *bbolt.Tx, streamID uint32) streamMeta {
	b := tx.Bucket(bucketStreams).Get(streamKey(streamID))
	if b == nil {
		return streamMeta{}
	}

	return parseStreamMeta(b)
}

func (s *BoltStore) putStreamMeta(tx *bbolt.Tx, streamID uint32, m streamMeta) error {
	return tx.Bucket(bucketStreams).Put(streamKey(streamID), m.bytes())
}

func (s *BoltStore) AddRecording(streamID uint32, draft Draft) (recfmt.CompositeId, error) {
	var id recfmt.CompositeId

	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := s.streamMeta(tx, streamID)
		recID := meta.NextRecordingID
		meta.NextRecordingID++

		id = recfmt.NewCompositeId(streamID, recID)

		row := RecordingRow{
			ID:                 id,
			OpenID:             draft.OpenID,
			StartTime90k:       draft.StartTime90k,
			VideoSampleEntryID: draft.VideoSampleEntryID,
			RunOffset:          draft.RunOffset,
			Flags:              recfmt.Flags(0).WithGrowing(true),
		}

		if err := tx.Bucket(bucketRecordings).Put(idKey(id), row.Bytes()); err != nil {
			return err
		}

		return s.putStreamMeta(tx, streamID, meta)
	})
	if err != nil {
		return 0, fmt.Errorf("add recording: %w", err)
	}

	return id, nil
}

func (s *BoltStore) UpdateRecording(id recfmt.CompositeId, row RecordingRow) error {
	row.ID = id
	// IndexChecksum is always derived from the uncompressed bytes being
	// stored, never trusted from the caller, so a later
	// WithRecordingPlayback verification can't be defeated by a stale or
	// absent caller-supplied checksum.
	row.IndexChecksum = checksum.IndexChecksum(row.VideoIndex)

	compressed, err := s.codec.Compress(row.VideoIndex)
	if err != nil {
		return fmt.Errorf("update recording %s: compress index: %w", id, err)
	}

	row.VideoIndex = compressed

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRecordings).Put(idKey(id), row.Bytes()); err != nil {
			return err
		}

		streamID := id.StreamId()
		meta := s.streamMeta(tx, streamID)
		meta.FSBytesToAdd += row.SampleFileBytes

		return s.putStreamMeta(tx, streamID, meta)
	})
	if err != nil {
		return fmt.Errorf("update recording %s: %w", id, err)
	}

	return nil
}

func (s *BoltStore) MarkSynced(id recfmt.CompositeId) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecordings)

		raw := b.Get(idKey(id))
		if raw == nil {
			return fmt.Errorf("mark synced: recording %s not found", id)
		}

		row, err := ParseRecordingRow(raw)
		if err != nil {
			return err
		}

		row.Flags = row.Flags.WithGrowing(false)

		if err := b.Put(idKey(id), row.Bytes()); err != nil {
			return err
		}

		streamID := id.StreamId()
		meta := s.streamMeta(tx, streamID)
		meta.FSBytes += meta.FSBytesToAdd
		meta.FSBytesToAdd = 0

		return s.putStreamMeta(tx, streamID, meta)
	})
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	return nil
}

func (s *BoltStore) DeleteOldestRecordings(streamID uint32, predicate func(row RecordingRow) bool, round func(bytes int64) int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		recs := tx.Bucket(bucketRecordings)
		needUnlink := tx.Bucket(bucketNeedUnlink)

		c := recs.Cursor()
		prefix := streamKey(streamID)

		type garbageEntry struct {
			key          []byte
			sampleBytes  int64
			roundedBytes int64
		}

		var toDelete []garbageEntry

		for k, v := c.Seek(prefix); k != nil && len(k) == 8 && idBelongsToStream(k, streamID); k, v = c.Next() {
			row, err := ParseRecordingRow(v)
			if err != nil {
				return err
			}

			if !predicate(row) {
				break
			}

			toDelete = append(toDelete, garbageEntry{
				key:          append([]byte(nil), k...),
				sampleBytes:  row.SampleFileBytes,
				roundedBytes: round(row.SampleFileBytes),
			})
		}

		if len(toDelete) == 0 {
			return nil
		}

		meta := s.streamMeta(tx, streamID)

		for _, g := range toDelete {
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], uint64(g.roundedBytes))

			if err := needUnlink.Put(g.key, v[:]); err != nil {
				return err
			}

			if err := recs.Delete(g.key); err != nil {
				return err
			}

			meta.FSBytes -= g.sampleBytes
			meta.FSBytesToDelete += g.roundedBytes
		}

		return s.putStreamMeta(tx, streamID, meta)
	})
	if err != nil {
		return fmt.Errorf("delete oldest recordings: %w", err)
	}

	return nil
}

func idBelongsToStream(key []byte, streamID uint32) bool {
	return binary.BigEndian.Uint32(key[0:4]) == streamID
}

func (s *BoltStore) DeleteGarbage(dirID uint32, ids []recfmt.CompositeId) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		needUnlink := tx.Bucket(bucketNeedUnlink)
		unlinked := tx.Bucket(bucketUnlinked)

		metaCache := make(map[uint32]streamMeta)

		for _, id := range ids {
			k := idKey(id)

			streamID := id.StreamId()

			meta, ok := metaCache[streamID]
			if !ok {
				meta = s.streamMeta(tx, streamID)
			}

			if v := needUnlink.Get(k); v != nil && len(v) == 8 {
				meta.FSBytesToDelete -= int64(binary.LittleEndian.Uint64(v))
			}

			metaCache[streamID] = meta

			if err := needUnlink.Delete(k); err != nil {
				return err
			}

			if err := unlinked.Put(k, k); err != nil {
				return err
			}
		}

		for streamID, meta := range metaCache {
			if err := s.putStreamMeta(tx, streamID, meta); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete garbage: %w", err)
	}

	return nil
}

// AccountingSnapshot returns streamID's current retention accounting.
func (s *BoltStore) AccountingSnapshot(streamID uint32) (fsBytes, fsBytesToAdd, fsBytesToDelete int64, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		meta := s.streamMeta(tx, streamID)
		fsBytes, fsBytesToAdd, fsBytesToDelete = meta.FSBytes, meta.FSBytesToAdd, meta.FSBytesToDelete

		return nil
	})

	return fsBytes, fsBytesToAdd, fsBytesToDelete, err
}

func (s *BoltStore) Flush(reason string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStreams).Put([]byte("_last_flush_reason"), []byte(reason))
	})
	if err != nil {
		return fmt.Errorf("flush (%s): %w", reason, err)
	}

	s.mu.Lock()
	cb := s.onFlush
	s.mu.Unlock()

	if cb != nil {
		cb()
	}

	return nil
}

func (s *BoltStore) OnFlush(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFlush = cb
}

func (s *BoltStore) ClearOnFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFlush = nil
}

func (s *BoltStore) SendLiveSegment(streamID uint32, seg LiveSegment) {
	s.mu.Lock()
	subs := append([]func(LiveSegment){}, s.liveSubs[streamID]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(seg)
	}
}

// SubscribeLiveSegments registers cb to receive every SendLiveSegment
// broadcast for streamID. Used by playback-side consumers.
func (s *BoltStore) SubscribeLiveSegments(streamID uint32, cb func(LiveSegment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveSubs[streamID] = append(s.liveSubs[streamID], cb)
}

func (s *BoltStore) WithRecordingPlayback(id recfmt.CompositeId, cb func(row RecordingRow) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketRecordings).Get(idKey(id))
		if raw == nil {
			return fmt.Errorf("recording %s not found", id)
		}

		row, err := ParseRecordingRow(raw)
		if err != nil {
			return err
		}

		row.VideoIndex, err = s.codec.Decompress(row.VideoIndex)
		if err != nil {
			return fmt.Errorf("recording %s: decompress index: %w", id, err)
		}

		if !checksum.VerifyIndexChecksum(row.VideoIndex, row.IndexChecksum) {
			return fmt.Errorf("recording %s: %w", id, recerrs.ErrIndexChecksumMismatch)
		}

		return cb(row)
	})
}

func (s *BoltStore) NextRecordingID(streamID uint32) (uint32, error) {
	var next uint32

	err := s.db.View(func(tx *bbolt.Tx) error {
		next = s.streamMeta(tx, streamID).NextRecordingID
		return nil
	})

	return next, err
}

// GarbageNeedsUnlink returns the garbage_needs_unlink ids whose stream
// id equals dirID. BoltStore keeps no directory-to-stream table, so
// garbage of a stream whose id differs from dirID is not listed.
func (s *BoltStore) GarbageNeedsUnlink(dirID uint32) ([]recfmt.CompositeId, error) {
	var ids []recfmt.CompositeId

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNeedUnlink).ForEach(func(k, _ []byte) error {
			if len(k) != 8 {
				return nil
			}

			if !idBelongsToStream(k, dirID) {
				return nil
			}

			ids = append(ids, recfmt.CompositeId(binary.BigEndian.Uint64(k)))

			return nil
		})
	})

	return ids, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
