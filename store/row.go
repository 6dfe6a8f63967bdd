package store

import (
	"fmt"

	"github.com/nvrstore/recstore/recerrs"
	"github.com/nvrstore/recstore/recfmt"
	"github.com/nvrstore/recstore/recio"
)

// HeaderSize is the size of the fixed-width portion of a RecordingRow,
// mirroring section.NumericHeader's fixed-size Parse()/Bytes() pattern.
// Layout (little-endian):
//
//	0:8   CompositeId
//	8:12  OpenID
//	12:20 StartTime90k
//	20:28 Duration90k
//	28:36 SampleFileBytes
//	36:40 VideoSamples
//	40:44 VideoSyncSamples
//	44:48 VideoSampleEntryID
//	48:52 RunOffset
//	52:60 LocalTimeDelta90k
//	60:61 Flags
//	61:64 reserved
//	64:84 SampleFileSha1
//	84:92 IndexChecksum
const (
	HeaderSize      = 64
	Sha1Size        = 20
	FixedRowSize    = HeaderSize + Sha1Size + 8 // + index_checksum
	indexChecksumAt = HeaderSize + Sha1Size
)

// RecordingRow is the on-disk form of a persisted Recording (spec.md
// §3): a fixed-size prefix plus a variable-length video_index payload.
type RecordingRow struct {
	ID                 recfmt.CompositeId
	OpenID             uint32
	StartTime90k       int64
	Duration90k        int64
	SampleFileBytes    int64
	VideoSamples       uint32
	VideoSyncSamples   uint32
	VideoSampleEntryID uint32
	RunOffset          uint32
	LocalTimeDelta90k  int64
	Flags              recfmt.Flags
	SampleFileSha1     [Sha1Size]byte
	IndexChecksum      uint64
	VideoIndex         []byte
}

// Bytes serializes the row to its fixed prefix followed by VideoIndex.
func (r *RecordingRow) Bytes() []byte {
	b := make([]byte, FixedRowSize+len(r.VideoIndex))

	recio.PutUint64(b[0:8], uint64(r.ID))
	recio.PutUint32(b[8:12], r.OpenID)
	recio.PutInt64(b[12:20], r.StartTime90k)
	recio.PutInt64(b[20:28], r.Duration90k)
	recio.PutInt64(b[28:36], r.SampleFileBytes)
	recio.PutUint32(b[36:40], r.VideoSamples)
	recio.PutUint32(b[40:44], r.VideoSyncSamples)
	recio.PutUint32(b[44:48], r.VideoSampleEntryID)
	recio.PutUint32(b[48:52], r.RunOffset)
	recio.PutInt64(b[52:60], r.LocalTimeDelta90k)
	b[60] = byte(r.Flags)
	copy(b[64:84], r.SampleFileSha1[:])
	recio.PutUint64(b[indexChecksumAt:indexChecksumAt+8], r.IndexChecksum)
	copy(b[FixedRowSize:], r.VideoIndex)

	return b
}

// ParseRecordingRow parses a row previously produced by Bytes.
func ParseRecordingRow(b []byte) (RecordingRow, error) {
	if len(b) < FixedRowSize {
		return RecordingRow{}, fmt.Errorf("%w: got %d bytes, want at least %d", recerrs.ErrTruncatedRow, len(b), FixedRowSize)
	}

	var r RecordingRow
	r.ID = recfmt.CompositeId(recio.GetUint64(b[0:8]))
	r.OpenID = recio.GetUint32(b[8:12])
	r.StartTime90k = recio.GetInt64(b[12:20])
	r.Duration90k = recio.GetInt64(b[20:28])
	r.SampleFileBytes = recio.GetInt64(b[28:36])
	r.VideoSamples = recio.GetUint32(b[36:40])
	r.VideoSyncSamples = recio.GetUint32(b[40:44])
	r.VideoSampleEntryID = recio.GetUint32(b[44:48])
	r.RunOffset = recio.GetUint32(b[48:52])
	r.LocalTimeDelta90k = recio.GetInt64(b[52:60])
	r.Flags = recfmt.Flags(b[60])
	copy(r.SampleFileSha1[:], b[64:84])
	r.IndexChecksum = recio.GetUint64(b[indexChecksumAt : indexChecksumAt+8])
	r.VideoIndex = append([]byte(nil), b[FixedRowSize:]...)

	return r, nil
}
