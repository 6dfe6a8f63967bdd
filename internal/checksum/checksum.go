// Package checksum provides the integrity helpers used to detect (but,
// per the engine's non-goal on repair, never fix) corruption of stored
// data: a fast xxHash64 checksum over a recording's sample-index bytes,
// and the SHA-1 fingerprint of a recording's sample-file content.
package checksum

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"hash"

	"github.com/cespare/xxhash/v2"
)

// IndexChecksum returns the xxHash64 of the encoded sample-index bytes.
// It is cheap enough to compute on every write and is stored alongside
// the recording row so a later read can cheaply detect silent payload
// corruption (disk bitrot, truncation) without having to decode the
// whole index.
func IndexChecksum(indexBytes []byte) uint64 {
	return xxhash.Sum64(indexBytes)
}

// VerifyIndexChecksum reports whether indexBytes still matches the
// checksum recorded when the recording was written.
func VerifyIndexChecksum(indexBytes []byte, want uint64) bool {
	return IndexChecksum(indexBytes) == want
}

// Fingerprint accumulates a running SHA-1 of all bytes written to a
// sample file, matching the `sample_file_sha1` field persisted on each
// recording row.
type Fingerprint struct {
	h hash.Hash
}

// NewFingerprint creates a Fingerprint ready to accumulate writes.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{h: sha1.New()} //nolint:gosec
}

// Write feeds p into the running hash. It never fails.
func (f *Fingerprint) Write(p []byte) {
	f.h.Write(p)
}

// Sum returns the 20-byte SHA-1 digest of everything written so far.
func (f *Fingerprint) Sum() [20]byte {
	var out [20]byte
	copy(out[:], f.h.Sum(nil))

	return out
}
