// Package compress provides pluggable compression for the on-disk
// sample-index payload. Index bytes are already a dense varint/zigzag
// encoding, so compression is optional per store and chosen once at
// open time; it never touches the sample file itself, which already
// holds compressed video.
package compress

import "fmt"

// Algorithm identifies which Codec to use for a store's index payloads.
type Algorithm uint8

const (
	// None stores index bytes as-is.
	None Algorithm = iota
	// Zstd uses klauspost/compress's pure-Go zstd implementation.
	Zstd
	// S2 uses klauspost/compress/s2, a fast Snappy derivative.
	S2
	// LZ4 uses pierrec/lz4, favoring decompression speed.
	LZ4
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Codec compresses and decompresses index payloads.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the Codec for the given algorithm.
func New(a Algorithm) (Codec, error) {
	switch a {
	case None:
		return noopCodec{}, nil
	case Zstd:
		return zstdCodec{}, nil
	case S2:
		return s2Codec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unsupported index compression algorithm: %d", a)
	}
}
