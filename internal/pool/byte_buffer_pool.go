// Package pool provides pooled growable byte buffers so that the
// sample-index encoding path in the hot per-frame loop avoids
// allocating on every call.
package pool

import "sync"

// Default and maximum sizes for the pooled buffers used while encoding
// one recording's sample index. A single recording rarely needs more
// than a few KiB of index bytes (two varints per frame), so the default
// is deliberately small; the threshold keeps a pathological recording
// from retaining an oversized buffer in the pool forever.
const (
	IndexBufferDefaultSize  = 4 * 1024  // 4KiB
	IndexBufferMaxThreshold = 64 * 1024 // 64KiB
)

// ByteBuffer is a growable byte slice with the append/grow helpers the
// index encoder needs, without the allocation overhead of bytes.Buffer's
// read-cursor bookkeeping.
type ByteBuffer struct {
	B []byte
}

// NewByteBuffer creates a new ByteBuffer with the given starting capacity.
func NewByteBuffer(defaultSize int) *ByteBuffer {
	return &ByteBuffer{B: make([]byte, 0, defaultSize)}
}

// Bytes returns the underlying byte slice.
func (bb *ByteBuffer) Bytes() []byte { return bb.B }

// Reset empties the buffer but keeps its backing array for reuse.
func (bb *ByteBuffer) Reset() { bb.B = bb.B[:0] }

// Len returns the number of bytes currently held.
func (bb *ByteBuffer) Len() int { return len(bb.B) }

// Grow ensures the buffer can accept at least n more bytes without
// reallocating.
func (bb *ByteBuffer) Grow(n int) {
	if cap(bb.B)-len(bb.B) >= n {
		return
	}

	growBy := IndexBufferDefaultSize
	if growBy < n {
		growBy = n
	}

	newBuf := make([]byte, len(bb.B), len(bb.B)+growBy)
	copy(newBuf, bb.B)
	bb.B = newBuf
}

// AppendByte appends a single byte, growing the buffer if necessary.
func (bb *ByteBuffer) AppendByte(b byte) {
	bb.Grow(1)
	bb.B = append(bb.B, b)
}

// Write implements io.Writer by appending data, growing as needed.
func (bb *ByteBuffer) Write(data []byte) (int, error) {
	bb.Grow(len(data))
	bb.B = append(bb.B, data...)

	return len(data), nil
}

// ByteBufferPool is a sync.Pool of ByteBuffers capped at maxThreshold so
// an unusually large recording doesn't bloat the pool permanently.
type ByteBufferPool struct {
	pool         sync.Pool
	maxThreshold int
}

// NewByteBufferPool creates a pool whose buffers start at defaultSize
// and are discarded, rather than recycled, once they grow past
// maxThreshold.
func NewByteBufferPool(defaultSize, maxThreshold int) *ByteBufferPool {
	return &ByteBufferPool{
		pool: sync.Pool{
			New: func() any { return NewByteBuffer(defaultSize) },
		},
		maxThreshold: maxThreshold,
	}
}

// Get retrieves a ByteBuffer from the pool.
func (p *ByteBufferPool) Get() *ByteBuffer {
	bb, _ := p.pool.Get().(*ByteBuffer)
	return bb
}

// Put returns a ByteBuffer to the pool for reuse.
func (p *ByteBufferPool) Put(bb *ByteBuffer) {
	if bb == nil {
		return
	}

	if p.maxThreshold > 0 && cap(bb.B) > p.maxThreshold {
		return
	}

	bb.Reset()
	p.pool.Put(bb)
}

var indexBufferPool = NewByteBufferPool(IndexBufferDefaultSize, IndexBufferMaxThreshold)

// GetIndexBuffer retrieves a ByteBuffer from the shared index-encoding pool.
func GetIndexBuffer() *ByteBuffer { return indexBufferPool.Get() }

// PutIndexBuffer returns a ByteBuffer to the shared index-encoding pool.
func PutIndexBuffer(bb *ByteBuffer) { indexBufferPool.Put(bb) }
