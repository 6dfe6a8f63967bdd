package compress

// noopCodec bypasses compression entirely; useful for small indexes
// where the varint/zigzag encoding already dominates the savings and
// compression overhead isn't worth paying.
type noopCodec struct{}

func (noopCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noopCodec) Decompress(data []byte) ([]byte, error) { return data, nil }
