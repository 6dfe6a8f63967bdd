// Package recio provides the fixed-width little-endian put/get helpers
// used to encode recording rows to and from their on-disk byte form.
// Unlike the teacher's endian package, a store file is only ever read
// by the process version that wrote it, so there is no need for a
// pluggable or big-endian engine; little-endian matches the host and
// keeps the encode/decode pairs trivial.
package recio

import "encoding/binary"

func PutUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func PutUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func PutInt32(b []byte, v int32)   { binary.LittleEndian.PutUint32(b, uint32(v)) }
func PutInt64(b []byte, v int64)   { binary.LittleEndian.PutUint64(b, uint64(v)) }

func GetUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func GetUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func GetInt32(b []byte) int32   { return int32(binary.LittleEndian.Uint32(b)) }
func GetInt64(b []byte) int64   { return int64(binary.LittleEndian.Uint64(b)) }
