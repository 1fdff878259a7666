// Package encoding implements the low-level byte encodings shared by the
// write-ahead log, memtable entries, SST blocks, and MANIFEST records:
// fixed-width little-endian integers, varints, and length-prefixed slices.
package encoding

import (
	"encoding/binary"

	"github.com/aalhour/embedkv/errs"
)

const maxVarint32Bytes = 5
const maxVarint64Bytes = 10

// AppendFixed32 appends a little-endian uint32.
func AppendFixed32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendFixed64 appends a little-endian uint64.
func AppendFixed64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// DecodeFixed32 reads a little-endian uint32 from the front of b.
func DecodeFixed32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, errs.Corruption("encoding: short fixed32 (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

// DecodeFixed64 reads a little-endian uint64 from the front of b.
func DecodeFixed64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, errs.Corruption("encoding: short fixed64 (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// AppendVarint32 appends v as a base-128 varint (1-5 bytes).
func AppendVarint32(dst []byte, v uint32) []byte {
	return AppendVarint64(dst, uint64(v))
}

// AppendVarint64 appends v as a base-128 varint (1-10 bytes).
func AppendVarint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// VarintLength returns the number of bytes AppendVarint64 would emit for v.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// DecodeVarint32 decodes a varint and returns the value, bytes consumed,
// and an error if the input is truncated or the encoding overlong.
func DecodeVarint32(b []byte) (uint32, int, error) {
	v, n, err := DecodeVarint64(b)
	if err != nil {
		return 0, 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, 0, errs.Corruption("encoding: varint32 overflow")
	}
	return uint32(v), n, nil
}

// DecodeVarint64 decodes a varint and returns the value, bytes consumed,
// and an error if the input is truncated or the encoding overlong.
func DecodeVarint64(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		if i >= maxVarint64Bytes {
			return 0, 0, errs.Corruption("encoding: varint64 too long")
		}
		c := b[i]
		if c < 0x80 {
			result |= uint64(c) << shift
			return result, i + 1, nil
		}
		result |= uint64(c&0x7F) << shift
		shift += 7
	}
	return 0, 0, errs.Corruption("encoding: truncated varint")
}

// AppendLengthPrefixedSlice appends varint(len(v)) || v.
func AppendLengthPrefixedSlice(dst, v []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(v)))
	return append(dst, v...)
}

// DecodeLengthPrefixedSlice decodes a length-prefixed slice and returns it
// together with the remaining bytes after it.
func DecodeLengthPrefixedSlice(b []byte) (slice, rest []byte, err error) {
	n, consumed, err := DecodeVarint32(b)
	if err != nil {
		return nil, nil, err
	}
	b = b[consumed:]
	if uint32(len(b)) < n {
		return nil, nil, errs.Corruption("encoding: length-prefixed slice truncated (want %d, have %d)", n, len(b))
	}
	return b[:n], b[n:], nil
}

// Slice is a cursor over a byte buffer that advances as values are read.
// Mirrors the single-pass decode style used by VersionEdit and write-batch
// decoding, where a fixed sequence of fields is read out of one buffer.
type Slice struct {
	data []byte
}

// NewSlice wraps b in a Slice cursor.
func NewSlice(b []byte) *Slice { return &Slice{data: b} }

// Empty reports whether all bytes have been consumed.
func (s *Slice) Empty() bool { return len(s.data) == 0 }

// Remaining returns the unconsumed bytes without advancing the cursor.
func (s *Slice) Remaining() []byte { return s.data }

// GetFixed32 reads and advances past a little-endian uint32.
func (s *Slice) GetFixed32() (uint32, error) {
	v, err := DecodeFixed32(s.data)
	if err != nil {
		return 0, err
	}
	s.data = s.data[4:]
	return v, nil
}

// GetFixed64 reads and advances past a little-endian uint64.
func (s *Slice) GetFixed64() (uint64, error) {
	v, err := DecodeFixed64(s.data)
	if err != nil {
		return 0, err
	}
	s.data = s.data[8:]
	return v, nil
}

// GetVarint32 reads and advances past a varint32.
func (s *Slice) GetVarint32() (uint32, error) {
	v, n, err := DecodeVarint32(s.data)
	if err != nil {
		return 0, err
	}
	s.data = s.data[n:]
	return v, nil
}

// GetVarint64 reads and advances past a varint64.
func (s *Slice) GetVarint64() (uint64, error) {
	v, n, err := DecodeVarint64(s.data)
	if err != nil {
		return 0, err
	}
	s.data = s.data[n:]
	return v, nil
}

// GetLengthPrefixedSlice reads and advances past a length-prefixed slice.
func (s *Slice) GetLengthPrefixedSlice() ([]byte, error) {
	v, rest, err := DecodeLengthPrefixedSlice(s.data)
	if err != nil {
		return nil, err
	}
	s.data = rest
	return v, nil
}

// GetBytes reads and advances past exactly n raw bytes.
func (s *Slice) GetBytes(n int) ([]byte, error) {
	if len(s.data) < n {
		return nil, errs.Corruption("encoding: short read (want %d, have %d)", n, len(s.data))
	}
	v := s.data[:n]
	s.data = s.data[n:]
	return v, nil
}
