// Package block implements the SST data/index/meta-index block format:
// prefix-compressed entries with periodic restart points, plus the
// BlockHandle (offset, size) pair used to locate a block within a file.
package block

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/encoding"
)

// MaxHandleEncodedLength is the maximum encoded length of a Handle: two
// varint64s, each up to 10 bytes.
const MaxHandleEncodedLength = 20

// Handle locates a block within an SST file.
type Handle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the encoding of h (two varints: offset, size) to dst.
func (h Handle) EncodeTo(dst []byte) []byte {
	dst = encoding.AppendVarint64(dst, h.Offset)
	dst = encoding.AppendVarint64(dst, h.Size)
	return dst
}

// DecodeHandle decodes a Handle from the front of data, returning the
// remaining bytes after it.
func DecodeHandle(data []byte) (Handle, []byte, error) {
	offset, n1, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, nil, errs.Corruption("block: bad handle offset")
	}
	data = data[n1:]
	size, n2, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, nil, errs.Corruption("block: bad handle size")
	}
	return Handle{Offset: offset, Size: size}, data[n2:], nil
}
