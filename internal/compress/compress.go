// Package compress implements the block compressors selectable via
// Options.Compression: none, Snappy, Zstd, and LZ4. The table builder
// tries compression per block and keeps it only if the result shrinks by
// at least 1/8; the 1-byte block trailer tag records which codec (if
// any) was used so the reader can invert it.
package compress

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/aalhour/embedkv/internal/encoding"
)

// Type identifies a block's compression codec, persisted as the 1-byte
// trailer tag on every stored block.
type Type byte

const (
	None   Type = 0
	Snappy Type = 1
	Zstd   Type = 2
	LZ4    Type = 3
)

// Encode compresses src with the codec identified by t. None returns src
// unchanged. The LZ4 raw block format needs the uncompressed length to
// decompress, so its payload is varint(len(src)) || compressed bytes;
// Snappy and Zstd are self-describing and need no extra framing.
func Encode(t Type, src []byte) ([]byte, error) {
	switch t {
	case None:
		return src, nil
	case Snappy:
		return snappy.Encode(nil, src), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(src, nil)
		enc.Close()
		return out, nil
	case LZ4:
		out := make([]byte, lz4.CompressBlockBound(len(src)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(src, out)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible input: lz4 reports 0 when it cannot beat a
			// literal copy. The caller's shrink-threshold check will
			// reject this attempt and fall back to None.
			return nil, fmt.Errorf("compress: lz4 block incompressible")
		}
		payload := encoding.AppendVarint64(nil, uint64(len(src)))
		return append(payload, out[:n]...), nil
	default:
		return nil, fmt.Errorf("compress: unknown type %d", t)
	}
}

// Decode decompresses src, which was compressed with codec t.
func Decode(t Type, src []byte) ([]byte, error) {
	switch t {
	case None:
		return src, nil
	case Snappy:
		return snappy.Decode(nil, src)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(src, nil)
	case LZ4:
		decodedLen, n, err := encoding.DecodeVarint64(src)
		if err != nil {
			return nil, err
		}
		dst := make([]byte, decodedLen)
		written, err := lz4.UncompressBlock(src[n:], dst)
		if err != nil {
			return nil, err
		}
		return dst[:written], nil
	default:
		return nil, fmt.Errorf("compress: unknown type %d", t)
	}
}
