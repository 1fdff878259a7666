// Package table implements the SST file format: a sequence of
// prefix-compressed data blocks, an optional filter meta block, a
// meta-index block, an index block, and a fixed-size footer.
package table

import (
	"encoding/binary"

	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/block"
	"github.com/aalhour/embedkv/internal/compress"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/filter"
	"github.com/aalhour/embedkv/internal/vfs"
)

// blockTrailerSize is the 1-byte compression tag plus 4-byte CRC32C that
// follows every stored block.
const blockTrailerSize = 5

// Options configures a Builder.
type Options struct {
	BlockSize            int
	BlockRestartInterval int
	Compression          compress.Type
	FilterPolicy         filter.Policy // nil disables the filter block
	Comparator           *dbformat.InternalKeyComparator
}

// Builder streams (internal_key, value) pairs, in increasing key order,
// into one SST file.
type Builder struct {
	opts Options
	file vfs.WritableFile

	dataBlock  *block.Builder
	indexBlock *block.Builder
	filterBlk  *filter.BlockBuilder

	offset int64

	lastKey       []byte
	numEntries    int
	pendingHandle block.Handle
	havePending   bool
	closed        bool
}

// NewBuilder creates a Builder writing to file.
func NewBuilder(opts Options, file vfs.WritableFile) *Builder {
	b := &Builder{
		opts:       opts,
		file:       file,
		dataBlock:  block.NewBuilder(opts.BlockRestartInterval),
		indexBlock: block.NewBuilder(1), // index blocks never delta-encode separators
	}
	if opts.FilterPolicy != nil {
		b.filterBlk = filter.NewBlockBuilder(opts.FilterPolicy)
		b.filterBlk.StartBlock(0)
	}
	return b
}

// Add appends one entry. REQUIRES: key > every previously added key.
func (b *Builder) Add(key, value []byte) error {
	if b.numEntries > 0 && b.opts.Comparator.Compare(b.lastKey, key) >= 0 {
		return errs.InvalidArgument("table: keys added out of order")
	}
	if b.havePending {
		sep := b.opts.Comparator.FindShortestSeparator(b.lastKey, key)
		b.indexBlock.Add(sep, b.pendingHandle.EncodeTo(nil))
		b.havePending = false
	}
	if b.filterBlk != nil {
		b.filterBlk.AddKey(dbformat.ExtractUserKey(key))
	}

	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++
	b.dataBlock.Add(key, value)

	if b.dataBlock.CurrentSizeEstimate() >= b.opts.BlockSize {
		return b.finishDataBlock()
	}
	return nil
}

func (b *Builder) finishDataBlock() error {
	if b.dataBlock.Empty() {
		return nil
	}
	handle, err := b.writeBlock(b.dataBlock.Finish())
	if err != nil {
		return err
	}
	b.dataBlock.Reset()
	b.pendingHandle = handle
	b.havePending = true
	if b.filterBlk != nil {
		b.filterBlk.StartBlock(uint64(b.offset))
	}
	return nil
}

// writeBlock compresses raw per opts.Compression (keeping the result only
// if it shrinks the block by at least 1/8), appends the trailer, writes
// it out, and returns its Handle.
func (b *Builder) writeBlock(raw []byte) (block.Handle, error) {
	ctype := b.opts.Compression
	payload := raw
	if ctype != compress.None {
		compressed, err := compress.Encode(ctype, raw)
		if err == nil && len(compressed) < len(raw)-len(raw)/8 {
			payload = compressed
		} else {
			ctype = compress.None
		}
	}

	trailer := make([]byte, blockTrailerSize)
	trailer[0] = byte(ctype)
	crc := crc32cBlock(payload, byte(ctype))
	binary.LittleEndian.PutUint32(trailer[1:], crc)

	handle := block.Handle{Offset: uint64(b.offset), Size: uint64(len(payload))}
	if _, err := b.file.Append(payload); err != nil {
		return block.Handle{}, err
	}
	if _, err := b.file.Append(trailer); err != nil {
		return block.Handle{}, err
	}
	b.offset += int64(len(payload) + blockTrailerSize)
	return handle, nil
}

// Finish flushes the final data block, writes the filter, meta-index,
// and index blocks, then the footer.
func (b *Builder) Finish() error {
	if err := b.finishDataBlock(); err != nil {
		return err
	}
	if b.havePending {
		successor := b.opts.Comparator.FindShortestSuccessor(b.lastKey)
		b.indexBlock.Add(successor, b.pendingHandle.EncodeTo(nil))
		b.havePending = false
	}

	var filterHandle block.Handle
	haveFilter := b.filterBlk != nil
	if haveFilter {
		h, err := b.writeBlock(b.filterBlk.Finish())
		if err != nil {
			return err
		}
		filterHandle = h
	}

	metaIndexBlock := block.NewBuilder(1)
	if haveFilter {
		metaKey := "filter." + b.opts.FilterPolicy.Name()
		metaIndexBlock.Add([]byte(metaKey), filterHandle.EncodeTo(nil))
	}
	metaIndexHandle, err := b.writeBlock(metaIndexBlock.Finish())
	if err != nil {
		return err
	}

	indexHandle, err := b.writeBlock(b.indexBlock.Finish())
	if err != nil {
		return err
	}

	footer := block.Footer{MetaIndexHandle: metaIndexHandle, IndexHandle: indexHandle}
	if _, err := b.file.Append(footer.EncodeTo()); err != nil {
		return err
	}
	b.offset += int64(block.FooterEncodedLength)
	b.closed = true
	return b.file.Flush()
}

// NumEntries returns the number of entries added so far.
func (b *Builder) NumEntries() int { return b.numEntries }

// FileSize returns the number of bytes written so far.
func (b *Builder) FileSize() int64 { return b.offset }
