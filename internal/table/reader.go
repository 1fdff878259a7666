package table

import (
	"encoding/binary"

	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/block"
	"github.com/aalhour/embedkv/internal/cache"
	"github.com/aalhour/embedkv/internal/compress"
	"github.com/aalhour/embedkv/internal/filter"
	"github.com/aalhour/embedkv/internal/vfs"
)

// Reader serves reads against one open SST file. Opening loads the index
// block (and, best-effort, the filter meta block) eagerly; data blocks are
// read lazily, one per lookup or iterator step, and cached in blockCache
// (if any) keyed by this file's number and the block's offset.
type Reader struct {
	file    vfs.RandomAccessFile
	size    int64
	cmp     block.Comparator
	fileNum uint64

	indexBlock *block.Block

	filterPolicy filter.Policy
	filterReader *filter.BlockReader

	blockCache cache.Cache

	verifyChecksums bool
}

// OpenOptions configures Open.
type OpenOptions struct {
	Comparator      block.Comparator
	FilterPolicy    filter.Policy // must match the policy used at build time
	VerifyChecksums bool
	Cache           cache.Cache // optional: caches decoded data blocks across reads
}

// Open reads file's footer and index block, returning a ready Reader.
// size must be the exact file length. fileNum identifies file within
// opts.Cache's key space. A missing or unreadable filter meta block is
// tolerated: KeyMayMatch then degrades to always-true.
func Open(opts OpenOptions, fileNum uint64, file vfs.RandomAccessFile, size int64) (*Reader, error) {
	if size < int64(block.FooterEncodedLength) {
		return nil, errs.Corruption("table: file too short to hold a footer (%d bytes)", size)
	}
	footerBuf := make([]byte, block.FooterEncodedLength)
	if _, err := file.ReadAt(footerBuf, size-int64(block.FooterEncodedLength)); err != nil {
		return nil, err
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:            file,
		size:            size,
		cmp:             opts.Comparator,
		fileNum:         fileNum,
		filterPolicy:    opts.FilterPolicy,
		blockCache:      opts.Cache,
		verifyChecksums: opts.VerifyChecksums,
	}

	indexContents, err := r.readBlockContents(footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	r.indexBlock, err = block.New(indexContents)
	if err != nil {
		return nil, err
	}

	if opts.FilterPolicy != nil {
		if metaContents, err := r.readBlockContents(footer.MetaIndexHandle); err == nil {
			metaBlock, err := block.New(metaContents)
			if err == nil {
				it := metaBlock.NewIterator(r.cmp)
				metaKey := []byte("filter." + opts.FilterPolicy.Name())
				it.Seek(metaKey)
				if it.Valid() && string(it.Key()) == string(metaKey) {
					if handle, _, err := block.DecodeHandle(it.Value()); err == nil {
						if filterContents, err := r.readBlockContents(handle); err == nil {
							if fr, err := filter.NewBlockReader(opts.FilterPolicy, filterContents); err == nil {
								r.filterReader = fr
							}
						}
					}
				}
			}
		}
		// Any failure above leaves r.filterReader nil; KeyMayMatch then
		// degrades to always-true rather than failing the open.
	}

	return r, nil
}

// readBlockContents reads the block at h, verifies its checksum (if
// enabled) and decompresses it per its trailer tag.
func (r *Reader) readBlockContents(h block.Handle) ([]byte, error) {
	readLen := h.Size + blockTrailerSize
	if h.Offset+readLen > uint64(r.size) {
		return nil, errs.Corruption("table: block handle out of range")
	}
	buf := make([]byte, readLen)
	if _, err := r.file.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	payload := buf[:h.Size]
	trailer := buf[h.Size:]
	ctype := compress.Type(trailer[0])

	if r.verifyChecksums {
		want := binary.LittleEndian.Uint32(trailer[1:])
		got := crc32cBlock(payload, trailer[0])
		if got != want {
			return nil, errs.Corruption("table: block checksum mismatch at offset %d", h.Offset)
		}
	}

	return compress.Decode(ctype, payload)
}

// NewIndexIterator returns an iterator over the index block: keys are
// separator keys, values are the encoded BlockHandle of the data block
// each separator covers.
func (r *Reader) NewIndexIterator() *block.Iterator {
	return r.indexBlock.NewIterator(r.cmp)
}

// NewDataIterator decodes handle's value as a BlockHandle, reads that
// data block (through the block cache, if one is configured), and returns
// an iterator over it. Equivalent to NewDataIteratorFill(handleValue, true).
func (r *Reader) NewDataIterator(handleValue []byte) (*block.Iterator, error) {
	return r.NewDataIteratorFill(handleValue, true)
}

// NewDataIteratorFill is NewDataIterator with explicit control over whether
// a block cache miss gets inserted into the cache, for callers honoring
// ReadOptions.FillCache.
func (r *Reader) NewDataIteratorFill(handleValue []byte, fillCache bool) (*block.Iterator, error) {
	handle, _, err := block.DecodeHandle(handleValue)
	if err != nil {
		return nil, err
	}
	contents, err := r.readDataBlock(handle, fillCache)
	if err != nil {
		return nil, err
	}
	blk, err := block.New(contents)
	if err != nil {
		return nil, err
	}
	return blk.NewIterator(r.cmp), nil
}

// readDataBlock reads the data block at handle, consulting blockCache
// first and, on a miss, populating it with the freshly decoded contents
// when fillCache is set.
func (r *Reader) readDataBlock(handle block.Handle, fillCache bool) ([]byte, error) {
	if r.blockCache == nil {
		return r.readBlockContents(handle)
	}

	key := cache.Key{FileNumber: r.fileNum, BlockOffset: handle.Offset}
	if h := r.blockCache.Lookup(key); h != nil {
		contents := append([]byte(nil), h.Value()...)
		r.blockCache.Release(h)
		return contents, nil
	}

	contents, err := r.readBlockContents(handle)
	if err != nil {
		return nil, err
	}
	if fillCache {
		h := r.blockCache.Insert(key, contents, uint64(len(contents)))
		r.blockCache.Release(h)
	}
	return contents, nil
}

// KeyMayMatch reports whether userKey might occur in the data block
// located at the given data-block file offset. When no filter block was
// loaded, it conservatively returns true.
func (r *Reader) KeyMayMatch(blockOffset uint64, userKey []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return r.filterReader.KeyMayMatch(blockOffset, userKey)
}

// Size returns the file's total size in bytes.
func (r *Reader) Size() int64 { return r.size }
