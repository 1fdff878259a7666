package filter

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/encoding"
)

// filterBaseLg is the log2 of the byte span of data blocks a single
// filter group covers (2 KiB).
const filterBaseLg = 11
const filterBase = 1 << filterBaseLg

// BlockBuilder accumulates keys as the table builder emits data blocks
// and groups them into one filter per 2 KiB of block data, matching the
// offsets a reader will later compute from a data block's file offset.
type BlockBuilder struct {
	policy Policy

	keys       [][]byte // pending keys for the filter not yet generated
	result     []byte   // concatenated generated filters
	filterOffs []uint32 // offset of each generated filter within result
}

// NewBlockBuilder creates a filter block builder using policy.
func NewBlockBuilder(policy Policy) *BlockBuilder {
	return &BlockBuilder{policy: policy}
}

// StartBlock is called with the file offset of the data block about to be
// written; it generates any filters whose 2 KiB span has been reached.
func (b *BlockBuilder) StartBlock(blockOffset uint64) {
	filterIndex := blockOffset / filterBase
	for uint64(len(b.filterOffs)) < filterIndex {
		b.generateFilter()
	}
}

// AddKey records a key that falls within the data block currently being
// built, to be included in that block's filter group.
func (b *BlockBuilder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

// Finish flushes any pending filter and returns the encoded meta block:
// concatenated filters, a little-endian u32 offset array (one entry per
// filter plus the array's own start offset), then the base-lg byte.
func (b *BlockBuilder) Finish() []byte {
	if len(b.keys) > 0 {
		b.generateFilter()
	}

	arrayStart := uint32(len(b.result))
	out := append([]byte(nil), b.result...)
	for _, off := range b.filterOffs {
		out = encoding.AppendFixed32(out, off)
	}
	out = encoding.AppendFixed32(out, arrayStart)
	out = append(out, byte(filterBaseLg))
	return out
}

func (b *BlockBuilder) generateFilter() {
	b.filterOffs = append(b.filterOffs, uint32(len(b.result)))
	if len(b.keys) == 0 {
		return
	}
	b.result = append(b.result, b.policy.CreateFilter(b.keys)...)
	b.keys = b.keys[:0]
}

// BlockReader probes a decoded filter meta block produced by BlockBuilder.
type BlockReader struct {
	policy     Policy
	data       []byte // filters
	offsets    []byte // the encoded offset array, still in raw form
	numFilters uint32
	baseLg     byte
}

// NewBlockReader parses contents (the raw meta block bytes) for probing.
func NewBlockReader(policy Policy, contents []byte) (*BlockReader, error) {
	if len(contents) < 5 {
		return nil, errs.Corruption("filter: block too short (%d bytes)", len(contents))
	}
	baseLg := contents[len(contents)-1]
	arrayStart, err := encoding.DecodeFixed32(contents[len(contents)-5:])
	if err != nil {
		return nil, err
	}
	if uint64(arrayStart) > uint64(len(contents)-5) {
		return nil, errs.Corruption("filter: bad array-start offset")
	}
	offsets := contents[arrayStart : len(contents)-5]
	if len(offsets)%4 != 0 {
		return nil, errs.Corruption("filter: malformed offset array")
	}
	return &BlockReader{
		policy:     policy,
		data:       contents[:arrayStart],
		offsets:    offsets,
		numFilters: uint32(len(offsets) / 4),
		baseLg:     baseLg,
	}, nil
}

// KeyMayMatch reports whether key might be present in the data block at
// blockOffset, using the filter that covers that offset's 2 KiB span.
func (r *BlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	index := blockOffset >> r.baseLg
	if index >= uint64(r.numFilters) {
		// No filter was ever generated for this offset; default to true
		// rather than risk a false negative.
		return true
	}
	start, err1 := encoding.DecodeFixed32(r.offsets[index*4:])
	var limit uint32
	var err2 error
	if index+1 < uint64(r.numFilters) {
		limit, err2 = encoding.DecodeFixed32(r.offsets[(index+1)*4:])
	} else {
		limit = uint32(len(r.data))
	}
	if err1 != nil || err2 != nil || start > limit || uint64(limit) > uint64(len(r.data)) {
		return true
	}
	if start == limit {
		return false
	}
	return r.policy.KeyMayMatch(key, r.data[start:limit])
}
