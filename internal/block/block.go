package block

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/encoding"
)

// Comparator orders the keys stored in a block (typically internal keys).
type Comparator interface {
	Compare(a, b []byte) int
}

// Block is a parsed view over one data, index, or meta-index block's raw
// bytes: the entries, plus the restart-point offsets parsed from the
// trailer.
type Block struct {
	data        []byte
	restarts    []uint32
	restartsOff int // byte offset where the restart array begins
}

// New parses raw (a block's full decompressed bytes, trailer included).
func New(raw []byte) (*Block, error) {
	if len(raw) < 4 {
		return nil, errs.Corruption("block: too short (%d bytes)", len(raw))
	}
	numRestarts, err := encoding.DecodeFixed32(raw[len(raw)-4:])
	if err != nil {
		return nil, err
	}
	restartsOff := len(raw) - 4 - int(numRestarts)*4
	if restartsOff < 0 {
		return nil, errs.Corruption("block: bad restart count %d", numRestarts)
	}
	restarts := make([]uint32, numRestarts)
	for i := uint32(0); i < numRestarts; i++ {
		v, err := encoding.DecodeFixed32(raw[restartsOff+int(i)*4:])
		if err != nil {
			return nil, err
		}
		restarts[i] = v
	}
	return &Block{data: raw[:restartsOff], restarts: restarts, restartsOff: restartsOff}, nil
}

// Iterator is a cursor over one Block's entries.
type Iterator struct {
	block   *Block
	cmp     Comparator
	offset  int // offset of the current entry, or restartsOff if invalid
	nextOff int // offset just past the current entry
	key     []byte
	value   []byte
	valid   bool
	err     error
}

// NewIterator returns a new, unpositioned Iterator over b.
func (b *Block) NewIterator(cmp Comparator) *Iterator {
	return &Iterator{block: b, cmp: cmp, offset: b.restartsOff}
}

func (it *Iterator) Valid() bool   { return it.valid }
func (it *Iterator) Key() []byte   { return it.key }
func (it *Iterator) Value() []byte { return it.value }
func (it *Iterator) Err() error    { return it.err }

// parseEntryAt decodes one entry at offset, given the key to extend by
// its shared prefix (nil at a restart point). Returns the entry's key,
// value, and the offset just past it.
func (it *Iterator) parseEntryAt(offset int, prevKey []byte) (key, value []byte, next int, err error) {
	data := it.block.data
	if offset >= len(data) {
		return nil, nil, 0, errs.Corruption("block: entry offset past end")
	}
	shared, n1, err := encoding.DecodeVarint32(data[offset:])
	if err != nil {
		return nil, nil, 0, err
	}
	unshared, n2, err := encoding.DecodeVarint32(data[offset+n1:])
	if err != nil {
		return nil, nil, 0, err
	}
	valueLen, n3, err := encoding.DecodeVarint32(data[offset+n1+n2:])
	if err != nil {
		return nil, nil, 0, err
	}
	headerLen := n1 + n2 + n3
	keyStart := offset + headerLen
	keyEnd := keyStart + int(unshared)
	valEnd := keyEnd + int(valueLen)
	if valEnd > len(data) || int(shared) > len(prevKey) {
		return nil, nil, 0, errs.Corruption("block: malformed entry")
	}
	key = make([]byte, 0, int(shared)+int(unshared))
	key = append(key, prevKey[:shared]...)
	key = append(key, data[keyStart:keyEnd]...)
	return key, data[keyEnd:valEnd], valEnd, nil
}

// SeekToFirst positions at the block's first entry.
func (it *Iterator) SeekToFirst() {
	it.seekToRestart(0)
}

// SeekToLast positions at the block's last entry.
func (it *Iterator) SeekToLast() {
	if len(it.block.restarts) == 0 {
		it.invalidate()
		return
	}
	it.seekToRestart(len(it.block.restarts) - 1)
	for it.valid && it.nextOff < it.block.restartsOff {
		peekKey, peekVal, next, err := it.parseEntryAt(it.nextOff, it.key)
		if err != nil {
			it.err = err
			it.invalidate()
			return
		}
		it.offset = it.nextOff
		it.key, it.value, it.nextOff = peekKey, peekVal, next
	}
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	restarts := it.block.restarts
	lo, hi := 0, len(restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		key, _, _, err := it.parseEntryAt(int(restarts[mid]), nil)
		if err != nil {
			it.invalidate()
			return
		}
		if it.cmp.Compare(key, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.seekToRestart(lo)
	for it.valid && it.cmp.Compare(it.key, target) < 0 {
		it.Next()
	}
}

func (it *Iterator) seekToRestart(idx int) {
	if idx < 0 || idx >= len(it.block.restarts) {
		it.invalidate()
		return
	}
	key, value, next, err := it.parseEntryAt(int(it.block.restarts[idx]), nil)
	if err != nil {
		it.err = err
		it.invalidate()
		return
	}
	it.offset = int(it.block.restarts[idx])
	it.key, it.value, it.nextOff = key, value, next
	it.valid = true
}

// Next advances to the next entry. REQUIRES: Valid().
func (it *Iterator) Next() {
	if it.nextOff >= it.block.restartsOff {
		it.invalidate()
		return
	}
	key, value, next, err := it.parseEntryAt(it.nextOff, it.key)
	if err != nil {
		it.err = err
		it.invalidate()
		return
	}
	it.offset = it.nextOff
	it.key, it.value, it.nextOff = key, value, next
}

// Prev moves to the previous entry. REQUIRES: Valid().
func (it *Iterator) Prev() {
	// Find the restart point at or before the current entry, then scan
	// forward from there to just before the current entry's offset.
	originalOffset := it.offset
	restartIdx := it.restartIndexFor(originalOffset)
	if restartIdx >= 0 && int(it.block.restarts[restartIdx]) == originalOffset {
		restartIdx--
	}
	if restartIdx < 0 {
		it.invalidate()
		return
	}
	it.seekToRestart(restartIdx)
	for it.valid && it.nextOff < originalOffset {
		key, value, next, err := it.parseEntryAt(it.nextOff, it.key)
		if err != nil {
			it.err = err
			it.invalidate()
			return
		}
		it.offset = it.nextOff
		it.key, it.value, it.nextOff = key, value, next
	}
}

func (it *Iterator) restartIndexFor(offset int) int {
	restarts := it.block.restarts
	lo, hi := 0, len(restarts)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if int(restarts[mid]) <= offset {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

func (it *Iterator) invalidate() {
	it.valid = false
	it.key = nil
	it.value = nil
	it.offset = it.block.restartsOff
}
