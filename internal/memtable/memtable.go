package memtable

import (
	"sync/atomic"

	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/encoding"
)

// internalKeyComparator adapts an InternalKeyComparator to the raw
// skip-list Comparator: the skip list's keys are the full memtable entry
// (varint(len) || internal_key || varint(vlen) || value), so we strip the
// length prefix before delegating to the internal-key order.
type internalKeyComparator struct {
	ikc *dbformat.InternalKeyComparator
}

func (c internalKeyComparator) Compare(a, b []byte) int {
	ak := extractInternalKey(a)
	bk := extractInternalKey(b)
	return c.ikc.Compare(ak, bk)
}

func extractInternalKey(entry []byte) []byte {
	klen, n, err := encoding.DecodeVarint32(entry)
	if err != nil {
		return entry
	}
	return entry[n : n+int(klen)]
}

// MemTable is the in-memory sorted buffer fed by the write-ahead log and
// drained by flush. It wraps a SkipList keyed by the encoded entry format
// described in the data model: varint(internal_key_len) || internal_key
// || varint(value_len) || value.
type MemTable struct {
	cmp       *dbformat.InternalKeyComparator
	list      *SkipList
	memUsage  atomic.Int64
	refs      atomic.Int32
}

// New creates an empty MemTable ordered by cmp.
func New(cmp *dbformat.InternalKeyComparator) *MemTable {
	return &MemTable{
		cmp:  cmp,
		list: NewSkipList(internalKeyComparator{ikc: cmp}),
	}
}

// Ref increments the reference count, keeping the table alive while an
// iterator or flush holds it past a swap to immutable.
func (m *MemTable) Ref() { m.refs.Add(1) }

// Unref decrements the reference count.
func (m *MemTable) Unref() int32 { return m.refs.Add(-1) }

// Add composes one entry and inserts it. REQUIRES: called from the single
// writer.
func (m *MemTable) Add(seq dbformat.SequenceNumber, typ dbformat.ValueType, key, value []byte) {
	ikeyLen := len(key) + 8
	buf := encoding.AppendVarint32(nil, uint32(ikeyLen))
	buf = dbformat.AppendInternalKey(buf, dbformat.ParsedInternalKey{UserKey: key, Seq: seq, Type: typ})
	buf = encoding.AppendLengthPrefixedSlice(buf, value)
	m.list.Insert(buf)
	m.memUsage.Add(int64(len(buf)) + 32) // entry bytes plus a node's estimated overhead
}

// LookupResult distinguishes a found value from a tombstone or a miss.
type LookupResult int

const (
	LookupNotFound LookupResult = iota
	LookupFound
	LookupDeleted
)

// Get looks up the newest entry for lookupKey.UserKey() at a sequence <=
// lookupKey's, as required by the read-path contract.
func (m *MemTable) Get(lookupKey *dbformat.LookupKey) (value []byte, result LookupResult) {
	it := m.list.NewIterator()
	it.Seek(lookupKey.MemtableKey())
	if !it.Valid() {
		return nil, LookupNotFound
	}
	entry := it.Key()
	foundIKey := extractInternalKey(entry)
	if m.cmp.UserCmp.Compare(dbformat.ExtractUserKey(foundIKey), lookupKey.UserKey()) != 0 {
		return nil, LookupNotFound
	}
	_, typ := dbformat.ExtractSequenceAndType(foundIKey)
	if typ == dbformat.TypeDeletion {
		return nil, LookupDeleted
	}
	klen, n, err := encoding.DecodeVarint32(entry)
	if err != nil {
		return nil, LookupNotFound
	}
	valBuf := entry[n+int(klen):]
	val, _, err := encoding.DecodeLengthPrefixedSlice(valBuf)
	if err != nil {
		return nil, LookupNotFound
	}
	return val, LookupFound
}

// ApproximateMemoryUsage returns a lower-bound byte count used by the
// flush trigger.
func (m *MemTable) ApproximateMemoryUsage() int64 { return m.memUsage.Load() }

// NewIterator returns an iterator over m's entries in internal-key order.
func (m *MemTable) NewIterator() *MemIter {
	return &MemIter{it: m.list.NewIterator()}
}

// MemIter is a forward/backward cursor over one MemTable. It satisfies the
// iterator.Iterator contract so it composes directly into the merging
// iterator alongside SST iterators.
type MemIter struct {
	it  *Iterator
	err error
}

func (it *MemIter) Valid() bool  { return it.it.Valid() }
func (it *MemIter) Next()        { it.it.Next() }
func (it *MemIter) Prev()        { it.it.Prev() }
func (it *MemIter) SeekToFirst() { it.it.SeekToFirst() }
func (it *MemIter) SeekToLast()  { it.it.SeekToLast() }
func (it *MemIter) Err() error   { return it.err }

// Seek positions at the first internal key >= target.
func (it *MemIter) Seek(internalKey []byte) {
	probe := encoding.AppendVarint32(nil, uint32(len(internalKey)))
	probe = append(probe, internalKey...)
	it.it.Seek(probe)
}

// Key returns the current entry's full internal key. REQUIRES: Valid().
func (it *MemIter) Key() []byte { return extractInternalKey(it.it.Key()) }

// UserKey returns the current entry's user key. REQUIRES: Valid().
func (it *MemIter) UserKey() []byte { return dbformat.ExtractUserKey(it.Key()) }

// Value returns the current entry's value. REQUIRES: Valid(). A malformed
// entry (which should never happen for data this package wrote itself)
// surfaces through Err rather than a panic.
func (it *MemIter) Value() []byte {
	entry := it.it.Key()
	klen, n, err := encoding.DecodeVarint32(entry)
	if err != nil {
		it.err = err
		return nil
	}
	valBuf := entry[n+int(klen):]
	val, _, err := encoding.DecodeLengthPrefixedSlice(valBuf)
	if err != nil {
		it.err = errs.Corruption("memtable: malformed value in entry")
		return nil
	}
	return val
}
