package embedkv

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/iterator"
	"github.com/aalhour/embedkv/internal/version"
)

// icmpAdapter adapts *dbformat.InternalKeyComparator to the narrower
// Comparator shape the iterator package's MergingIterator expects.
type icmpAdapter struct{ icmp *dbformat.InternalKeyComparator }

func (a icmpAdapter) Compare(x, y []byte) int { return a.icmp.Compare(x, y) }

// Iterator walks the database in ascending user-key order as of a fixed
// sequence number, collapsing every internal key's (user_key, sequence,
// type) versions down to the single newest one visible at that sequence,
// and skipping any key whose newest visible version is a deletion.
type Iterator struct {
	db   *DB
	seq  dbformat.SequenceNumber
	ucmp Comparator

	merge   *iterator.MergingIterator
	current *version.Version
	opened  []uint64 // SST file numbers opened via the table cache, for Close

	valid bool
	key   []byte
	value []byte
	err   error
}

// NewIterator returns an Iterator over the database as of opts.Snapshot,
// or the most recent write if no snapshot is given. The caller must call
// Close when finished, which releases the pinned Version and any SST
// file references the iterator opened.
func (db *DB) NewIterator(opts *ReadOptions) *Iterator {
	if opts == nil {
		opts = DefaultReadOptions()
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return &Iterator{err: errs.ErrClosed}
	}
	seq := db.versions.LastSequence()
	if opts.Snapshot != nil {
		seq = opts.Snapshot.sequence
	}
	mem, imm := db.mem, db.imm
	current := db.versions.Current()
	current.Ref()
	db.mu.Unlock()

	it := &Iterator{db: db, seq: seq, ucmp: db.opts.Comparator, current: current}

	children := []iterator.Iterator{mem.NewIterator()}
	if imm != nil {
		children = append(children, imm.NewIterator())
	}
	for level := 0; level < current.NumLevels(); level++ {
		for _, f := range current.Files(level) {
			reader, err := db.tableCache.Get(f.FileNumber)
			if err != nil {
				it.err = err
				it.Close()
				return it
			}
			it.opened = append(it.opened, f.FileNumber)
			children = append(children, iterator.NewTwoLevelIterator(reader, reader.NewIndexIterator()))
		}
	}

	it.merge = iterator.NewMergingIterator(icmpAdapter{db.icmp}, children)
	return it
}

// Close releases the Version and SST file references this iterator
// holds. An Iterator must not be used after Close.
func (it *Iterator) Close() error {
	if it.db != nil {
		for _, fileNum := range it.opened {
			it.db.tableCache.Release(fileNum)
		}
	}
	if it.current != nil {
		it.current.Unref()
		it.current = nil
	}
	return nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's user key. REQUIRES: Valid().
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's value. REQUIRES: Valid().
func (it *Iterator) Value() []byte { return it.value }

// Err returns the first error encountered while iterating, or nil.
func (it *Iterator) Err() error { return it.err }

// SeekToFirst positions the iterator at the smallest visible key.
func (it *Iterator) SeekToFirst() {
	if it.err != nil {
		return
	}
	it.merge.SeekToFirst()
	it.findNextForward(nil)
}

// SeekToLast positions the iterator at the largest visible key.
func (it *Iterator) SeekToLast() {
	if it.err != nil {
		return
	}
	it.merge.SeekToLast()
	it.findPrevVisible()
}

// Seek positions the iterator at the smallest visible key >= target.
func (it *Iterator) Seek(target []byte) {
	if it.err != nil {
		return
	}
	lookup := dbformat.NewLookupKey(target, it.seq)
	it.merge.Seek(lookup.InternalKey())
	it.findNextForward(nil)
}

// Next advances to the next visible key greater than the current one.
// REQUIRES: Valid().
func (it *Iterator) Next() {
	if it.err != nil || !it.valid {
		return
	}
	skip := append([]byte(nil), it.key...)
	it.findNextForward(skip)
}

// Prev moves to the previous visible key less than the current one.
// REQUIRES: Valid().
func (it *Iterator) Prev() {
	if it.err != nil || !it.valid {
		return
	}
	currentUserKey := append([]byte(nil), it.key...)
	lookup := dbformat.NewLookupKey(currentUserKey, dbformat.MaxSequenceNumber)
	it.merge.Seek(lookup.InternalKey())
	for {
		it.merge.Prev()
		if !it.merge.Valid() {
			it.valid = false
			if err := it.merge.Err(); err != nil {
				it.err = err
			}
			return
		}
		if it.ucmp.Compare(dbformat.ExtractUserKey(it.merge.Key()), currentUserKey) < 0 {
			break
		}
	}
	it.findPrevVisible()
}

// findNextForward scans merge forward from its current position looking
// for the first user key (other than skipKey, if given) whose newest
// version at or before it.seq is a live value. Internal-key order puts
// every version of a user key together with the highest sequence first,
// so the first version encountered with Seq <= it.seq is, by
// construction, the newest one visible at this snapshot.
func (it *Iterator) findNextForward(skipKey []byte) {
	for it.merge.Valid() {
		parsed, perr := dbformat.ParseInternalKey(it.merge.Key())
		if perr != nil {
			it.err = perr
			it.valid = false
			return
		}
		if skipKey != nil && it.ucmp.Compare(parsed.UserKey, skipKey) == 0 {
			it.merge.Next()
			continue
		}
		if parsed.Seq > it.seq {
			it.merge.Next()
			continue
		}
		if parsed.Type == dbformat.TypeDeletion {
			skipKey = append([]byte(nil), parsed.UserKey...)
			it.merge.Next()
			continue
		}
		it.key = append(it.key[:0], parsed.UserKey...)
		it.value = append(it.value[:0], it.merge.Value()...)
		it.valid = true
		return
	}
	it.valid = false
	if err := it.merge.Err(); err != nil {
		it.err = err
	}
}

// findPrevVisible, given merge positioned at some version of some user
// key, finds the newest visible version of that key or, failing that,
// walks backward through progressively smaller user keys until one has
// a visible version or the iterator is exhausted.
func (it *Iterator) findPrevVisible() {
	for it.merge.Valid() {
		userKey := append([]byte(nil), dbformat.ExtractUserKey(it.merge.Key())...)
		seekKey := dbformat.NewLookupKey(userKey, dbformat.MaxSequenceNumber)
		it.merge.Seek(seekKey.InternalKey())

		found := false
		for it.merge.Valid() {
			parsed, perr := dbformat.ParseInternalKey(it.merge.Key())
			if perr != nil {
				it.err = perr
				it.valid = false
				return
			}
			if it.ucmp.Compare(parsed.UserKey, userKey) != 0 {
				break
			}
			if parsed.Seq <= it.seq {
				if parsed.Type != dbformat.TypeDeletion {
					it.key = append(it.key[:0], parsed.UserKey...)
					it.value = append(it.value[:0], it.merge.Value()...)
					it.valid = true
					found = true
				}
				break
			}
			it.merge.Next()
		}
		if found {
			return
		}

		it.merge.Seek(seekKey.InternalKey())
		exhausted := false
		for {
			it.merge.Prev()
			if !it.merge.Valid() {
				exhausted = true
				break
			}
			if it.ucmp.Compare(dbformat.ExtractUserKey(it.merge.Key()), userKey) < 0 {
				break
			}
		}
		if exhausted {
			break
		}
	}
	it.valid = false
	if err := it.merge.Err(); err != nil {
		it.err = err
	}
}
