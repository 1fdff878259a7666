// Package memtable implements the in-memory sorted write buffer: a
// lock-free-for-readers skip list keyed by encoded memtable entries, and
// the MemTable wrapper that composes entries from (sequence, type, key,
// value) tuples.
package memtable

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

// Comparator orders two raw skip-list keys (memtable entry byte strings).
type Comparator interface {
	Compare(a, b []byte) int
}

type skipNode struct {
	key  []byte
	next []atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, height int) *skipNode {
	return &skipNode{key: key, next: make([]atomic.Pointer[skipNode], height)}
}

func (n *skipNode) nextAt(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNextAt(level int, next *skipNode) {
	n.next[level].Store(next)
}

// SkipList is an ordered, insert-only set of byte-string keys. Exactly one
// goroutine may call Insert; any number may iterate concurrently. Forward
// progress for readers relies only on atomic loads of next-pointers;
// Insert publishes new nodes with atomic stores, so a reader either sees
// a node fully linked or not at all.
type SkipList struct {
	cmp    Comparator
	head   *skipNode
	height atomic.Int32 // current max height in use, 1-based

	rnd *rand.Rand
}

// NewSkipList creates an empty skip list ordered by cmp.
func NewSkipList(cmp Comparator) *SkipList {
	sl := &SkipList{
		cmp:  cmp,
		head: newSkipNode(nil, maxHeight),
		rnd:  rand.New(rand.NewPCG(0xda7a, 0xbeef)),
	}
	sl.height.Store(1)
	return sl
}

func (sl *SkipList) randomHeight() int {
	h := 1
	for h < maxHeight && sl.rnd.IntN(branchingFactor) == 0 {
		h++
	}
	return h
}

// findGreaterOrEqual returns the first node whose key is >= key, and
// fills prev (if non-nil) with the predecessor at each level.
func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.nextAt(level)
		if next != nil && sl.cmp.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node whose key is strictly < key.
func (sl *SkipList) findLessThan(key []byte) *skipNode {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.nextAt(level)
		if next != nil && sl.cmp.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// findLast returns the last node in the list, or nil if it is empty.
func (sl *SkipList) findLast() *skipNode {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.nextAt(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// Insert adds key to the list. REQUIRES: key does not already exist, and
// no concurrent call to Insert is in flight (single-writer discipline).
func (sl *SkipList) Insert(key []byte) {
	var prev [maxHeight]*skipNode
	sl.findGreaterOrEqual(key, prev[:])

	height := sl.randomHeight()
	if height > int(sl.height.Load()) {
		for i := int(sl.height.Load()); i < height; i++ {
			prev[i] = sl.head
		}
		sl.height.Store(int32(height))
	}

	node := newSkipNode(key, height)
	for i := 0; i < height; i++ {
		node.setNextAt(i, prev[i].nextAt(i))
		prev[i].setNextAt(i, node)
	}
}

// Contains reports whether key is present.
func (sl *SkipList) Contains(key []byte) bool {
	n := sl.findGreaterOrEqual(key, nil)
	return n != nil && sl.cmp.Compare(n.key, key) == 0
}

// Iterator is a cursor over a SkipList. The zero value is not usable;
// obtain one via SkipList.NewIterator.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator returns a new, unpositioned Iterator over sl.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{list: sl}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the current entry. REQUIRES: Valid().
func (it *Iterator) Key() []byte { return it.node.key }

// Next advances to the next entry. REQUIRES: Valid().
func (it *Iterator) Next() { it.node = it.node.nextAt(0) }

// Prev moves to the previous entry. REQUIRES: Valid().
func (it *Iterator) Prev() {
	it.node = it.list.findLessThan(it.node.key)
}

// Seek positions at the first entry >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekForPrev positions at the last entry <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	if !it.Valid() {
		it.SeekToLast()
		return
	}
	if it.list.cmp.Compare(it.node.key, target) != 0 {
		it.Prev()
	}
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() { it.node = it.list.head.nextAt(0) }

// SeekToLast positions at the last entry, or invalid if the list is empty.
func (it *Iterator) SeekToLast() { it.node = it.list.findLast() }
