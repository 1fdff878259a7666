// Package iterator implements the composite iterators that walk a
// Version's sorted runs: a two-level iterator translating one SST's index
// entries into lazily-opened data-block iterators, and an N-way merging
// iterator fusing the memtable, immutable memtables, and every level's
// iterators into one globally internal-key-ordered stream.
package iterator

// Iterator is the common cursor contract implemented by block.Iterator,
// memtable.MemIter, TwoLevelIterator, and MergingIterator, so they can be
// composed uniformly.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Prev()
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	// Err returns any error encountered while iterating, or nil.
	Err() error
}
