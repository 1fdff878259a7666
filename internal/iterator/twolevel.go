package iterator

import "github.com/aalhour/embedkv/internal/block"

// dataIteratorFactory opens the data-block iterator addressed by one index
// entry's value (an encoded BlockHandle). Implemented by *table.Reader.
type dataIteratorFactory interface {
	NewDataIterator(indexValue []byte) (*block.Iterator, error)
}

// TwoLevelIterator walks one SST: an outer index-block iterator whose
// entries are separator keys mapping to data-block handles, and an inner
// data-block iterator opened lazily only for the index entry currently
// positioned on.
type TwoLevelIterator struct {
	reader dataIteratorFactory
	index  *block.Iterator
	data   *block.Iterator
	err    error
}

// NewTwoLevelIterator builds a TwoLevelIterator over index, whose entries'
// values are decoded into data blocks via reader.
func NewTwoLevelIterator(reader dataIteratorFactory, index *block.Iterator) *TwoLevelIterator {
	return &TwoLevelIterator{reader: reader, index: index}
}

func (it *TwoLevelIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.index.Err() != nil {
		return it.index.Err()
	}
	if it.data != nil {
		return it.data.Err()
	}
	return nil
}

func (it *TwoLevelIterator) Valid() bool {
	return it.data != nil && it.data.Valid()
}

func (it *TwoLevelIterator) Key() []byte   { return it.data.Key() }
func (it *TwoLevelIterator) Value() []byte { return it.data.Value() }

// setData opens the data iterator for the index's current entry, or clears
// it when the index is no longer valid.
func (it *TwoLevelIterator) setData() {
	if !it.index.Valid() {
		it.data = nil
		return
	}
	dataIt, err := it.reader.NewDataIterator(it.index.Value())
	if err != nil {
		it.err = err
		it.data = nil
		return
	}
	it.data = dataIt
}

func (it *TwoLevelIterator) skipEmptyForward() {
	for it.data == nil || !it.data.Valid() {
		if !it.index.Valid() {
			it.data = nil
			return
		}
		it.index.Next()
		it.setData()
		if it.data != nil {
			it.data.SeekToFirst()
		}
	}
}

func (it *TwoLevelIterator) skipEmptyBackward() {
	for it.data == nil || !it.data.Valid() {
		if !it.index.Valid() {
			it.data = nil
			return
		}
		it.index.Prev()
		it.setData()
		if it.data != nil {
			it.data.SeekToLast()
		}
	}
}

func (it *TwoLevelIterator) SeekToFirst() {
	it.index.SeekToFirst()
	it.setData()
	if it.data != nil {
		it.data.SeekToFirst()
	}
	it.skipEmptyForward()
}

func (it *TwoLevelIterator) SeekToLast() {
	it.index.SeekToLast()
	it.setData()
	if it.data != nil {
		it.data.SeekToLast()
	}
	it.skipEmptyBackward()
}

// Seek positions at the first entry with key >= target. The index holds
// separator keys so the first index entry >= target names the data block
// that either contains target or is the first block after it.
func (it *TwoLevelIterator) Seek(target []byte) {
	it.index.Seek(target)
	it.setData()
	if it.data != nil {
		it.data.Seek(target)
	}
	it.skipEmptyForward()
}

func (it *TwoLevelIterator) Next() {
	it.data.Next()
	it.skipEmptyForward()
}

func (it *TwoLevelIterator) Prev() {
	it.data.Prev()
	it.skipEmptyBackward()
}
