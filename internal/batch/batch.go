// Package batch implements the write-batch binary format: an atomic
// group of put/delete operations applied to the memtable with
// consecutive sequence numbers.
package batch

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/encoding"
	"github.com/aalhour/embedkv/internal/memtable"
)

// HeaderSize is the fixed prefix: u64 sequence, u32 count.
const HeaderSize = 12

const (
	tagDeletion byte = 0
	tagValue    byte = 1
)

// Batch accumulates Put/Delete operations for atomic application.
type Batch struct {
	rep []byte // header (12 bytes) || payload
}

// New creates an empty batch with sequence and count both zero.
func New() *Batch {
	b := &Batch{rep: make([]byte, HeaderSize)}
	return b
}

// Count returns the number of operations recorded so far.
func (b *Batch) Count() uint32 {
	v, _ := encoding.DecodeFixed32(b.rep[8:12])
	return v
}

func (b *Batch) setCount(n uint32) {
	buf := encoding.AppendFixed32(nil, n)
	copy(b.rep[8:12], buf)
}

// Sequence returns the header's base sequence number.
func (b *Batch) Sequence() dbformat.SequenceNumber {
	v, _ := encoding.DecodeFixed64(b.rep[0:8])
	return dbformat.SequenceNumber(v)
}

// SetSequence overwrites the header's base sequence number, done once
// the write path has reserved a sequence range under the write mutex.
func (b *Batch) SetSequence(seq dbformat.SequenceNumber) {
	buf := encoding.AppendFixed64(nil, uint64(seq))
	copy(b.rep[0:8], buf)
}

// Put appends a Put entry.
func (b *Batch) Put(key, value []byte) {
	b.rep = append(b.rep, tagValue)
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, key)
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, value)
	b.setCount(b.Count() + 1)
}

// Delete appends a Delete entry.
func (b *Batch) Delete(key []byte) {
	b.rep = append(b.rep, tagDeletion)
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, key)
	b.setCount(b.Count() + 1)
}

// Append concatenates other's entries onto b, incrementing b's count by
// other's and leaving b's sequence untouched.
func (b *Batch) Append(other *Batch) {
	b.rep = append(b.rep, other.rep[HeaderSize:]...)
	b.setCount(b.Count() + other.Count())
}

// Empty reports whether the batch has no entries (count == 0).
func (b *Batch) Empty() bool { return b.Count() == 0 }

// Contents returns the full encoded representation: header || payload.
func (b *Batch) Contents() []byte { return b.rep }

// SetContents replaces the batch's representation wholesale, used when
// decoding a batch read back from the WAL.
func SetContents(rep []byte) (*Batch, error) {
	if len(rep) < HeaderSize {
		return nil, errs.Corruption("batch: record too short (%d bytes)", len(rep))
	}
	return &Batch{rep: append([]byte(nil), rep...)}, nil
}

// Handler receives the decoded operations from Iterate, in order.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterate drives h with each operation in the batch, failing with
// Corruption if the number of decoded entries disagrees with the header.
func (b *Batch) Iterate(h Handler) error {
	input := b.rep[HeaderSize:]
	var found uint32
	for len(input) > 0 {
		tag := input[0]
		input = input[1:]
		switch tag {
		case tagValue:
			key, rest, err := encoding.DecodeLengthPrefixedSlice(input)
			if err != nil {
				return err
			}
			value, rest2, err := encoding.DecodeLengthPrefixedSlice(rest)
			if err != nil {
				return err
			}
			if err := h.Put(key, value); err != nil {
				return err
			}
			input = rest2
		case tagDeletion:
			key, rest, err := encoding.DecodeLengthPrefixedSlice(input)
			if err != nil {
				return err
			}
			if err := h.Delete(key); err != nil {
				return err
			}
			input = rest
		default:
			return errs.Corruption("batch: unknown tag %d", tag)
		}
		found++
	}
	if found != b.Count() {
		return errs.Corruption("batch: entry count mismatch (header says %d, found %d)", b.Count(), found)
	}
	return nil
}

// memtableInserter applies each decoded operation to a memtable at
// consecutive sequence numbers starting from base.
type memtableInserter struct {
	mem  *memtable.MemTable
	next dbformat.SequenceNumber
}

func (ins *memtableInserter) Put(key, value []byte) error {
	ins.mem.Add(ins.next, dbformat.TypeValue, key, value)
	ins.next++
	return nil
}

func (ins *memtableInserter) Delete(key []byte) error {
	ins.mem.Add(ins.next, dbformat.TypeDeletion, key, nil)
	ins.next++
	return nil
}

// InsertInto applies every entry in b to mem, assigning sequence numbers
// starting at b.Sequence() and incrementing by one per entry.
func InsertInto(b *Batch, mem *memtable.MemTable) error {
	ins := &memtableInserter{mem: mem, next: b.Sequence()}
	return b.Iterate(ins)
}
