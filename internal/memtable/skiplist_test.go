package memtable

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

type bytesComparator struct{}

func (bytesComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }

func TestSkipListInsertAndContains(t *testing.T) {
	sl := NewSkipList(bytesComparator{})
	sl.Insert([]byte("b"))
	sl.Insert([]byte("a"))
	sl.Insert([]byte("c"))

	for _, k := range []string{"a", "b", "c"} {
		if !sl.Contains([]byte(k)) {
			t.Errorf("Contains(%s) = false, want true", k)
		}
	}
	if sl.Contains([]byte("z")) {
		t.Error("Contains(z) = true, want false")
	}
}

func TestSkipListIteratorOrder(t *testing.T) {
	sl := NewSkipList(bytesComparator{})
	keys := []string{"m", "a", "z", "b", "y"}
	for _, k := range keys {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a", "b", "m", "y", "z"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSkipListIteratorBackward(t *testing.T) {
	sl := NewSkipList(bytesComparator{})
	for _, k := range []string{"a", "b", "c"} {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	var got []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		got = append(got, string(it.Key()))
	}
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSkipListSeek(t *testing.T) {
	sl := NewSkipList(bytesComparator{})
	for _, k := range []string{"a", "c", "e", "g"} {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	it.Seek([]byte("d"))
	if !it.Valid() || string(it.Key()) != "e" {
		t.Fatalf("Seek(d) landed on %q, want e", it.Key())
	}

	it.Seek([]byte("z"))
	if it.Valid() {
		t.Errorf("Seek(z) past every key: want invalid, got %q", it.Key())
	}
}

func TestSkipListSeekForPrev(t *testing.T) {
	sl := NewSkipList(bytesComparator{})
	for _, k := range []string{"a", "c", "e"} {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	it.SeekForPrev([]byte("d"))
	if !it.Valid() || string(it.Key()) != "c" {
		t.Fatalf("SeekForPrev(d) landed on %q, want c", it.Key())
	}

	it.SeekForPrev([]byte("c"))
	if !it.Valid() || string(it.Key()) != "c" {
		t.Fatalf("SeekForPrev(c) (exact match) landed on %q, want c", it.Key())
	}

	it.SeekForPrev([]byte(""))
	if it.Valid() {
		t.Errorf("SeekForPrev before every key: want invalid, got %q", it.Key())
	}
}

func TestSkipListManyRandomInsertsStayOrdered(t *testing.T) {
	sl := NewSkipList(bytesComparator{})
	rnd := rand.New(rand.NewPCG(1, 2))
	seen := map[int32]bool{}
	var inserted []int32
	for len(inserted) < 500 {
		v := rnd.Int32()
		if seen[v] {
			continue
		}
		seen[v] = true
		inserted = append(inserted, v)
		var buf [4]byte
		buf[0] = byte(v >> 24)
		buf[1] = byte(v >> 16)
		buf[2] = byte(v >> 8)
		buf[3] = byte(v)
		sl.Insert(buf[:])
	}

	it := sl.NewIterator()
	var prev []byte
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if prev != nil && bytes.Compare(prev, it.Key()) >= 0 {
			t.Fatalf("keys out of order: %v then %v", prev, it.Key())
		}
		prev = append([]byte(nil), it.Key()...)
		count++
	}
	if count != len(inserted) {
		t.Errorf("iterated %d entries, want %d", count, len(inserted))
	}
}
