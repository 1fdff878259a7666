package memtable

import (
	"testing"

	"github.com/aalhour/embedkv/internal/dbformat"
)

func newTestMemTable() *MemTable {
	return New(dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator))
}

func TestMemTableAddAndGet(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))

	val, res := m.Get(dbformat.NewLookupKey([]byte("a"), dbformat.MaxSequenceNumber))
	if res != LookupFound || string(val) != "1" {
		t.Fatalf("Get(a) = (%q, %v), want (1, LookupFound)", val, res)
	}
}

func TestMemTableGetMissing(t *testing.T) {
	m := newTestMemTable()
	_, res := m.Get(dbformat.NewLookupKey([]byte("missing"), dbformat.MaxSequenceNumber))
	if res != LookupNotFound {
		t.Errorf("Get(missing) = %v, want LookupNotFound", res)
	}
}

func TestMemTableNewestVersionWins(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("old"))
	m.Add(2, dbformat.TypeValue, []byte("a"), []byte("new"))

	val, res := m.Get(dbformat.NewLookupKey([]byte("a"), dbformat.MaxSequenceNumber))
	if res != LookupFound || string(val) != "new" {
		t.Fatalf("Get(a) = (%q, %v), want (new, LookupFound)", val, res)
	}
}

func TestMemTableSnapshotRespectsSequenceCeiling(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("old"))
	m.Add(5, dbformat.TypeValue, []byte("a"), []byte("new"))

	val, res := m.Get(dbformat.NewLookupKey([]byte("a"), 3))
	if res != LookupFound || string(val) != "old" {
		t.Fatalf("Get(a) at seq 3 = (%q, %v), want (old, LookupFound)", val, res)
	}
}

func TestMemTableDeletion(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	m.Add(2, dbformat.TypeDeletion, []byte("a"), nil)

	_, res := m.Get(dbformat.NewLookupKey([]byte("a"), dbformat.MaxSequenceNumber))
	if res != LookupDeleted {
		t.Errorf("Get(a) after delete = %v, want LookupDeleted", res)
	}
}

func TestMemTableIteratorOrder(t *testing.T) {
	m := newTestMemTable()
	for i, k := range []string{"c", "a", "b"} {
		m.Add(dbformat.SequenceNumber(i+1), dbformat.TypeValue, []byte(k), []byte(k))
	}

	it := m.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.UserKey()))
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemTableIteratorNewestFirstForSameUserKey(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("old"))
	m.Add(2, dbformat.TypeValue, []byte("a"), []byte("new"))

	it := m.NewIterator()
	it.SeekToFirst()
	if !it.Valid() || string(it.Value()) != "new" {
		t.Fatalf("first entry = %q, want new (highest sequence sorts first)", it.Value())
	}
	it.Next()
	if !it.Valid() || string(it.Value()) != "old" {
		t.Fatalf("second entry = %q, want old", it.Value())
	}
}

func TestMemTableApproximateMemoryUsageGrows(t *testing.T) {
	m := newTestMemTable()
	if m.ApproximateMemoryUsage() != 0 {
		t.Fatalf("fresh memtable usage = %d, want 0", m.ApproximateMemoryUsage())
	}
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("value"))
	if m.ApproximateMemoryUsage() <= 0 {
		t.Errorf("usage after one Add = %d, want > 0", m.ApproximateMemoryUsage())
	}
}

func TestMemTableRefUnref(t *testing.T) {
	m := newTestMemTable()
	m.Ref()
	m.Ref()
	if got := m.Unref(); got != 1 {
		t.Errorf("Unref() after two Refs = %d, want 1", got)
	}
	if got := m.Unref(); got != 0 {
		t.Errorf("Unref() after draining refs = %d, want 0", got)
	}
}
