package embedkv

import (
	"fmt"
	"testing"

	"github.com/aalhour/embedkv/internal/vfs"
)

func collect(t *testing.T, it *Iterator) []string {
	t.Helper()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, fmt.Sprintf("%s=%s", it.Key(), it.Value()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error = %v", err)
	}
	return got
}

func TestIteratorForwardOrder(t *testing.T) {
	db, err := Open("/db", memOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for _, k := range []string{"c", "a", "b"} {
		if err := db.Put(nil, []byte(k), []byte(k+k)); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	it := db.NewIterator(nil)
	defer it.Close()

	got := collect(t, it)
	want := []string{"a=aa", "b=bb", "c=cc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorSkipsDeletedKeys(t *testing.T) {
	db, err := Open("/db", memOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Put(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := db.Put(nil, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := db.Delete(nil, []byte("a")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	it := db.NewIterator(nil)
	defer it.Close()

	got := collect(t, it)
	if len(got) != 1 || got[0] != "b=2" {
		t.Errorf("got %v, want [b=2]", got)
	}
}

func TestIteratorReflectsOverwrite(t *testing.T) {
	db, err := Open("/db", memOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Put(nil, []byte("a"), []byte("old")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := db.Put(nil, []byte("a"), []byte("new")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	it := db.NewIterator(nil)
	defer it.Close()

	got := collect(t, it)
	if len(got) != 1 || got[0] != "a=new" {
		t.Errorf("got %v, want [a=new]", got)
	}
}

func TestIteratorSnapshotIsolation(t *testing.T) {
	db, err := Open("/db", memOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Put(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	snap := db.GetSnapshot()
	defer db.ReleaseSnapshot(snap)

	if err := db.Put(nil, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	it := db.NewIterator(&ReadOptions{Snapshot: snap})
	defer it.Close()

	got := collect(t, it)
	if len(got) != 1 || got[0] != "a=1" {
		t.Errorf("got %v, want [a=1], snapshot should not see the later write", got)
	}
}

func TestIteratorBackward(t *testing.T) {
	db, err := Open("/db", memOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := db.Put(nil, []byte(k), []byte(k+k)); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	it := db.NewIterator(nil)
	defer it.Close()

	var got []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		got = append(got, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error = %v", err)
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

func TestIteratorSeek(t *testing.T) {
	db, err := Open("/db", memOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for _, k := range []string{"a", "c", "e"} {
		if err := db.Put(nil, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	it := db.NewIterator(nil)
	defer it.Close()

	it.Seek([]byte("b"))
	if !it.Valid() {
		t.Fatalf("Seek(b) not valid")
	}
	if string(it.Key()) != "c" {
		t.Errorf("Seek(b) landed on %q, want c", it.Key())
	}
}

func TestIteratorAcrossFlushedAndLiveData(t *testing.T) {
	fs := vfs.NewMem()
	db, err := Open("/db", &Options{CreateIfMissing: true, FS: fs, WriteBufferSize: 256})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for i := 0; i < 32; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("val-%04d", i))
		if err := db.Put(nil, key, val); err != nil {
			t.Fatalf("Put() %d error = %v", i, err)
		}
	}

	it := db.NewIterator(nil)
	defer it.Close()

	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error = %v", err)
	}
	if count != 32 {
		t.Errorf("got %d entries, want 32", count)
	}
}
