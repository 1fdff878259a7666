package embedkv

import (
	"fmt"
	"testing"

	"github.com/aalhour/embedkv/internal/vfs"
)

// TestReuseLogKeepsSameSegment reopens a database twice with ReuseLog
// set and a small amount of live data in its WAL, and checks that the
// second reopen still writes to the first session's log segment and
// still recovers every key.
func TestReuseLogKeepsSameSegment(t *testing.T) {
	fs := vfs.NewMem()
	opts := &Options{CreateIfMissing: true, ReuseLog: true, FS: fs}

	db, err := Open("/db", opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Put(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	firstLog := db.logFileNumber
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db2, err := Open("/db", &Options{ReuseLog: true, FS: fs})
	if err != nil {
		t.Fatalf("reopen 1 error = %v", err)
	}
	if err := db2.Put(nil, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := db2.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db3, err := Open("/db", &Options{ReuseLog: true, FS: fs})
	if err != nil {
		t.Fatalf("reopen 2 error = %v", err)
	}
	defer db3.Close()
	if db3.logFileNumber != firstLog {
		t.Errorf("log segment after reopen = %06d, want reused %06d", db3.logFileNumber, firstLog)
	}

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		val, err := db3.Get(nil, []byte(key))
		if err != nil {
			t.Fatalf("Get(%s) error = %v", key, err)
		}
		if string(val) != want {
			t.Errorf("Get(%s) = %q, want %q", key, val, want)
		}
	}
}

// TestRecoveryRebuildsSequenceNumbers checks that sequence numbers keep
// advancing across a reopen instead of resetting, so a later write can
// never collide with (or be shadowed by) a recovered one.
func TestRecoveryRebuildsSequenceNumbers(t *testing.T) {
	fs := vfs.NewMem()
	db, err := Open("/db", &Options{CreateIfMissing: true, FS: fs})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := db.Put(nil, []byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
			t.Fatalf("Put() %d error = %v", i, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db2, err := Open("/db", &Options{FS: fs})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db2.Close()

	// Overwriting an already-recovered key must win: if the recovered
	// sequence numbers weren't carried forward, this write could be
	// assigned a sequence number the recovered data already used.
	if err := db2.Put(nil, []byte("k0"), []byte("updated")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	val, err := db2.Get(nil, []byte("k0"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(val) != "updated" {
		t.Errorf("Get(k0) = %q, want %q", val, "updated")
	}
}
