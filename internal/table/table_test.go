package table

import (
	"testing"

	"github.com/aalhour/embedkv/internal/block"
	"github.com/aalhour/embedkv/internal/cache"
	"github.com/aalhour/embedkv/internal/compress"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/filter"
	"github.com/aalhour/embedkv/internal/vfs"
)

func internalKey(userKey string, seq dbformat.SequenceNumber) []byte {
	return dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: []byte(userKey),
		Seq:     seq,
		Type:    dbformat.TypeValue,
	})
}

func buildTable(t *testing.T, fs vfs.FS, path string, opts Options, entries [][2]string) int64 {
	t.Helper()
	file, err := fs.NewWritableFile(path)
	if err != nil {
		t.Fatalf("NewWritableFile() error = %v", err)
	}

	b := NewBuilder(opts, file)
	for i, e := range entries {
		if err := b.Add(internalKey(e[0], dbformat.SequenceNumber(i+1)), []byte(e[1])); err != nil {
			t.Fatalf("Add(%q) error = %v", e[0], err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return b.FileSize()
}

func openTable(t *testing.T, fs vfs.FS, path string, opts OpenOptions) *Reader {
	t.Helper()
	size, err := fs.FileSize(path)
	if err != nil {
		t.Fatalf("FileSize() error = %v", err)
	}
	file, err := fs.NewRandomAccessFile(path)
	if err != nil {
		t.Fatalf("NewRandomAccessFile() error = %v", err)
	}
	r, err := Open(opts, 1, file, size)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r
}

func walkTable(t *testing.T, r *Reader) []string {
	t.Helper()
	var got []string
	idx := r.NewIndexIterator()
	for idx.SeekToFirst(); idx.Valid(); idx.Next() {
		data, err := r.NewDataIterator(idx.Value())
		if err != nil {
			t.Fatalf("NewDataIterator() error = %v", err)
		}
		for data.SeekToFirst(); data.Valid(); data.Next() {
			parsed, err := dbformat.ParseInternalKey(data.Key())
			if err != nil {
				t.Fatalf("ParseInternalKey() error = %v", err)
			}
			got = append(got, string(parsed.UserKey)+"="+string(data.Value()))
		}
	}
	return got
}

func TestBuilderOpenRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{
		BlockSize:            64, // small, forces multiple data blocks
		BlockRestartInterval: 2,
		Compression:          compress.Snappy,
		Comparator:           cmp,
	}
	entries := [][2]string{
		{"apple", "1"}, {"banana", "2"}, {"cherry", "3"},
		{"date", "4"}, {"fig", "5"}, {"grape", "6"},
	}
	buildTable(t, fs, "/000001.sst", opts, entries)

	r := openTable(t, fs, "/000001.sst", OpenOptions{Comparator: cmp})
	got := walkTable(t, r)
	want := []string{"apple=1", "banana=2", "cherry=3", "date=4", "fig=5", "grape=6"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	file, err := fs.NewWritableFile("/000002.sst")
	if err != nil {
		t.Fatalf("NewWritableFile() error = %v", err)
	}
	defer file.Close()

	b := NewBuilder(Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}, file)
	if err := b.Add(internalKey("b", 1), []byte("1")); err != nil {
		t.Fatalf("Add(b) error = %v", err)
	}
	if err := b.Add(internalKey("a", 2), []byte("2")); err == nil {
		t.Error("Add() with a key smaller than the last one: want error, got nil")
	}
}

func TestReaderKeyMayMatchWithFilter(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	policy := filter.NewBloomPolicy(10)
	opts := Options{
		BlockSize:            4096,
		BlockRestartInterval: 16,
		FilterPolicy:         policy,
		Comparator:           cmp,
	}
	buildTable(t, fs, "/000003.sst", opts, [][2]string{{"apple", "1"}, {"banana", "2"}})

	r := openTable(t, fs, "/000003.sst", OpenOptions{Comparator: cmp, FilterPolicy: policy})

	idx := r.NewIndexIterator()
	idx.SeekToFirst()
	if !idx.Valid() {
		t.Fatal("index iterator has no entries")
	}
	handle, _, err := block.DecodeHandle(idx.Value())
	if err != nil {
		t.Fatalf("block.DecodeHandle() error = %v", err)
	}

	if !r.KeyMayMatch(handle.Offset, []byte("apple")) {
		t.Error("KeyMayMatch(apple) = false, want true (key is present)")
	}
	if r.KeyMayMatch(handle.Offset, []byte("not-there-at-all")) {
		t.Log("KeyMayMatch(not-there-at-all) = true; a false positive is allowed but should be rare")
	}
}

func TestReaderWithoutFilterAlwaysMayMatch(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	buildTable(t, fs, "/000004.sst", opts, [][2]string{{"apple", "1"}})

	r := openTable(t, fs, "/000004.sst", OpenOptions{Comparator: cmp})
	if !r.KeyMayMatch(0, []byte("anything")) {
		t.Error("KeyMayMatch() with no filter policy: want true, got false")
	}
}

func TestReaderPopulatesAndServesFromBlockCache(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	buildTable(t, fs, "/000006.sst", opts, [][2]string{{"apple", "1"}, {"banana", "2"}})

	blockCache := cache.NewShardedLRUCache(1<<20, 4)
	r := openTable(t, fs, "/000006.sst", OpenOptions{Comparator: cmp, Cache: blockCache})

	idx := r.NewIndexIterator()
	idx.SeekToFirst()
	if !idx.Valid() {
		t.Fatal("index iterator has no entries")
	}
	handleValue := append([]byte(nil), idx.Value()...)

	if blockCache.GetOccupancyCount() != 0 {
		t.Fatalf("occupancy before first read = %d, want 0", blockCache.GetOccupancyCount())
	}

	it1, err := r.NewDataIterator(handleValue)
	if err != nil {
		t.Fatalf("NewDataIterator() error = %v", err)
	}
	it1.SeekToFirst()
	if !it1.Valid() || string(it1.Key()) == "" {
		t.Fatal("first data iterator has no entries")
	}
	if blockCache.GetOccupancyCount() != 1 {
		t.Fatalf("occupancy after first read = %d, want 1 (miss should populate the cache)", blockCache.GetOccupancyCount())
	}

	it2, err := r.NewDataIterator(handleValue)
	if err != nil {
		t.Fatalf("NewDataIterator() error (second read) = %v", err)
	}
	it2.SeekToFirst()
	if !it2.Valid() || string(it2.Key()) != string(it1.Key()) {
		t.Fatalf("second read (expected cache hit) key = %q, want %q", it2.Key(), it1.Key())
	}
	if blockCache.GetOccupancyCount() != 1 {
		t.Errorf("occupancy after second read = %d, want still 1 (hit should not grow the cache)", blockCache.GetOccupancyCount())
	}
}

func TestReaderDataIteratorFillCacheFalseSkipsPopulating(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	buildTable(t, fs, "/000007.sst", opts, [][2]string{{"apple", "1"}})

	blockCache := cache.NewShardedLRUCache(1<<20, 4)
	r := openTable(t, fs, "/000007.sst", OpenOptions{Comparator: cmp, Cache: blockCache})

	idx := r.NewIndexIterator()
	idx.SeekToFirst()
	if !idx.Valid() {
		t.Fatal("index iterator has no entries")
	}

	if _, err := r.NewDataIteratorFill(idx.Value(), false); err != nil {
		t.Fatalf("NewDataIteratorFill() error = %v", err)
	}
	if blockCache.GetOccupancyCount() != 0 {
		t.Errorf("occupancy after a fillCache=false read = %d, want 0", blockCache.GetOccupancyCount())
	}
}

func TestReaderRejectsTruncatedFile(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	buildTable(t, fs, "/000005.sst", opts, [][2]string{{"apple", "1"}})

	size, err := fs.FileSize("/000005.sst")
	if err != nil {
		t.Fatalf("FileSize() error = %v", err)
	}
	file, err := fs.NewRandomAccessFile("/000005.sst")
	if err != nil {
		t.Fatalf("NewRandomAccessFile() error = %v", err)
	}
	buf := make([]byte, size)
	if _, err := file.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}

	truncated, err := fs.NewWritableFile("/truncated.sst")
	if err != nil {
		t.Fatalf("NewWritableFile() error = %v", err)
	}
	if _, err := truncated.Append(buf[:size-1]); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	truncated.Close()

	tsize, _ := fs.FileSize("/truncated.sst")
	tfile, err := fs.NewRandomAccessFile("/truncated.sst")
	if err != nil {
		t.Fatalf("NewRandomAccessFile() error = %v", err)
	}
	if _, err := Open(OpenOptions{Comparator: cmp}, 1, tfile, tsize); err == nil {
		t.Error("Open() on a file with its footer sheared off: want error, got nil")
	}
}

func TestTableCacheGetReusesOpenReader(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	buildTable(t, fs, "/db/000001.sst", opts, [][2]string{{"apple", "1"}})

	tc := NewTableCache(fs, "/db", OpenOptions{Comparator: cmp}, 10)
	defer tc.Close()

	r1, err := tc.Get(1)
	if err != nil {
		t.Fatalf("Get(1) error = %v", err)
	}
	r2, err := tc.Get(1)
	if err != nil {
		t.Fatalf("Get(1) (second call) error = %v", err)
	}
	if r1 != r2 {
		t.Error("Get(1) called twice returned different Readers, want the cached one reused")
	}
	tc.Release(1)
	tc.Release(1)
}

func TestTableCacheEvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	for i := uint64(1); i <= 3; i++ {
		buildTable(t, fs, SSTFileName("/db", i), opts, [][2]string{{"k", "v"}})
	}

	tc := NewTableCache(fs, "/db", OpenOptions{Comparator: cmp}, 2)
	defer tc.Close()

	for i := uint64(1); i <= 3; i++ {
		if _, err := tc.Get(i); err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		tc.Release(i)
	}

	// File 1 was least recently used once the cache's 2-entry capacity was
	// exceeded by opening file 3, and nothing kept it pinned.
	if _, ok := tc.cache[1]; ok {
		t.Error("file 1 still cached after file 3 was opened with capacity 2, want it evicted")
	}
	if _, err := tc.Get(1); err != nil {
		t.Fatalf("Get(1) after eviction should still succeed by reopening: error = %v", err)
	}
	tc.Release(1)
}

func TestTableCacheEvictClosesUnderlyingFile(t *testing.T) {
	fs := vfs.NewMem()
	cmp := dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	opts := Options{BlockSize: 4096, BlockRestartInterval: 16, Comparator: cmp}
	buildTable(t, fs, "/db/000001.sst", opts, [][2]string{{"k", "v"}})

	tc := NewTableCache(fs, "/db", OpenOptions{Comparator: cmp}, 10)
	defer tc.Close()

	if _, err := tc.Get(1); err != nil {
		t.Fatalf("Get(1) error = %v", err)
	}
	tc.Release(1)
	tc.Evict(1)

	if _, err := tc.Get(1); err != nil {
		t.Fatalf("Get(1) after Evict should reopen from disk: error = %v", err)
	}
	tc.Release(1)
}
