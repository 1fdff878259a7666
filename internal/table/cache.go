package table

import (
	"fmt"
	"sync"

	"github.com/aalhour/embedkv/internal/vfs"
)

// TableCache caches open SST file readers, keyed by file number, so
// repeated lookups against the same file don't reopen and re-parse its
// footer and index block every time.
type TableCache struct {
	mu sync.Mutex

	fs      vfs.FS
	dbName  string
	opts    OpenOptions
	maxSize int

	cache   map[uint64]*cachedReader
	lruHead *cachedReader
	lruTail *cachedReader
	size    int
}

type cachedReader struct {
	fileNum uint64
	file    vfs.RandomAccessFile
	reader  *Reader

	prev, next *cachedReader
	refs       int
}

// NewTableCache creates a TableCache that opens SST files named
// "<dbName>/<fileNum>.sst" through fs, keeping at most maxOpenFiles open.
func NewTableCache(fs vfs.FS, dbName string, opts OpenOptions, maxOpenFiles int) *TableCache {
	if maxOpenFiles <= 0 {
		maxOpenFiles = 1000
	}
	return &TableCache{
		fs:      fs,
		dbName:  dbName,
		opts:    opts,
		maxSize: maxOpenFiles,
		cache:   make(map[uint64]*cachedReader),
	}
}

// SSTFileName returns the conventional path of the SST file for fileNum.
func SSTFileName(dbName string, fileNum uint64) string {
	return fmt.Sprintf("%s/%06d.sst", dbName, fileNum)
}

// Get returns the Reader for fileNum, opening and caching it if needed.
// The caller must call Release(fileNum) when done.
func (tc *TableCache) Get(fileNum uint64) (*Reader, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if cr, ok := tc.cache[fileNum]; ok {
		cr.refs++
		tc.moveToFront(cr)
		return cr.reader, nil
	}

	path := SSTFileName(tc.dbName, fileNum)
	size, err := tc.fs.FileSize(path)
	if err != nil {
		return nil, err
	}
	file, err := tc.fs.NewRandomAccessFile(path)
	if err != nil {
		return nil, err
	}
	reader, err := Open(tc.opts, fileNum, file, size)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	cr := &cachedReader{fileNum: fileNum, file: file, reader: reader, refs: 1}
	tc.cache[fileNum] = cr
	tc.addToFront(cr)
	tc.size++
	tc.evictIfNeeded()
	return reader, nil
}

// Release decrements fileNum's reference count, allowing it to be evicted.
func (tc *TableCache) Release(fileNum uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if cr, ok := tc.cache[fileNum]; ok {
		cr.refs--
	}
}

// Evict removes fileNum from the cache immediately, e.g. once compaction
// has deleted its underlying SST file.
func (tc *TableCache) Evict(fileNum uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if cr, ok := tc.cache[fileNum]; ok {
		tc.remove(cr)
	}
}

// Close closes every cached reader.
func (tc *TableCache) Close() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, cr := range tc.cache {
		_ = cr.file.Close()
	}
	tc.cache = make(map[uint64]*cachedReader)
	tc.lruHead, tc.lruTail = nil, nil
	tc.size = 0
	return nil
}

func (tc *TableCache) addToFront(cr *cachedReader) {
	cr.prev, cr.next = nil, tc.lruHead
	if tc.lruHead != nil {
		tc.lruHead.prev = cr
	}
	tc.lruHead = cr
	if tc.lruTail == nil {
		tc.lruTail = cr
	}
}

func (tc *TableCache) moveToFront(cr *cachedReader) {
	if cr == tc.lruHead {
		return
	}
	if cr.prev != nil {
		cr.prev.next = cr.next
	}
	if cr.next != nil {
		cr.next.prev = cr.prev
	}
	if cr == tc.lruTail {
		tc.lruTail = cr.prev
	}
	cr.prev, cr.next = nil, tc.lruHead
	if tc.lruHead != nil {
		tc.lruHead.prev = cr
	}
	tc.lruHead = cr
}

func (tc *TableCache) remove(cr *cachedReader) {
	if cr.prev != nil {
		cr.prev.next = cr.next
	} else {
		tc.lruHead = cr.next
	}
	if cr.next != nil {
		cr.next.prev = cr.prev
	} else {
		tc.lruTail = cr.prev
	}
	delete(tc.cache, cr.fileNum)
	tc.size--
	_ = cr.file.Close()
}

func (tc *TableCache) evictIfNeeded() {
	for tc.size > tc.maxSize && tc.lruTail != nil {
		if tc.lruTail.refs > 0 {
			break
		}
		tc.remove(tc.lruTail)
	}
}
