package embedkv

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/batch"
	"github.com/aalhour/embedkv/internal/block"
	"github.com/aalhour/embedkv/internal/compaction"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/logging"
	"github.com/aalhour/embedkv/internal/manifest"
	"github.com/aalhour/embedkv/internal/memtable"
	"github.com/aalhour/embedkv/internal/table"
	"github.com/aalhour/embedkv/internal/version"
	"github.com/aalhour/embedkv/internal/vfs"
	"github.com/aalhour/embedkv/internal/wal"
)

// DB is an open database. A DB is safe for concurrent use by multiple
// goroutines; writes are serialized internally through a single mutex,
// and exactly one background goroutine runs compaction and flush work.
type DB struct {
	name string
	opts Options
	fs   vfs.FS
	icmp *dbformat.InternalKeyComparator

	logger    Logger
	logCloser io.Closer
	lock      io.Closer

	mu      sync.Mutex
	closed  bool
	immCond *sync.Cond

	versions   *version.VersionSet
	tableCache *table.TableCache
	picker     *compaction.Picker

	mem *memtable.MemTable
	imm *memtable.MemTable

	logFile       vfs.WritableFile
	logFileNumber uint64
	logWriter     *wal.Writer

	walDisabledWarned bool

	bg *backgroundWork

	backgroundErr atomic.Pointer[error]
}

func logFileName(dbName string, num uint64) string {
	return fmt.Sprintf("%s/%06d.log", dbName, num)
}

func lockFileName(dbName string) string {
	return dbName + "/LOCK"
}

func currentFileName(dbName string) string {
	return dbName + "/CURRENT"
}

// Open opens the database at name, creating it if Options.CreateIfMissing
// is set and it does not yet exist.
func Open(name string, opts *Options) (*DB, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o = o.withDefaults()

	if err := o.FS.MkdirAll(name); err != nil {
		return nil, errs.IOError("mkdir", name, err)
	}

	lock, err := o.FS.LockFile(lockFileName(name))
	if err != nil {
		return nil, fmt.Errorf("%w: database %q is locked by another process: %v", errs.ErrIOError, name, err)
	}

	logger := o.Logger
	var logCloser io.Closer
	if logger == nil {
		fileLogger, closer, lerr := logging.OpenFileLogger(name, logging.LevelInfo, "db")
		if lerr != nil {
			_ = lock.Close()
			return nil, lerr
		}
		logger, logCloser = fileLogger, closer
	}

	icmp := dbformat.NewInternalKeyComparator(o.Comparator)
	db := &DB{
		name:      name,
		opts:      o,
		fs:        o.FS,
		icmp:      icmp,
		logger:    logger,
		logCloser: logCloser,
		lock:      lock,
	}
	db.immCond = sync.NewCond(&db.mu)

	db.versions = version.NewVersionSet(version.Options{DBName: name, FS: o.FS, Icmp: icmp})
	db.picker = compaction.NewPicker(icmp)

	openOpts := table.OpenOptions{Comparator: icmp, FilterPolicy: o.FilterPolicy, VerifyChecksums: false, Cache: o.BlockCache}
	db.tableCache = table.NewTableCache(o.FS, name, openOpts, o.MaxOpenFiles)

	if err := db.recoverAndInit(); err != nil {
		_ = lock.Close()
		return nil, err
	}

	db.bg = newBackgroundWork(db)
	db.bg.Start()

	logger.Info("opened database %q (log=%06d)", name, db.logFileNumber)
	return db, nil
}

// Close stops the background worker and releases every open file handle.
// Close is not safe to call concurrently with any other DB method.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.immCond.Broadcast()
	db.mu.Unlock()

	db.bg.Stop()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.logFile != nil {
		record(db.logFile.Close())
	}
	record(db.tableCache.Close())
	record(db.versions.Close())
	if db.logCloser != nil {
		record(db.logCloser.Close())
	}
	record(db.lock.Close())

	return firstErr
}

// getBackgroundError returns the latched background error, if any. Once
// set, it is returned by every subsequent write until Close/Open.
func (db *DB) getBackgroundError() error {
	if p := db.backgroundErr.Load(); p != nil {
		return *p
	}
	return nil
}

// setBackgroundError latches err as the permanent background error,
// unless one is already set. Compaction backs off once this is set.
func (db *DB) setBackgroundError(err error) {
	if err == nil {
		return
	}
	db.backgroundErr.CompareAndSwap(nil, &err)
}

// Put writes key=value, assigning it the next sequence number.
func (db *DB) Put(opts *WriteOptions, key, value []byte) error {
	b := batch.New()
	b.Put(key, value)
	return db.Write(opts, b)
}

// Delete records a tombstone for key.
func (db *DB) Delete(opts *WriteOptions, key []byte) error {
	b := batch.New()
	b.Delete(key)
	return db.Write(opts, b)
}

// Write atomically applies every operation in b, appending it as one WAL
// record and one memtable insertion pass.
//
// The write path (acquire write mutex; make room; stamp sequence numbers;
// append to WAL, fsync if requested; apply to the live memtable; release
// the mutex) is ordered so that the memtable is updated before the mutex
// is released, unlike a design that applies the batch to memtable after
// unlocking: a waiting reader that acquires the mutex immediately after a
// writer must see that writer's data already reflected in db.mem.
func (db *DB) Write(opts *WriteOptions, b *batch.Batch) error {
	if opts == nil {
		opts = DefaultWriteOptions()
	}
	if b.Empty() {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return errs.ErrClosed
	}
	if err := db.getBackgroundError(); err != nil {
		return err
	}
	if err := db.makeRoomForWrite(); err != nil {
		return err
	}

	firstSeq := db.versions.LastSequence() + 1
	b.SetSequence(firstSeq)
	db.versions.SetLastSequence(firstSeq + dbformat.SequenceNumber(b.Count()) - 1)

	if err := db.logWriter.AddRecord(b.Contents()); err != nil {
		return err
	}
	if opts.Sync {
		if err := db.logFile.Sync(); err != nil {
			return err
		}
	}

	return batch.InsertInto(b, db.mem)
}

// makeRoomForWrite freezes the live memtable and rolls a new WAL segment
// once the live memtable's approximate size reaches WriteBufferSize. If
// an immutable memtable is already waiting on a flush, writers block
// here until the background worker drains it, since only one immutable
// memtable slot exists at a time. REQUIRES: db.mu held.
func (db *DB) makeRoomForWrite() error {
	for {
		if db.closed {
			return errs.ErrClosed
		}
		if err := db.getBackgroundError(); err != nil {
			return err
		}
		if db.mem.ApproximateMemoryUsage() < int64(db.opts.WriteBufferSize) {
			return nil
		}
		if db.imm == nil {
			break
		}
		db.immCond.Wait()
	}

	logNum := db.versions.NextFileNumber()
	file, err := db.fs.NewWritableFile(logFileName(db.name, logNum))
	if err != nil {
		return err
	}

	db.imm = db.mem
	db.mem = memtable.New(db.icmp)
	db.logFile = file
	db.logFileNumber = logNum
	db.logWriter = wal.NewWriter(file, 0)

	db.bg.MaybeScheduleFlush()
	return nil
}

// Get returns the value for key as of opts.Snapshot, or the most recent
// write if no snapshot is given. It returns an error satisfying
// errs.IsNotFound if key has no live value.
func (db *DB) Get(opts *ReadOptions, key []byte) ([]byte, error) {
	if opts == nil {
		opts = DefaultReadOptions()
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, errs.ErrClosed
	}
	seq := db.versions.LastSequence()
	if opts.Snapshot != nil {
		seq = opts.Snapshot.sequence
	}
	mem, imm := db.mem, db.imm
	current := db.versions.Current()
	current.Ref()
	db.mu.Unlock()
	defer current.Unref()

	lkey := dbformat.NewLookupKey(key, seq)

	if val, res := mem.Get(lkey); res != memtable.LookupNotFound {
		if res == memtable.LookupDeleted {
			return nil, errs.ErrNotFound
		}
		return val, nil
	}
	if imm != nil {
		if val, res := imm.Get(lkey); res != memtable.LookupNotFound {
			if res == memtable.LookupDeleted {
				return nil, errs.ErrNotFound
			}
			return val, nil
		}
	}

	return db.getFromVersion(current, lkey, opts.FillCache)
}

// getFromVersion searches v's on-disk files for lookupKey's user key, L0
// newest-file-first (L0 files may overlap), then each deeper level via
// binary search over its non-overlapping, sorted file list.
func (db *DB) getFromVersion(v *version.Version, lookupKey *dbformat.LookupKey, fillCache bool) ([]byte, error) {
	ikey := lookupKey.InternalKey()
	userKey := lookupKey.UserKey()
	ucmp := db.icmp.UserCmp

	l0 := v.Files(0)
	for i := len(l0) - 1; i >= 0; i-- {
		f := l0[i]
		if ucmp.Compare(userKey, dbformat.ExtractUserKey(f.Smallest)) < 0 {
			continue
		}
		if ucmp.Compare(userKey, dbformat.ExtractUserKey(f.Largest)) > 0 {
			continue
		}
		val, res, err := db.getFromFile(f, ikey, userKey, fillCache)
		if err != nil {
			return nil, err
		}
		switch res {
		case memtable.LookupFound:
			return val, nil
		case memtable.LookupDeleted:
			return nil, errs.ErrNotFound
		}
	}

	for level := 1; level < v.NumLevels(); level++ {
		files := v.Files(level)
		if len(files) == 0 {
			continue
		}
		idx := findFile(files, ikey, db.icmp)
		if idx >= len(files) {
			continue
		}
		f := files[idx]
		if ucmp.Compare(userKey, dbformat.ExtractUserKey(f.Smallest)) < 0 {
			continue
		}
		val, res, err := db.getFromFile(f, ikey, userKey, fillCache)
		if err != nil {
			return nil, err
		}
		switch res {
		case memtable.LookupFound:
			return val, nil
		case memtable.LookupDeleted:
			return nil, errs.ErrNotFound
		}
	}

	return nil, errs.ErrNotFound
}

// findFile returns the index of the first file in files (sorted by
// ascending Largest, non-overlapping) whose Largest key is >= ikey.
func findFile(files []*manifest.FileMetaData, ikey []byte, icmp *dbformat.InternalKeyComparator) int {
	lo, hi := 0, len(files)
	for lo < hi {
		mid := (lo + hi) / 2
		if icmp.Compare(files[mid].Largest, ikey) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// getFromFile probes one SST for ikey: an index-block seek to the
// candidate data block, a filter check before paying for the block read,
// then a seek inside the data block itself.
func (db *DB) getFromFile(f *manifest.FileMetaData, ikey, userKey []byte, fillCache bool) ([]byte, memtable.LookupResult, error) {
	reader, err := db.tableCache.Get(f.FileNumber)
	if err != nil {
		return nil, memtable.LookupNotFound, err
	}
	defer db.tableCache.Release(f.FileNumber)

	indexIt := reader.NewIndexIterator()
	indexIt.Seek(ikey)
	if !indexIt.Valid() {
		return nil, memtable.LookupNotFound, indexIt.Err()
	}

	handle, _, err := block.DecodeHandle(indexIt.Value())
	if err != nil {
		return nil, memtable.LookupNotFound, err
	}
	if !reader.KeyMayMatch(handle.Offset, userKey) {
		return nil, memtable.LookupNotFound, nil
	}

	dataIt, err := reader.NewDataIteratorFill(indexIt.Value(), fillCache)
	if err != nil {
		return nil, memtable.LookupNotFound, err
	}
	dataIt.Seek(ikey)
	if !dataIt.Valid() {
		return nil, memtable.LookupNotFound, dataIt.Err()
	}

	parsed, perr := dbformat.ParseInternalKey(dataIt.Key())
	if perr != nil {
		return nil, memtable.LookupNotFound, perr
	}
	if db.icmp.UserCmp.Compare(parsed.UserKey, userKey) != 0 {
		return nil, memtable.LookupNotFound, nil
	}
	if parsed.Type == dbformat.TypeDeletion {
		return nil, memtable.LookupDeleted, nil
	}
	return append([]byte(nil), dataIt.Value()...), memtable.LookupFound, nil
}

// GetSnapshot returns a Snapshot pinned at the database's current
// sequence number.
func (db *DB) GetSnapshot() *Snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &Snapshot{sequence: db.versions.LastSequence()}
}

// ReleaseSnapshot is a no-op: Snapshot carries only a sequence number,
// with no reference held against compaction.
func (db *DB) ReleaseSnapshot(*Snapshot) {}
