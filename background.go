package embedkv

import (
	"sync"

	"github.com/aalhour/embedkv/internal/compaction"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/manifest"
	"github.com/aalhour/embedkv/internal/memtable"
	"github.com/aalhour/embedkv/internal/table"
	"github.com/aalhour/embedkv/internal/version"
)

// backgroundWork runs the single compaction/flush goroutine a DB keeps
// for its lifetime. Scheduling is a coalescing signal, not a queue: a
// flush or compaction already pending absorbs any further nudge, since
// each pass re-reads the live Version and picks whatever is due rather
// than processing a backlog of individual requests.
type backgroundWork struct {
	db *DB

	flushCh      chan struct{}
	compactionCh chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

func newBackgroundWork(db *DB) *backgroundWork {
	return &backgroundWork{
		db:           db,
		flushCh:      make(chan struct{}, 1),
		compactionCh: make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

func (bg *backgroundWork) Start() {
	bg.wg.Add(1)
	go bg.loop()
}

func (bg *backgroundWork) Stop() {
	close(bg.stopCh)
	bg.wg.Wait()
}

// MaybeScheduleFlush wakes the background goroutine to drain the
// immutable memtable. Safe to call with the coalescing channel already
// full: a pending flush will re-check state when it runs anyway.
func (bg *backgroundWork) MaybeScheduleFlush() {
	select {
	case bg.flushCh <- struct{}{}:
	default:
	}
}

// MaybeScheduleCompaction wakes the background goroutine to reconsider
// the compaction picker against the live Version.
func (bg *backgroundWork) MaybeScheduleCompaction() {
	select {
	case bg.compactionCh <- struct{}{}:
	default:
	}
}

func (bg *backgroundWork) loop() {
	defer bg.wg.Done()
	for {
		select {
		case <-bg.stopCh:
			return
		case <-bg.flushCh:
			bg.runFlush()
		case <-bg.compactionCh:
			bg.runCompaction()
		}
	}
}

// runFlush drains db.imm, if any, into a new L0 (or pushed-down) SST and
// installs it via one VersionEdit that also records the live log number,
// so a subsequent recovery knows the flushed WAL segment no longer needs
// replaying. A successful flush re-nudges compaction, since a flush is
// exactly what pushes a level's file count or byte budget over its
// threshold.
func (bg *backgroundWork) runFlush() {
	db := bg.db

	db.mu.Lock()
	if db.closed || db.imm == nil {
		db.mu.Unlock()
		return
	}
	imm := db.imm
	db.mu.Unlock()

	meta, err := db.buildTableFromMemTable(imm)
	if err != nil {
		db.setBackgroundError(err)
		db.logger.Error("flush: %v", err)
		return
	}

	db.mu.Lock()
	level := compaction.PickLevelForMemTableOutput(db.versions.Current(), db.icmp, meta.Smallest, meta.Largest)
	edit := &manifest.VersionEdit{}
	edit.AddFile(level, *meta)
	edit.SetLogNumber(db.logFileNumber)
	if err := db.versions.LogAndApply(edit); err != nil {
		db.mu.Unlock()
		db.setBackgroundError(err)
		db.logger.Error("flush: install: %v", err)
		return
	}
	db.imm = nil
	db.immCond.Broadcast()
	db.mu.Unlock()

	db.logger.Info("flushed memtable to L%d table %06d (%d bytes)", level, meta.FileNumber, meta.FileSize)
	bg.MaybeScheduleCompaction()
}

// runCompaction asks the picker for the next due compaction against the
// live Version, runs it, and installs the result. It marks the chosen
// files as being-compacted for the duration of the run so a concurrent
// schedule doesn't pick the same files again, and always re-nudges
// compaction on success since one pass rarely brings every level back
// under its score threshold.
func (bg *backgroundWork) runCompaction() {
	db := bg.db

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return
	}
	if err := db.getBackgroundError(); err != nil {
		db.mu.Unlock()
		return
	}
	current := db.versions.Current()
	current.Ref()
	if !db.picker.NeedsCompaction(current) {
		current.Unref()
		db.mu.Unlock()
		return
	}
	c := db.picker.PickCompaction(current, db.versions)
	if c == nil {
		current.Unref()
		db.mu.Unlock()
		return
	}
	c.MarkFilesBeingCompacted(true)
	grandparents := grandparentInputs(current, c)
	db.mu.Unlock()

	builderOpts := table.Options{
		BlockSize:            db.opts.BlockSize,
		BlockRestartInterval: db.opts.BlockRestartInterval,
		Compression:          db.opts.Compression,
		FilterPolicy:         db.opts.FilterPolicy,
		Comparator:           db.icmp,
	}
	job := compaction.NewJob(c, db.name, db.fs, db.tableCache, builderOpts, db.versions.NextFileNumber, grandparents)
	outputs, err := job.Run()

	db.mu.Lock()
	c.MarkFilesBeingCompacted(false)
	current.Unref()
	if err != nil {
		db.mu.Unlock()
		db.setBackgroundError(err)
		db.logger.Error("compaction: %v", err)
		return
	}

	c.AddInputDeletions()
	if err := db.versions.LogAndApply(c.Edit); err != nil {
		db.mu.Unlock()
		db.setBackgroundError(err)
		db.logger.Error("compaction: install: %v", err)
		return
	}
	db.mu.Unlock()

	for _, f := range c.Inputs {
		for _, meta := range f.Files {
			db.tableCache.Evict(meta.FileNumber)
			_ = db.fs.Remove(table.SSTFileName(db.name, meta.FileNumber))
		}
	}

	db.logger.Info("compacted L%d -> L%d (%s): %d input files, %d output files",
		c.StartLevel(), c.OutputLevel, c.Reason, c.NumInputFiles(), len(outputs))
	bg.MaybeScheduleCompaction()
}

// grandparentInputs returns the files one level below c's output level
// whose range overlaps c, so Job.Run's tombstone-dropping check has the
// full picture of what still lies beneath the compaction's output.
func grandparentInputs(v *version.Version, c *compaction.Compaction) []*compaction.InputFiles {
	level := c.OutputLevel + 1
	if level >= v.NumLevels() {
		return nil
	}
	files := v.OverlappingInputs(level, c.SmallestKey, c.LargestKey)
	if len(files) == 0 {
		return nil
	}
	return []*compaction.InputFiles{{Level: level, Files: files}}
}

// buildTableFromMemTable writes mem's entries, in order, to a new SST,
// returning its metadata. Used both by a normal flush and by Open-time
// recovery when a replayed memtable can't be kept live (ReuseLog unset
// or the replayed segment is already past WriteBufferSize). Tombstones
// are preserved: only compaction, once a key reaches its base level, is
// allowed to drop them.
func (db *DB) buildTableFromMemTable(mem *memtable.MemTable) (*manifest.FileMetaData, error) {
	fileNum := db.versions.NextFileNumber()
	path := table.SSTFileName(db.name, fileNum)
	file, err := db.fs.NewWritableFile(path)
	if err != nil {
		return nil, err
	}

	builderOpts := table.Options{
		BlockSize:            db.opts.BlockSize,
		BlockRestartInterval: db.opts.BlockRestartInterval,
		Compression:          db.opts.Compression,
		FilterPolicy:         db.opts.FilterPolicy,
		Comparator:           db.icmp,
	}
	builder := table.NewBuilder(builderOpts, file)

	var smallest, largest []byte
	it := mem.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := it.Key()
		if err := builder.Add(key, it.Value()); err != nil {
			_ = file.Close()
			return nil, err
		}
		if smallest == nil {
			smallest = append([]byte(nil), key...)
		}
		largest = append(largest[:0], key...)
	}
	if err := it.Err(); err != nil {
		_ = file.Close()
		return nil, err
	}

	if err := builder.Finish(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := file.Flush(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	return &manifest.FileMetaData{
		FileNumber: fileNum,
		FileSize:   uint64(builder.FileSize()),
		Smallest:   dbformat.InternalKey(smallest),
		Largest:    dbformat.InternalKey(largest),
	}, nil
}
