package version

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/manifest"
	"github.com/aalhour/embedkv/internal/vfs"
	"github.com/aalhour/embedkv/internal/wal"
)

// Options configures a VersionSet.
type Options struct {
	DBName string
	FS     vfs.FS
	Icmp   *dbformat.InternalKeyComparator
}

// VersionSet owns the MANIFEST log and the linked list of live Versions,
// and is the only place new Versions get created from VersionEdits.
type VersionSet struct {
	mu sync.Mutex

	// listMu guards only the Version linked list, so Unref (which can run
	// from any goroutine holding a reference) never has to take mu.
	listMu sync.Mutex

	opts Options
	icmp *dbformat.InternalKeyComparator

	current       *Version
	dummyVersions Version

	nextFileNumber     uint64
	manifestFileNumber uint64
	lastSequence       uint64
	logNumber          uint64
	prevLogNumber      uint64

	// compactPointer[level] is the largest internal key of the last
	// compaction's inputs at that level, so the next
	// compaction picked there starts from where the last one left off
	// instead of always favoring the same key range.
	compactPointer [MaxNumLevels]dbformat.InternalKey

	currentVersionNumber uint64

	manifestFile   vfs.WritableFile
	manifestWriter *wal.Writer
}

// NewVersionSet creates an empty VersionSet. Call Create (for a fresh
// database) or Recover (to reopen an existing one) before use.
func NewVersionSet(opts Options) *VersionSet {
	if opts.Icmp == nil {
		opts.Icmp = dbformat.NewInternalKeyComparator(dbformat.BytewiseComparator)
	}
	vs := &VersionSet{opts: opts, icmp: opts.Icmp, nextFileNumber: 2}
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	return vs
}

// Current returns the current (newest) Version. The caller should Ref()
// it before releasing vs.mu's implicit protection (i.e. immediately).
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// NextFileNumber allocates and returns a fresh file number.
func (vs *VersionSet) NextFileNumber() uint64 {
	return atomic.AddUint64(&vs.nextFileNumber, 1) - 1
}

// NextVersionNumber allocates a version sequence number, used only for
// logging/debugging.
func (vs *VersionSet) NextVersionNumber() uint64 {
	return atomic.AddUint64(&vs.currentVersionNumber, 1)
}

// LastSequence returns the most recently assigned write sequence number.
func (vs *VersionSet) LastSequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(atomic.LoadUint64(&vs.lastSequence))
}

// SetLastSequence records the most recently assigned write sequence
// number; callers must only move it forward.
func (vs *VersionSet) SetLastSequence(seq dbformat.SequenceNumber) {
	atomic.StoreUint64(&vs.lastSequence, uint64(seq))
}

// LogNumber returns the WAL file number the current Version expects to
// find live entries in.
func (vs *VersionSet) LogNumber() uint64 { return vs.logNumber }

// PrevLogNumber returns the previous WAL file number still being
// replayed during a log-to-log compaction, or 0 if none.
func (vs *VersionSet) PrevLogNumber() uint64 { return vs.prevLogNumber }

// ManifestFileNumber returns the file number of the active MANIFEST.
func (vs *VersionSet) ManifestFileNumber() uint64 { return vs.manifestFileNumber }

// Icmp returns the internal-key comparator this VersionSet was opened
// with.
func (vs *VersionSet) Icmp() *dbformat.InternalKeyComparator { return vs.icmp }

// CompactPointer returns the recorded compaction pointer for level, or
// nil if compaction has never run there.
func (vs *VersionSet) CompactPointer(level int) dbformat.InternalKey {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return vs.compactPointer[level]
}

// NumLevelFiles returns the number of files at level in the current
// Version.
func (vs *VersionSet) NumLevelFiles(level int) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current == nil {
		return 0
	}
	return vs.current.NumFiles(level)
}

func currentFilePath(dbName string) string { return dbName + "/CURRENT" }

func manifestPath(dbName string, n uint64) string {
	return fmt.Sprintf("%s/MANIFEST-%06d", dbName, n)
}

// Create initializes a brand-new database: an empty Version and a first
// MANIFEST recording the comparator, log_number=0, and last_sequence=0.
func (vs *VersionSet) Create() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.current = NewVersion(vs, vs.NextVersionNumber())
	vs.current.Ref()
	vs.appendVersion(vs.current)

	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(vs.icmp.UserCmp.Name())
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(atomic.LoadUint64(&vs.nextFileNumber))
	edit.SetLastSequence(0)

	return vs.logAndApplyLocked(edit)
}

// Recover reads CURRENT and the MANIFEST it names, replays every
// VersionEdit into a Builder, and installs the resulting Version as
// current. It also scans the database directory for files whose number
// isn't reflected in nextFileNumber, so recovery never reissues a file
// number already present on disk.
func (vs *VersionSet) Recover() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	currentData, err := readWholeFile(vs.opts.FS, currentFilePath(vs.opts.DBName))
	if err != nil {
		return err
	}
	manifestName := strings.TrimSpace(string(currentData))
	if !strings.HasPrefix(manifestName, "MANIFEST-") {
		return errs.Corruption("version: malformed CURRENT file %q", manifestName)
	}
	manifestNum, err := strconv.ParseUint(strings.TrimPrefix(manifestName, "MANIFEST-"), 10, 64)
	if err != nil {
		return errs.Corruption("version: malformed MANIFEST number in CURRENT: %v", err)
	}

	manifestData, err := readWholeFile(vs.opts.FS, vs.opts.DBName+"/"+manifestName)
	if err != nil {
		return err
	}

	builder := NewBuilder(vs, nil)
	reader, err := wal.NewReader(bytes.NewReader(manifestData), nil, true)
	if err != nil {
		return err
	}

	var hasLogNumber, hasNextFileNumber, hasLastSequence bool
	maxFileNumSeen := manifestNum

	for {
		record, ok, err := reader.ReadRecord()
		if err != nil {
			return errs.Corruption("version: manifest read error: %v", err)
		}
		if !ok {
			break
		}

		var edit manifest.VersionEdit
		if err := edit.DecodeFrom(record); err != nil {
			return err
		}
		if err := builder.Apply(&edit); err != nil {
			return err
		}

		for _, nf := range edit.NewFiles {
			if nf.Meta.FileNumber > maxFileNumSeen {
				maxFileNumSeen = nf.Meta.FileNumber
			}
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			vs.logNumber = edit.LogNumber
			if edit.LogNumber > maxFileNumSeen {
				maxFileNumSeen = edit.LogNumber
			}
		}
		if edit.HasPrevLogNumber {
			vs.prevLogNumber = edit.PrevLogNumber
			if edit.PrevLogNumber > maxFileNumSeen {
				maxFileNumSeen = edit.PrevLogNumber
			}
		}
		if edit.HasNextFileNumber {
			hasNextFileNumber = true
			atomic.StoreUint64(&vs.nextFileNumber, edit.NextFileNumber)
		}
		if edit.HasLastSequence {
			hasLastSequence = true
			atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
		}
		for _, cp := range edit.CompactPointers {
			if cp.Level >= 0 && cp.Level < MaxNumLevels {
				vs.compactPointer[cp.Level] = cp.Key
			}
		}
	}

	if !hasLogNumber {
		return errs.Corruption("version: manifest missing log number")
	}
	if !hasLastSequence {
		return errs.Corruption("version: manifest missing last sequence")
	}
	if !hasNextFileNumber || atomic.LoadUint64(&vs.nextFileNumber) <= maxFileNumSeen {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}

	if maxOnDisk := vs.scanForMaxFileNumber(); maxOnDisk >= atomic.LoadUint64(&vs.nextFileNumber) {
		atomic.StoreUint64(&vs.nextFileNumber, maxOnDisk+1)
	}

	vs.manifestFileNumber = manifestNum
	vs.current = builder.SaveTo(vs)
	vs.current.Ref()
	vs.appendVersion(vs.current)

	return nil
}

// scanForMaxFileNumber scans the database directory for SST, WAL, and
// MANIFEST files and returns the highest file number found, so Recover
// can avoid reissuing a number already in use by an orphaned file (one
// created on disk but never recorded in the MANIFEST because of a crash
// between the write and the log-and-apply).
func (vs *VersionSet) scanForMaxFileNumber() uint64 {
	children, err := vs.opts.FS.GetChildren(vs.opts.DBName)
	if err != nil {
		return 0
	}
	var maxNum uint64
	for _, name := range children {
		var numStr string
		switch {
		case strings.HasSuffix(name, ".sst"):
			numStr = strings.TrimSuffix(name, ".sst")
		case strings.HasSuffix(name, ".log"):
			numStr = strings.TrimSuffix(name, ".log")
		default:
			if s, ok := strings.CutPrefix(name, "MANIFEST-"); ok {
				numStr = s
			} else {
				continue
			}
		}
		if n, err := strconv.ParseUint(numStr, 10, 64); err == nil && n > maxNum {
			maxNum = n
		}
	}
	return maxNum
}

// LogAndApply builds the Version that results from applying edit to the
// current Version, durably records edit in the MANIFEST, and installs
// the new Version as current.
//
// Durability order matters: the edit is appended and the MANIFEST file
// is synced before CURRENT is ever rewritten, so a crash can only ever
// leave CURRENT pointing at a MANIFEST whose every record is intact.
func (vs *VersionSet) LogAndApply(edit *manifest.VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logAndApplyLocked(edit)
}

func (vs *VersionSet) logAndApplyLocked(edit *manifest.VersionEdit) error {
	builder := NewBuilder(vs, vs.current)
	if err := builder.Apply(edit); err != nil {
		return err
	}
	newVersion := builder.SaveTo(vs)

	for _, cp := range edit.CompactPointers {
		if cp.Level >= 0 && cp.Level < MaxNumLevels {
			vs.compactPointer[cp.Level] = cp.Key
		}
	}

	edit.SetNextFileNumber(atomic.LoadUint64(&vs.nextFileNumber))

	newManifest := false
	if vs.manifestWriter == nil {
		manifestNum := vs.NextFileNumber()
		file, err := vs.opts.FS.NewWritableFile(manifestPath(vs.opts.DBName, manifestNum))
		if err != nil {
			return err
		}
		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file, 0)
		vs.manifestFileNumber = manifestNum
		newManifest = true

		snapshot := vs.snapshotEdit()
		if err := vs.manifestWriter.AddRecord(snapshot.EncodeTo(nil)); err != nil {
			return err
		}
	}

	if err := vs.manifestWriter.AddRecord(edit.EncodeTo(nil)); err != nil {
		return err
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}

	if newManifest {
		if err := vs.setCurrentFile(vs.manifestFileNumber); err != nil {
			return err
		}
	}

	if edit.HasLogNumber {
		vs.logNumber = edit.LogNumber
	}
	if edit.HasPrevLogNumber {
		vs.prevLogNumber = edit.PrevLogNumber
	}

	vs.appendVersion(newVersion)
	newVersion.Ref()
	if vs.current != nil {
		vs.current.Unref()
	}
	vs.current = newVersion

	return nil
}

// snapshotEdit captures the full current state (comparator, log number,
// next file number, last sequence, and every live file) as one edit, so
// that a freshly created MANIFEST never depends on a predecessor.
func (vs *VersionSet) snapshotEdit() *manifest.VersionEdit {
	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(vs.icmp.UserCmp.Name())
	edit.SetLogNumber(vs.logNumber)
	edit.SetNextFileNumber(atomic.LoadUint64(&vs.nextFileNumber))
	edit.SetLastSequence(dbformat.SequenceNumber(atomic.LoadUint64(&vs.lastSequence)))

	if vs.current != nil {
		for level := 0; level < MaxNumLevels; level++ {
			for _, f := range vs.current.files[level] {
				edit.AddFile(level, *f)
			}
		}
	}
	return edit
}

// setCurrentFile atomically repoints CURRENT at MANIFEST-<manifestNum>,
// via a temp file that's written and synced before the rename so a
// mid-write crash never leaves CURRENT truncated or missing.
func (vs *VersionSet) setCurrentFile(manifestNum uint64) error {
	name := fmt.Sprintf("MANIFEST-%06d", manifestNum)
	tempPath := vs.opts.DBName + "/CURRENT.tmp"
	finalPath := currentFilePath(vs.opts.DBName)

	f, err := vs.opts.FS.NewWritableFile(tempPath)
	if err != nil {
		return err
	}
	if _, err := f.Append([]byte(name + "\n")); err != nil {
		_ = f.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	if err := vs.opts.FS.Rename(tempPath, finalPath); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return err
	}
	return nil
}

// appendVersion links v in at the tail of the version list.
func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	v.prev.next = v
	v.next.prev = v
}

// Close releases the MANIFEST writer.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile != nil {
		err := vs.manifestFile.Close()
		vs.manifestFile = nil
		vs.manifestWriter = nil
		return err
	}
	return nil
}

func readWholeFile(fs vfs.FS, path string) ([]byte, error) {
	f, err := fs.NewSequentialFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errs.IOError("read", path, err)
		}
	}
	return buf.Bytes(), nil
}
