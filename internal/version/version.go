// Package version manages the LSM-tree's Versions: the set of live SST
// files at each level, and the VersionSet that owns the MANIFEST log and
// produces new Versions by applying VersionEdits.
package version

import (
	"sync/atomic"

	"github.com/aalhour/embedkv/internal/manifest"
)

// MaxNumLevels is the number of levels in the LSM-tree, L0 through L6.
const MaxNumLevels = 7

// Version is an immutable snapshot of the set of live SST files, one slice
// per level. New Versions are produced by applying a VersionEdit to a base
// Version via a Builder; the base itself is never mutated.
//
// Versions are reference-counted. A reader holding a Version via Ref()
// keeps every file it names from being deleted out from under it, even if
// compaction later installs a newer Version. Call Unref() when done.
type Version struct {
	files [MaxNumLevels][]*manifest.FileMetaData

	refs int32

	vset          *VersionSet
	versionNumber uint64

	prev *Version
	next *Version

	// compactionScore and compactionLevel hold the highest-scoring level
	// and its score, computed by finalize() right after the Version is
	// built. A score >= 1 means that level is due for compaction.
	compactionScore float64
	compactionLevel int
}

// NewVersion creates a new empty Version.
func NewVersion(vset *VersionSet, versionNumber uint64) *Version {
	return &Version{vset: vset, versionNumber: versionNumber, compactionLevel: -1}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count, unlinking v from its VersionSet's
// list once it drops to zero.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		v.prev = nil
		v.next = nil
	}
}

// NumLevels returns the number of levels in use.
func (v *Version) NumLevels() int { return MaxNumLevels }

// NumFiles returns the number of files at level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the files at level, sorted as described in Builder.SaveTo:
// L0 by file number, L>=1 by smallest key.
func (v *Version) Files(level int) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the total number of live files across all levels.
func (v *Version) TotalFiles() int {
	total := 0
	for level := 0; level < MaxNumLevels; level++ {
		total += len(v.files[level])
	}
	return total
}

// NumLevelBytes returns the total size in bytes of files at level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FileSize
	}
	return size
}

// VersionNumber returns the version number, used only for logging.
func (v *Version) VersionNumber() uint64 { return v.versionNumber }

// CompactionScore and CompactionLevel report the outcome of the scoring
// pass finalize() ran when this Version was built: the most compaction-due
// level and its score. A score < 1 means no level needs compaction.
func (v *Version) CompactionScore() float64 { return v.compactionScore }
func (v *Version) CompactionLevel() int     { return v.compactionLevel }

// OverlappingInputs returns the files at level whose key range intersects
// [begin, end]. A nil begin or end means "unbounded" on that side.
func (v *Version) OverlappingInputs(level int, begin, end []byte) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	icmp := v.vset.icmp

	var result []*manifest.FileMetaData
	for _, f := range v.files[level] {
		if begin != nil && icmp.Compare(f.Largest, begin) < 0 {
			continue
		}
		if end != nil && icmp.Compare(f.Smallest, end) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

// finalize computes the compaction score for every level and records the
// highest-scoring one, called once by Builder.SaveTo right after a new
// Version's file lists are populated.
func (v *Version) finalize() {
	bestLevel := -1
	bestScore := -1.0

	for level := 0; level < MaxNumLevels-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(v.files[0])) / float64(l0CompactionTrigger)
		} else {
			score = float64(v.NumLevelBytes(level)) / float64(maxBytesForLevel(level))
		}
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}

	v.compactionScore = bestScore
	v.compactionLevel = bestLevel
}

// l0CompactionTrigger is the number of L0 files that gives that level a
// compaction score of 1.
const l0CompactionTrigger = 4

// baseLevelBytes and levelSizeMultiplier set max_bytes_for_level: L1 holds
// up to 10 MiB, and each deeper level holds ten times its parent.
const (
	baseLevelBytes      = 10 << 20
	levelSizeMultiplier = 10
)

// maxBytesForLevel returns the target size budget for level (level >= 1).
func maxBytesForLevel(level int) uint64 {
	result := uint64(baseLevelBytes)
	for l := 1; l < level; l++ {
		result *= levelSizeMultiplier
	}
	return result
}
