// Package compaction picks and runs the background work that keeps the
// LSM-tree's level structure within its size targets: merging L0 files
// down into L1, and merging an overloaded level into the next one.
package compaction

import (
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/manifest"
)

// InputFiles is the set of files drawn from one level for a compaction.
type InputFiles struct {
	Level int
	Files []*manifest.FileMetaData
}

// Reason records why a Compaction was picked, for logging.
type Reason int

const (
	ReasonL0FileCount Reason = iota
	ReasonLevelSize
)

func (r Reason) String() string {
	if r == ReasonL0FileCount {
		return "L0 file count"
	}
	return "level size"
}

// Compaction describes one compaction job: which files to read, which
// level to write the merged result to, and the VersionEdit that will
// install the outcome.
type Compaction struct {
	Inputs      []*InputFiles
	OutputLevel int

	MaxOutputFileSize uint64

	SmallestKey dbformat.InternalKey
	LargestKey  dbformat.InternalKey

	Edit *manifest.VersionEdit

	Score  float64
	Reason Reason
}

// NewCompaction builds a Compaction over inputs, writing to outputLevel.
func NewCompaction(inputs []*InputFiles, outputLevel int, icmp *dbformat.InternalKeyComparator) *Compaction {
	c := &Compaction{
		Inputs:            inputs,
		OutputLevel:       outputLevel,
		MaxOutputFileSize: defaultTargetFileSize,
		Edit:              &manifest.VersionEdit{},
	}
	c.computeKeyRange(icmp)
	return c
}

// NumInputFiles returns the total number of files read by this compaction.
func (c *Compaction) NumInputFiles() int {
	total := 0
	for _, in := range c.Inputs {
		total += len(in.Files)
	}
	return total
}

// StartLevel returns the lowest level this compaction reads from.
func (c *Compaction) StartLevel() int {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

func (c *Compaction) computeKeyRange(icmp *dbformat.InternalKeyComparator) {
	first := true
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			if first {
				c.SmallestKey, c.LargestKey = f.Smallest, f.Largest
				first = false
				continue
			}
			if icmp.Compare(f.Smallest, c.SmallestKey) < 0 {
				c.SmallestKey = f.Smallest
			}
			if icmp.Compare(f.Largest, c.LargestKey) > 0 {
				c.LargestKey = f.Largest
			}
		}
	}
}

// MarkFilesBeingCompacted flags (or unflags) every input file so the
// picker doesn't select it again while this compaction runs.
func (c *Compaction) MarkFilesBeingCompacted(beingCompacted bool) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			f.BeingCompacted = beingCompacted
		}
	}
}

// AddInputDeletions records every input file as deleted-from-its-level
// in the compaction's edit; the caller adds the output files separately
// as they're finished.
func (c *Compaction) AddInputDeletions() {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			c.Edit.DeleteFile(in.Level, f.FileNumber)
		}
	}
}

// IsBaseLevelForKey reports whether level is the deepest level that
// could contain userKey, given the compaction's full set of inputs plus
// whatever untouched levels lie beneath the output level. A deletion
// can only be dropped once it reaches this point: anything shallower
// might still have an older version of the key underneath it.
func (c *Compaction) IsBaseLevelForKey(grandparents []*InputFiles, icmp *dbformat.InternalKeyComparator, userKey []byte) bool {
	for _, gp := range grandparents {
		for _, f := range gp.Files {
			if icmp.UserCmp.Compare(userKey, dbformat.ExtractUserKey(f.Largest)) <= 0 {
				if icmp.UserCmp.Compare(userKey, dbformat.ExtractUserKey(f.Smallest)) >= 0 {
					return false
				}
			}
		}
	}
	return true
}
