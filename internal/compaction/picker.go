package compaction

import (
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/manifest"
	"github.com/aalhour/embedkv/internal/version"
)

const (
	l0CompactionTrigger   = 4
	baseLevelBytes        = 10 << 20
	levelSizeMultiplier   = 10
	defaultTargetFileSize = 2 << 20
)

// CompactPointerSource supplies the per-level compaction pointer a
// Picker advances across successive calls. The Picker records the new
// pointer in the picked compaction's VersionEdit, so the next pick
// continues where this one ended once that edit is applied.
type CompactPointerSource interface {
	CompactPointer(level int) dbformat.InternalKey
}

// Picker selects the next compaction to run against a Version, using
// the score computed when that Version was built: L0's score is file
// count over l0CompactionTrigger, L>=1's is total bytes over
// maxBytesForLevel(level).
type Picker struct {
	icmp *dbformat.InternalKeyComparator
}

// NewPicker creates a Picker using icmp to order keys.
func NewPicker(icmp *dbformat.InternalKeyComparator) *Picker {
	return &Picker{icmp: icmp}
}

// NeedsCompaction reports whether v has any level whose score is >= 1.
func (p *Picker) NeedsCompaction(v *version.Version) bool {
	return v.CompactionLevel() >= 0 && v.CompactionScore() >= 1.0
}

// PickCompaction selects the next compaction for v, or nil if none is
// due. pointers supplies the compaction pointer recorded for the
// chosen level so the picked input file set rotates across the level's
// key range over successive compactions instead of always picking the
// same one.
func (p *Picker) PickCompaction(v *version.Version, pointers CompactPointerSource) *Compaction {
	level := v.CompactionLevel()
	if level < 0 || v.CompactionScore() < 1.0 {
		return nil
	}
	if level == 0 {
		return p.pickL0(v)
	}
	return p.pickLevel(v, level, pointers)
}

// pickL0 gathers every available (not already being compacted) L0
// file, expands to any L0 file overlapping that range (L0 files may
// overlap each other), then takes the overlapping L1 files too.
func (p *Picker) pickL0(v *version.Version) *Compaction {
	all := v.Files(0)
	var available []*manifest.FileMetaData
	for _, f := range all {
		if !f.BeingCompacted {
			available = append(available, f)
		}
	}
	if len(available) == 0 {
		return nil
	}

	smallest, largest := available[0].Smallest, available[0].Largest
	for _, f := range available[1:] {
		if p.icmp.Compare(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if p.icmp.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}

	l0Input := &InputFiles{Level: 0, Files: available}
	l1Input := &InputFiles{Level: 1, Files: excludeBeingCompacted(v.OverlappingInputs(1, smallest, largest))}

	inputs := []*InputFiles{l0Input}
	if len(l1Input.Files) > 0 {
		inputs = append(inputs, l1Input)
	}

	c := NewCompaction(inputs, 1, p.icmp)
	c.Reason = ReasonL0FileCount
	c.Score = float64(len(all)) / float64(l0CompactionTrigger)
	return c
}

// pickLevel picks one file from level past the last compaction
// pointer there (wrapping to the first file if the pointer is past the
// end), then the level+1 files it overlaps, and finally widens the
// level input to cover any additional level+1-overlapping file as long
// as doing so doesn't pull in more level+1 files than already
// selected.
func (p *Picker) pickLevel(v *version.Version, level int, pointers CompactPointerSource) *Compaction {
	files := v.Files(level)
	var available []*manifest.FileMetaData
	for _, f := range files {
		if !f.BeingCompacted {
			available = append(available, f)
		}
	}
	if len(available) == 0 {
		return nil
	}

	var pointer dbformat.InternalKey
	if pointers != nil {
		pointer = pointers.CompactPointer(level)
	}

	picked := available[0]
	if pointer != nil {
		for _, f := range available {
			if p.icmp.Compare(f.Largest, pointer) > 0 {
				picked = f
				break
			}
		}
	}

	levelFiles := []*manifest.FileMetaData{picked}
	nextFiles := excludeBeingCompacted(v.OverlappingInputs(level+1, picked.Smallest, picked.Largest))

	// Widen the level input to any sibling file whose range is covered
	// by [smallest,largest] of (levelFiles + nextFiles) so far, so long
	// as the level+1 overlap set doesn't grow — this keeps compactions
	// from repeatedly touching the same level+1 files across many
	// small level-N compactions.
	for {
		smallest, largest := keyRange(levelFiles, nextFiles, p.icmp)
		expanded := excludeBeingCompacted(v.OverlappingInputs(level, smallest, largest))
		if len(expanded) <= len(levelFiles) {
			break
		}
		expandedNext := excludeBeingCompacted(v.OverlappingInputs(level+1, smallest, largest))
		if len(expandedNext) > len(nextFiles) {
			break
		}
		levelFiles, nextFiles = expanded, expandedNext
	}

	inputs := []*InputFiles{{Level: level, Files: levelFiles}}
	if len(nextFiles) > 0 {
		inputs = append(inputs, &InputFiles{Level: level + 1, Files: nextFiles})
	}

	c := NewCompaction(inputs, level+1, p.icmp)
	c.Reason = ReasonLevelSize
	c.Score = v.CompactionScore()

	largest := levelFiles[len(levelFiles)-1].Largest
	for _, f := range levelFiles {
		if p.icmp.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	c.Edit.SetCompactPointer(level, largest)

	return c
}

func excludeBeingCompacted(files []*manifest.FileMetaData) []*manifest.FileMetaData {
	var out []*manifest.FileMetaData
	for _, f := range files {
		if !f.BeingCompacted {
			out = append(out, f)
		}
	}
	return out
}

func keyRange(a, b []*manifest.FileMetaData, icmp *dbformat.InternalKeyComparator) (smallest, largest dbformat.InternalKey) {
	first := true
	consider := func(f *manifest.FileMetaData) {
		if first {
			smallest, largest = f.Smallest, f.Largest
			first = false
			return
		}
		if icmp.Compare(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if icmp.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	for _, f := range a {
		consider(f)
	}
	for _, f := range b {
		consider(f)
	}
	return
}

// PickLevelForMemTableOutput chooses the level an L0 flush's output
// file should actually land on: L0 by default, but pushed down up to
// maxLevelPush levels while the candidate range doesn't overlap the
// destination level and the grandparent (destination+1) overlap stays
// bounded, so a flush of old, non-overlapping data doesn't immediately
// demand another compaction to move it out of L0.
func PickLevelForMemTableOutput(v *version.Version, icmp *dbformat.InternalKeyComparator, smallest, largest dbformat.InternalKey) int {
	const maxLevelPush = 2
	const maxGrandparentOverlapBytes = 20 << 20

	level := 0
	if len(v.OverlappingInputs(0, smallest, largest)) > 0 {
		return level
	}
	for level < maxLevelPush {
		if len(v.OverlappingInputs(level+1, smallest, largest)) > 0 {
			break
		}
		if level+2 < v.NumLevels() {
			var overlapBytes uint64
			for _, f := range v.OverlappingInputs(level+2, smallest, largest) {
				overlapBytes += f.FileSize
			}
			if overlapBytes > maxGrandparentOverlapBytes {
				break
			}
		}
		level++
	}
	return level
}

// maxBytesForLevel returns the target size budget for level (level>=1):
// baseLevelBytes for L1, multiplying by levelSizeMultiplier per level
// after that.
func maxBytesForLevel(level int) uint64 {
	result := uint64(baseLevelBytes)
	for l := 1; l < level; l++ {
		result *= levelSizeMultiplier
	}
	return result
}
