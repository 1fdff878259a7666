package version

import (
	"sort"

	"github.com/aalhour/embedkv/internal/manifest"
)

// Builder accumulates a sequence of VersionEdits against a base Version
// and produces the resulting Version, without materializing an
// intermediate copy after every edit.
//
// Usage:
//
//	b := NewBuilder(vset, base)
//	b.Apply(edit1)
//	b.Apply(edit2)
//	next := b.SaveTo(vset)
type Builder struct {
	vset *VersionSet
	base *Version

	addedFiles   [MaxNumLevels]map[uint64]*manifest.FileMetaData
	deletedFiles [MaxNumLevels]map[uint64]struct{}
}

// NewBuilder creates a Builder seeded from base.
func NewBuilder(vset *VersionSet, base *Version) *Builder {
	b := &Builder{vset: vset, base: base}
	for i := 0; i < MaxNumLevels; i++ {
		b.addedFiles[i] = make(map[uint64]*manifest.FileMetaData)
		b.deletedFiles[i] = make(map[uint64]struct{})
	}
	return b
}

// Apply folds one VersionEdit's file additions and deletions into the
// builder's pending state.
func (b *Builder) Apply(edit *manifest.VersionEdit) error {
	for _, df := range edit.DeletedFiles {
		if df.Level < 0 || df.Level >= MaxNumLevels {
			continue
		}
		if _, wasAdded := b.addedFiles[df.Level][df.FileNumber]; wasAdded {
			delete(b.addedFiles[df.Level], df.FileNumber)
			continue
		}
		b.deletedFiles[df.Level][df.FileNumber] = struct{}{}
	}

	for _, nf := range edit.NewFiles {
		if nf.Level < 0 || nf.Level >= MaxNumLevels {
			continue
		}
		meta := nf.Meta
		delete(b.deletedFiles[nf.Level], meta.FileNumber)
		b.addedFiles[nf.Level][meta.FileNumber] = &meta
	}

	return nil
}

// SaveTo produces the new Version: base's files, minus anything deleted,
// plus anything added, re-sorted per level and scored for compaction.
func (b *Builder) SaveTo(vset *VersionSet) *Version {
	v := NewVersion(vset, vset.NextVersionNumber())

	for level := 0; level < MaxNumLevels; level++ {
		var files []*manifest.FileMetaData
		if b.base != nil {
			for _, f := range b.base.files[level] {
				if _, deleted := b.deletedFiles[level][f.FileNumber]; deleted {
					continue
				}
				files = append(files, f)
			}
		}
		for _, f := range b.addedFiles[level] {
			files = append(files, f)
		}

		if level == 0 {
			// L0 files may overlap in key range; ordering by file number
			// (creation order) lets Get scan newest-first.
			sortByFileNumber(files)
		} else {
			sortBySmallestKey(files, vset.icmp)
		}

		v.files[level] = files
	}

	v.finalize()
	return v
}

func sortByFileNumber(files []*manifest.FileMetaData) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].FileNumber < files[j].FileNumber
	})
}

func sortBySmallestKey(files []*manifest.FileMetaData, icmp interface {
	Compare(a, b []byte) int
}) {
	sort.Slice(files, func(i, j int) bool {
		return icmp.Compare(files[i].Smallest, files[j].Smallest) < 0
	})
}
