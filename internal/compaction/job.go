package compaction

import (
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/iterator"
	"github.com/aalhour/embedkv/internal/manifest"
	"github.com/aalhour/embedkv/internal/table"
	"github.com/aalhour/embedkv/internal/vfs"
)

// Job executes one Compaction: it merges every input file in key order,
// drops deletions that can no longer shadow an older value, and writes
// the result to one or more output SSTs capped at MaxOutputFileSize.
type Job struct {
	compaction     *Compaction
	dbName         string
	fs             vfs.FS
	tableCache     *table.TableCache
	builderOpts    table.Options
	icmp           *dbformat.InternalKeyComparator
	nextFileNumber func() uint64

	// grandparents are the files one level below the output level,
	// consulted by IsBaseLevelForKey to decide whether a deletion has
	// reached the bottom of the tree and can finally be dropped.
	grandparents []*InputFiles

	outputFiles []*manifest.FileMetaData
}

// NewJob creates a Job that will run c, reading/writing SSTs under
// dbName via fs and tableCache, allocating output file numbers from
// nextFileNumber, and building new tables with builderOpts.
func NewJob(c *Compaction, dbName string, fs vfs.FS, tableCache *table.TableCache, builderOpts table.Options, nextFileNumber func() uint64, grandparents []*InputFiles) *Job {
	return &Job{
		compaction:     c,
		dbName:         dbName,
		fs:             fs,
		tableCache:     tableCache,
		builderOpts:    builderOpts,
		icmp:           builderOpts.Comparator,
		nextFileNumber: nextFileNumber,
		grandparents:   grandparents,
	}
}

// Run performs the compaction and returns the metadata of every output
// file it created. Callers install the result (plus c.AddInputDeletions)
// via a single VersionEdit / LogAndApply.
func (j *Job) Run() ([]*manifest.FileMetaData, error) {
	children, err := j.openInputs()
	if err != nil {
		return nil, err
	}

	merged := iterator.NewMergingIterator(internalKeyComparator{j.icmp}, children)

	var builder *table.Builder
	var out *outputFile
	var lastUserKey []byte
	haveLastUserKey := false

	flush := func() error {
		if builder == nil {
			return nil
		}
		return j.finishOutput(builder, out)
	}

	for merged.SeekToFirst(); merged.Valid(); merged.Next() {
		key := merged.Key()
		parsed, perr := dbformat.ParseInternalKey(key)
		if perr != nil {
			continue
		}

		// Point-tombstone collapsing: once we've emitted any version of
		// a user key to the output, every older version reaching this
		// same merge point is now hidden by it and can be dropped,
		// since no live read path probes below the newest visible
		// sequence for a key.
		sameKey := haveLastUserKey && j.icmp.UserCmp.Compare(parsed.UserKey, lastUserKey) == 0
		if sameKey {
			continue
		}
		lastUserKey = append(lastUserKey[:0], parsed.UserKey...)
		haveLastUserKey = true

		if parsed.Type == dbformat.TypeDeletion && j.compaction.IsBaseLevelForKey(j.grandparents, j.icmp, parsed.UserKey) {
			// No deeper level can still hold an older value for this
			// key, so the tombstone itself no longer needs to be kept.
			continue
		}

		if builder == nil || builder.FileSize() >= int64(j.compaction.MaxOutputFileSize) {
			if err := flush(); err != nil {
				return nil, err
			}
			out, builder, err = j.startOutput()
			if err != nil {
				return nil, err
			}
		}

		if err := builder.Add(key, merged.Value()); err != nil {
			return nil, err
		}
		if out.smallest == nil {
			out.smallest = append([]byte(nil), key...)
		}
		out.largest = append(out.largest[:0], key...)
	}

	if err := merged.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			j.tableCache.Release(f.FileNumber)
		}
	}

	return j.outputFiles, nil
}

func (j *Job) openInputs() ([]iterator.Iterator, error) {
	var children []iterator.Iterator
	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			reader, err := j.tableCache.Get(f.FileNumber)
			if err != nil {
				return nil, err
			}
			children = append(children, iterator.NewTwoLevelIterator(reader, reader.NewIndexIterator()))
		}
	}
	return children, nil
}

type outputFile struct {
	fileNumber uint64
	file       vfs.WritableFile
	smallest   []byte
	largest    []byte
}

func (j *Job) startOutput() (*outputFile, *table.Builder, error) {
	fileNum := j.nextFileNumber()
	path := table.SSTFileName(j.dbName, fileNum)
	file, err := j.fs.NewWritableFile(path)
	if err != nil {
		return nil, nil, err
	}
	return &outputFile{fileNumber: fileNum, file: file}, table.NewBuilder(j.builderOpts, file), nil
}

func (j *Job) finishOutput(builder *table.Builder, out *outputFile) error {
	if err := builder.Finish(); err != nil {
		_ = out.file.Close()
		return err
	}
	if err := out.file.Flush(); err != nil {
		_ = out.file.Close()
		return err
	}
	if err := out.file.Sync(); err != nil {
		_ = out.file.Close()
		return err
	}
	if err := out.file.Close(); err != nil {
		return err
	}

	meta := &manifest.FileMetaData{
		FileNumber: out.fileNumber,
		FileSize:   uint64(builder.FileSize()),
		Smallest:   dbformat.InternalKey(out.smallest),
		Largest:    dbformat.InternalKey(out.largest),
	}
	j.outputFiles = append(j.outputFiles, meta)
	j.compaction.Edit.AddFile(j.compaction.OutputLevel, *meta)
	return nil
}

// internalKeyComparator adapts *dbformat.InternalKeyComparator to the
// iterator package's narrow Comparator interface.
type internalKeyComparator struct {
	icmp *dbformat.InternalKeyComparator
}

func (c internalKeyComparator) Compare(a, b []byte) int { return c.icmp.Compare(a, b) }
