package embedkv

import (
	"github.com/aalhour/embedkv/internal/cache"
	"github.com/aalhour/embedkv/internal/compress"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/filter"
	"github.com/aalhour/embedkv/internal/logging"
	"github.com/aalhour/embedkv/internal/vfs"
)

// Comparator is an alias for the user-key ordering interface. The default,
// used whenever Options.Comparator is nil, orders keys lexicographically
// by byte value.
type Comparator = dbformat.UserComparator

// BytewiseComparator is the default Comparator.
var BytewiseComparator = dbformat.BytewiseComparator

// FilterPolicy builds and probes per-table filter blocks, trading
// on-disk space for fewer unnecessary block reads on misses.
type FilterPolicy = filter.Policy

// NewBloomFilterPolicy returns a FilterPolicy targeting bitsPerKey bits of
// filter storage per key (10 gives roughly a 1% false-positive rate).
func NewBloomFilterPolicy(bitsPerKey int) FilterPolicy {
	return filter.NewBloomPolicy(bitsPerKey)
}

// Cache is the block-cache interface accepted by Options.BlockCache.
type Cache = cache.Cache

// NewLRUCache returns a Cache sharded across numShards sub-caches, each
// holding capacity/numShards bytes, to reduce lock contention under
// concurrent reads.
func NewLRUCache(capacity uint64, numShards int) Cache {
	return cache.NewShardedLRUCache(capacity, numShards)
}

// CompressionType selects the per-block compressor used when writing SSTs.
type CompressionType = compress.Type

const (
	NoCompression     = compress.None
	SnappyCompression = compress.Snappy
	ZstdCompression   = compress.Zstd
	LZ4Compression    = compress.LZ4
)

// Logger is an alias for the logging interface; users may supply their
// own implementation to route engine logs into an existing logging
// pipeline.
type Logger = logging.Logger

// Options configures Open. Open fills every zero-valued field with its
// default, so a partly filled Options is usable as is; DefaultOptions
// returns the same defaults set explicitly.
type Options struct {
	// CreateIfMissing causes Open to create the database directory and an
	// empty MANIFEST if dbname does not already contain one.
	CreateIfMissing bool

	// ErrorIfExists causes Open to fail if dbname already contains a
	// database (i.e. a CURRENT file).
	ErrorIfExists bool

	// ParanoidChecks makes recovery treat conditions that are normally
	// tolerated (a truncated tail record in the most recent WAL segment)
	// as fatal corruption instead.
	ParanoidChecks bool

	// ReuseLog, if true and the most recent WAL segment from the prior
	// session is still within WriteBufferSize's slack, causes recovery to
	// keep appending to that segment instead of rolling a new log number.
	ReuseLog bool

	// FS is the filesystem implementation Open uses. If nil, the OS
	// filesystem is used. Tests substitute vfs.NewMem() here.
	FS vfs.FS

	// Comparator orders user keys. Defaults to BytewiseComparator. Once a
	// database is created with a given comparator, every subsequent Open
	// must use a comparator with the same Name(); a mismatch is reported
	// as InvalidArgument.
	Comparator Comparator

	// WriteBufferSize bounds a single memtable's approximate memory
	// footprint before it is frozen and queued for flush. Default 4 MiB.
	WriteBufferSize int

	// MaxOpenFiles bounds how many SST file descriptors the table cache
	// keeps open concurrently. Default 1000.
	MaxOpenFiles int

	// BlockSize is the target uncompressed size of one data block before
	// the builder starts a new one. Default 4 KiB.
	BlockSize int

	// BlockRestartInterval is how many keys are encoded between prefix-
	// compression restart points within a data block. Default 16.
	BlockRestartInterval int

	// MaxFileSize bounds one compaction output SST's size before the job
	// rolls over to a new file. Default 2 MiB.
	MaxFileSize int

	// Compression selects the block compressor. Default NoCompression.
	Compression CompressionType

	// FilterPolicy, if set, builds a per-table filter block that lets
	// Get skip opening a data block that cannot contain the key.
	FilterPolicy FilterPolicy

	// BlockCache, if set, caches decoded data blocks across reads. If
	// nil, every read decodes its data block from scratch.
	BlockCache Cache

	// Logger receives engine-internal log lines. If nil, Open creates a
	// FileLogger writing to <dbname>/LOG.
	Logger Logger
}

// DefaultOptions returns an Options with every field set to its default.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:      false,
		ErrorIfExists:        false,
		ParanoidChecks:       false,
		ReuseLog:             false,
		Comparator:           BytewiseComparator,
		WriteBufferSize:      4 << 20,
		MaxOpenFiles:         1000,
		BlockSize:            4 << 10,
		BlockRestartInterval: 16,
		MaxFileSize:          2 << 20,
		Compression:          NoCompression,
	}
}

// withDefaults returns a copy of opts with zero-valued fields filled in,
// leaving an explicitly-configured Options untouched.
func (opts Options) withDefaults() Options {
	if opts.Comparator == nil {
		opts.Comparator = BytewiseComparator
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = 4 << 20
	}
	if opts.MaxOpenFiles <= 0 {
		opts.MaxOpenFiles = 1000
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4 << 10
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 2 << 20
	}
	if opts.FS == nil {
		opts.FS = vfs.NewDisk()
	}
	return opts
}

// Snapshot pins a sequence number so reads through it observe a
// consistent point-in-time view of the database regardless of later
// writes or compactions.
type Snapshot struct {
	sequence dbformat.SequenceNumber
}

// ReadOptions configures Get and NewIterator.
type ReadOptions struct {
	// VerifyChecksums is carried here but not consulted by Get or
	// NewIterator: Open creates its table readers without checksum
	// verification, so block trailer CRCs are not checked on these reads
	// whatever this field says. Default true.
	VerifyChecksums bool

	// FillCache controls whether data blocks read by Get are inserted
	// into Options.BlockCache. Set false for large one-off reads that
	// shouldn't evict hotter data. NewIterator does not consult it:
	// iterators always fill the cache. Default true.
	FillCache bool

	// Snapshot, if set, fixes the read to the state as of that snapshot
	// instead of the most recent write.
	Snapshot *Snapshot
}

// DefaultReadOptions returns a ReadOptions with every field at its default.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{VerifyChecksums: true, FillCache: true}
}

// WriteOptions configures Put, Delete, and Write.
type WriteOptions struct {
	// Sync causes the write to fsync its WAL record before returning,
	// guaranteeing the write survives a crash. Default false: the record
	// is appended and left to the OS's normal write-back.
	Sync bool
}

// DefaultWriteOptions returns a WriteOptions with every field at its default.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{Sync: false}
}
