// Package vfs defines the filesystem capability the engine consumes:
// random-access reads, append-only writes, sequential reads, and the
// directory operations recovery and compaction need. Two implementations
// are provided: an on-disk one backed by os.*, and an in-memory one used
// throughout the test suite so format round-trip tests never touch the
// real filesystem.
package vfs

import "io"

// RandomAccessFile supports positioned reads against an open file.
type RandomAccessFile interface {
	io.Closer
	// ReadAt reads len(buf) bytes starting at offset, like io.ReaderAt.
	ReadAt(buf []byte, offset int64) (int, error)
}

// WritableFile is an append-only output stream.
type WritableFile interface {
	io.Closer
	Append(data []byte) (int, error)
	Flush() error
	Sync() error
}

// SequentialFile supports streaming reads from the start of a file.
type SequentialFile interface {
	io.Closer
	io.Reader
}

// FS is the filesystem capability contract.
type FS interface {
	NewRandomAccessFile(path string) (RandomAccessFile, error)
	NewWritableFile(path string) (WritableFile, error)
	// NewAppendingFile opens an existing file for append, for WAL reuse.
	NewAppendingFile(path string) (WritableFile, error)
	NewSequentialFile(path string) (SequentialFile, error)

	FileSize(path string) (int64, error)
	Exists(path string) bool
	Remove(path string) error
	Rename(oldPath, newPath string) error
	MkdirAll(path string) error
	// GetChildren lists the base names of entries directly under path.
	GetChildren(path string) ([]string, error)

	// LockFile creates path exclusively, returning an error if it
	// already exists, used to implement the single LOCK file.
	LockFile(path string) (io.Closer, error)
}
