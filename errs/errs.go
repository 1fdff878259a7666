// Package errs defines the error taxonomy shared across the engine.
//
// Every component that can fail returns one of the sentinel errors below,
// wrapped with context via fmt.Errorf("%w", ...) so callers can still
// compare with errors.Is while getting a useful message.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Compare with errors.Is, never with ==, since every
// constructor below wraps one of these with additional context.
var (
	// ErrNotFound is returned by a lookup that found no value for the key,
	// including one shadowed by a tombstone. Never logged.
	ErrNotFound = errors.New("embedkv: not found")

	// ErrCorruption is returned for any on-disk format violation, checksum
	// mismatch, or invariant breach.
	ErrCorruption = errors.New("embedkv: corruption")

	// ErrInvalidArgument is returned for a bad call, such as conflicting
	// open options or an unrecognized comparator name on reopen.
	ErrInvalidArgument = errors.New("embedkv: invalid argument")

	// ErrIOError wraps an underlying filesystem failure.
	ErrIOError = errors.New("embedkv: io error")

	// ErrAlreadyExists is returned when create-if-absent semantics are
	// violated, e.g. taking a lock file that is already held.
	ErrAlreadyExists = errors.New("embedkv: already exists")

	// ErrFormatError marks a recognizable-but-unsupported on-disk format,
	// such as a footer magic from a newer incompatible version.
	ErrFormatError = errors.New("embedkv: format error")

	// ErrClosed is returned by any operation performed after DB.Close.
	ErrClosed = errors.New("embedkv: db closed")
)

// Corruption builds a Corruption error with a formatted message.
func Corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}

// InvalidArgument builds an InvalidArgument error with a formatted message.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IOError wraps a filesystem error with the operation and path that failed.
func IOError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIOError, op, path, err)
}

// FormatError builds a FormatError with a formatted message.
func FormatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormatError, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorruption reports whether err is, or wraps, ErrCorruption.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }
