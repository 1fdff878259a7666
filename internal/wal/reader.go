package wal

import (
	"encoding/binary"
	"io"

	"github.com/aalhour/embedkv/errs"
)

// Reporter receives notice of a checksum mismatch with data following
// it, just before ReadRecord returns that mismatch as an error.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader assembles logical records from a log file's physical record
// stream. The whole file is read into memory up front: WAL files are
// bounded by the write-buffer size, and loading the remainder lets the
// reader distinguish a torn trailing write (clean EOF) from corruption
// with valid-looking data after it (fatal), which a purely streaming
// reader cannot do without unbounded lookahead.
type Reader struct {
	buf           []byte
	pos           int
	reporter      Reporter
	paranoid      bool
	lastRecordEnd int
}

// NewReader creates a Reader over the remaining bytes of f, read fully
// into memory now.
func NewReader(f io.Reader, reporter Reporter, paranoid bool) (*Reader, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.IOError("read", "<wal>", err)
	}
	return &Reader{buf: data, reporter: reporter, paranoid: paranoid}, nil
}

// ReadRecord assembles and returns the next logical record, or (nil,
// false, nil) at a clean end of stream (including a torn trailing
// write).
func (r *Reader) ReadRecord() ([]byte, bool, error) {
	var result []byte
	inFragmentedRecord := false

	for {
		payload, typ, ok, err := r.readPhysicalRecord()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if inFragmentedRecord {
				// A First/Middle fragment was never completed; treat as
				// a torn trailing write rather than fatal corruption,
				// per the truncate-at-tail recovery policy, unless
				// paranoid checks are enabled.
				if r.paranoid {
					return nil, false, errs.Corruption("wal: incomplete record at end of log")
				}
			}
			return nil, false, nil
		}

		switch typ {
		case FullType:
			return payload, true, nil
		case FirstType:
			result = append([]byte(nil), payload...)
			inFragmentedRecord = true
		case MiddleType:
			if !inFragmentedRecord {
				return nil, false, errs.Corruption("wal: middle fragment without a preceding first fragment")
			}
			result = append(result, payload...)
		case LastType:
			if !inFragmentedRecord {
				return nil, false, errs.Corruption("wal: last fragment without a preceding first fragment")
			}
			result = append(result, payload...)
			return result, true, nil
		default:
			return nil, false, errs.Corruption("wal: unknown record type %d", typ)
		}
	}
}

// readPhysicalRecord reads one header+payload. ok=false means clean EOF
// (including a torn trailing write, which is not surfaced as an error).
func (r *Reader) readPhysicalRecord() (payload []byte, typ RecordType, ok bool, err error) {
	for {
		remaining := len(r.buf) - r.pos
		if remaining == 0 {
			return nil, 0, false, nil
		}
		if remaining < HeaderSize {
			// Either block padding (all zero) or a torn header write;
			// either way this is a clean end of the usable stream.
			return nil, 0, false, nil
		}

		// Block padding is written as literal zero bytes with no
		// header; a zero-length, zero-type "header" at this position
		// is indistinguishable from padding, so treat it as such and
		// jump to the next block boundary.
		header := r.buf[r.pos : r.pos+HeaderSize]
		length := int(header[4]) | int(header[5])<<8
		recordType := RecordType(header[6])
		if recordType == zeroType && length == 0 {
			r.skipToNextBlock()
			continue
		}

		if r.pos+HeaderSize+length > len(r.buf) {
			// Declared length runs past what is on disk: a torn write
			// of a payload that was only partially flushed.
			return nil, 0, false, nil
		}

		body := r.buf[r.pos+HeaderSize : r.pos+HeaderSize+length]
		storedCRC := binary.LittleEndian.Uint32(header[:4])
		computedCRC := crc32cValue([]byte{byte(recordType)})
		computedCRC = crc32cExtend(computedCRC, body)

		if storedCRC != computedCRC {
			recordEnd := r.pos + HeaderSize + length
			if r.restIsPadding(recordEnd) {
				// Nothing but zero padding (or nothing at all) follows:
				// this is a torn trailing write, not mid-stream
				// corruption.
				if r.paranoid {
					return nil, 0, false, errs.Corruption("wal: checksum mismatch in trailing record")
				}
				return nil, 0, false, nil
			}
			if r.reporter != nil {
				r.reporter.Corruption(HeaderSize+length, errs.Corruption("wal: checksum mismatch"))
			}
			return nil, 0, false, errs.Corruption("wal: checksum mismatch with valid data following")
		}

		r.pos += HeaderSize + length
		r.lastRecordEnd = r.pos
		return body, recordType, true, nil
	}
}

// restIsPadding reports whether everything from from to the end of the
// buffer is zero bytes (or there is nothing left at all).
func (r *Reader) restIsPadding(from int) bool {
	for i := from; i < len(r.buf); i++ {
		if r.buf[i] != 0 {
			return false
		}
	}
	return true
}

func (r *Reader) skipToNextBlock() {
	next := (r.pos/BlockSize + 1) * BlockSize
	if next > len(r.buf) {
		next = len(r.buf)
	}
	r.pos = next
}
