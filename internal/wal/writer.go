package wal

import (
	"encoding/binary"

	"github.com/aalhour/embedkv/internal/vfs"
)

// Writer fragments logical records across 32 KiB blocks and appends them
// to a WritableFile, flushing after every physical record.
type Writer struct {
	file        vfs.WritableFile
	blockOffset int // bytes written into the current block
}

// NewWriter creates a Writer appending to file, which must already be
// positioned at the desired append point (length dest % BlockSize gives
// the starting block offset, matching the donor's log-reuse behavior).
func NewWriter(file vfs.WritableFile, initialOffset int64) *Writer {
	return &Writer{file: file, blockOffset: int(initialOffset % BlockSize)}
}

// AddRecord writes data as one or more physical record fragments.
func (w *Writer) AddRecord(data []byte) error {
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				if _, err := w.file.Append(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLen := len(data)
		if fragmentLen > avail {
			fragmentLen = avail
		}
		end := fragmentLen == len(data)

		var typ RecordType
		switch {
		case begin && end:
			typ = FullType
		case begin:
			typ = FirstType
		case end:
			typ = LastType
		default:
			typ = MiddleType
		}

		if err := w.emitPhysicalRecord(typ, data[:fragmentLen]); err != nil {
			return err
		}
		data = data[fragmentLen:]
		begin = false
		if len(data) == 0 {
			break
		}
	}
	return nil
}

func (w *Writer) emitPhysicalRecord(typ RecordType, payload []byte) error {
	var header [HeaderSize]byte
	crc := crc32cValue([]byte{byte(typ)})
	crc = crc32cExtend(crc, payload)
	binary.LittleEndian.PutUint32(header[:4], crc)
	header[4] = byte(len(payload))
	header[5] = byte(len(payload) >> 8)
	header[6] = byte(typ)

	if _, err := w.file.Append(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.file.Append(payload); err != nil {
			return err
		}
	}
	w.blockOffset += HeaderSize + len(payload)
	return w.file.Flush()
}

// Sync fsyncs the underlying file.
func (w *Writer) Sync() error { return w.file.Sync() }
