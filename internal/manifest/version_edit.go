package manifest

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/dbformat"
	"github.com/aalhour/embedkv/internal/encoding"
)

// FileMetaData describes one live SST file within a Version.
type FileMetaData struct {
	FileNumber   uint64
	FileSize     uint64
	Smallest     dbformat.InternalKey
	Largest      dbformat.InternalKey
	AllowedSeeks int64 // seek-compaction budget; not persisted

	BeingCompacted bool // runtime only, not persisted
}

type deletedFileEntry struct {
	Level      int
	FileNumber uint64
}

type newFileEntry struct {
	Level int
	Meta  FileMetaData
}

type compactPointerEntry struct {
	Level int
	Key   dbformat.InternalKey
}

// VersionEdit is one accumulated set of changes to apply to a Version, as
// read from or written to the MANIFEST log.
type VersionEdit struct {
	Comparator    string
	HasComparator bool

	LogNumber    uint64
	HasLogNumber bool

	PrevLogNumber    uint64
	HasPrevLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastSequence    dbformat.SequenceNumber
	HasLastSequence bool

	CompactPointers []compactPointerEntry
	DeletedFiles    []deletedFileEntry
	NewFiles        []newFileEntry
}

func (e *VersionEdit) SetComparatorName(name string) {
	e.Comparator, e.HasComparator = name, true
}

func (e *VersionEdit) SetLogNumber(n uint64) { e.LogNumber, e.HasLogNumber = n, true }

func (e *VersionEdit) SetPrevLogNumber(n uint64) { e.PrevLogNumber, e.HasPrevLogNumber = n, true }

func (e *VersionEdit) SetNextFileNumber(n uint64) { e.NextFileNumber, e.HasNextFileNumber = n, true }

func (e *VersionEdit) SetLastSequence(s dbformat.SequenceNumber) {
	e.LastSequence, e.HasLastSequence = s, true
}

func (e *VersionEdit) SetCompactPointer(level int, key dbformat.InternalKey) {
	e.CompactPointers = append(e.CompactPointers, compactPointerEntry{Level: level, Key: key})
}

func (e *VersionEdit) DeleteFile(level int, fileNumber uint64) {
	e.DeletedFiles = append(e.DeletedFiles, deletedFileEntry{Level: level, FileNumber: fileNumber})
}

func (e *VersionEdit) AddFile(level int, meta FileMetaData) {
	e.NewFiles = append(e.NewFiles, newFileEntry{Level: level, Meta: meta})
}

// EncodeTo appends the (tag, payload) encoding of e to dst.
func (e *VersionEdit) EncodeTo(dst []byte) []byte {
	if e.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(e.Comparator))
	}
	if e.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, e.LogNumber)
	}
	if e.HasPrevLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagPrevLogNumber))
		dst = encoding.AppendVarint64(dst, e.PrevLogNumber)
	}
	if e.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, e.NextFileNumber)
	}
	if e.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(e.LastSequence))
	}
	for _, cp := range e.CompactPointers {
		dst = encoding.AppendVarint32(dst, uint32(TagCompactPointer))
		dst = encoding.AppendVarint32(dst, uint32(cp.Level))
		dst = encoding.AppendLengthPrefixedSlice(dst, cp.Key)
	}
	for _, df := range e.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.FileNumber)
	}
	for _, nf := range e.NewFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagNewFile))
		dst = encoding.AppendVarint32(dst, uint32(nf.Level))
		dst = encoding.AppendVarint64(dst, nf.Meta.FileNumber)
		dst = encoding.AppendVarint64(dst, nf.Meta.FileSize)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Smallest)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Largest)
	}
	return dst
}

// DecodeFrom parses a VersionEdit from data, which must hold exactly one
// encoded edit (the contents of one MANIFEST log record).
func (e *VersionEdit) DecodeFrom(data []byte) error {
	*e = VersionEdit{}

	for len(data) > 0 {
		tagVal, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return errs.Corruption("manifest: truncated tag")
		}
		data = data[n:]

		switch Tag(tagVal) {
		case TagComparator:
			val, rest, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return errs.Corruption("manifest: truncated comparator name")
			}
			e.Comparator, e.HasComparator = string(val), true
			data = rest

		case TagLogNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated log number")
			}
			e.LogNumber, e.HasLogNumber = val, true
			data = data[n:]

		case TagPrevLogNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated prev log number")
			}
			e.PrevLogNumber, e.HasPrevLogNumber = val, true
			data = data[n:]

		case TagNextFileNumber:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated next file number")
			}
			e.NextFileNumber, e.HasNextFileNumber = val, true
			data = data[n:]

		case TagLastSequence:
			val, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated last sequence")
			}
			e.LastSequence, e.HasLastSequence = dbformat.SequenceNumber(val), true
			data = data[n:]

		case TagCompactPointer:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return errs.Corruption("manifest: truncated compact pointer level")
			}
			data = data[n:]
			key, rest, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return errs.Corruption("manifest: truncated compact pointer key")
			}
			data = rest
			e.CompactPointers = append(e.CompactPointers, compactPointerEntry{
				Level: int(level), Key: dbformat.InternalKey(key),
			})

		case TagDeletedFile:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return errs.Corruption("manifest: truncated deleted-file level")
			}
			data = data[n:]
			fileNum, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated deleted-file number")
			}
			data = data[n:]
			e.DeleteFile(int(level), fileNum)

		case TagNewFile:
			level, n, err := encoding.DecodeVarint32(data)
			if err != nil {
				return errs.Corruption("manifest: truncated new-file level")
			}
			data = data[n:]
			fileNum, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated new-file number")
			}
			data = data[n:]
			fileSize, n, err := encoding.DecodeVarint64(data)
			if err != nil {
				return errs.Corruption("manifest: truncated new-file size")
			}
			data = data[n:]
			smallest, rest, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return errs.Corruption("manifest: truncated new-file smallest key")
			}
			data = rest
			largest, rest, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return errs.Corruption("manifest: truncated new-file largest key")
			}
			data = rest
			e.AddFile(int(level), FileMetaData{
				FileNumber: fileNum,
				FileSize:   fileSize,
				Smallest:   dbformat.InternalKey(smallest),
				Largest:    dbformat.InternalKey(largest),
			})

		default:
			return errs.Corruption("manifest: unknown tag %d", tagVal)
		}
	}
	return nil
}
