package block

import (
	"encoding/binary"

	"github.com/aalhour/embedkv/errs"
)

// magic is the fixed trailer identifying an SST footer.
const magic uint64 = 0x57fb808b247547db

// FooterEncodedLength is the fixed on-disk footer size: two padded
// handles (2 * MaxHandleEncodedLength) plus the 8-byte magic.
const FooterEncodedLength = 2*MaxHandleEncodedLength + 8

// Footer is the fixed-size trailer of every SST file.
type Footer struct {
	MetaIndexHandle Handle
	IndexHandle     Handle
}

// EncodeTo returns the 48-byte encoded footer. The two handles are
// varint-encoded into a fixed-width, zero-padded region so the footer's
// total size never varies.
func (f Footer) EncodeTo() []byte {
	buf := make([]byte, FooterEncodedLength)
	copy(buf, f.MetaIndexHandle.EncodeTo(nil))
	copy(buf[MaxHandleEncodedLength:], f.IndexHandle.EncodeTo(nil))
	binary.LittleEndian.PutUint64(buf[FooterEncodedLength-8:], magic)
	return buf
}

// DecodeFooter parses a Footer from the trailing FooterEncodedLength
// bytes of an SST file, verifying the magic number.
func DecodeFooter(raw []byte) (Footer, error) {
	if len(raw) != FooterEncodedLength {
		return Footer{}, errs.Corruption("block: footer has wrong length %d", len(raw))
	}
	got := binary.LittleEndian.Uint64(raw[FooterEncodedLength-8:])
	if got != magic {
		return Footer{}, errs.FormatError("block: bad footer magic %#x", got)
	}
	metaHandle, _, err := DecodeHandle(raw[:MaxHandleEncodedLength])
	if err != nil {
		return Footer{}, err
	}
	indexHandle, _, err := DecodeHandle(raw[MaxHandleEncodedLength : 2*MaxHandleEncodedLength])
	if err != nil {
		return Footer{}, err
	}
	return Footer{MetaIndexHandle: metaHandle, IndexHandle: indexHandle}, nil
}
