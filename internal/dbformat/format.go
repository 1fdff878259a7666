// Package dbformat defines the internal key format shared by the memtable,
// SST blocks, and the comparators that order them: user key, sequence
// number, and value type packed into one comparable byte string.
package dbformat

import (
	"github.com/aalhour/embedkv/errs"
	"github.com/aalhour/embedkv/internal/encoding"
)

// SequenceNumber is a monotonically increasing, 56-bit write sequence.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// ValueType tags what an internal key's entry represents. Only two values
// exist: a live value, or a tombstone recording a deletion.
type ValueType uint8

const (
	TypeDeletion ValueType = 0
	TypeValue    ValueType = 1
)

// ValueTypeForSeek is used to build a lookup key: the highest ValueType,
// so that the internal-key ordering places it before every real entry of
// the same (user_key, sequence) pair.
const ValueTypeForSeek = TypeValue

// PackSequenceAndType combines a sequence number and value type into the
// 8-byte trailer appended to every internal key.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType splits a trailer back into its sequence and type.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xff)
}

// ParsedInternalKey is the decomposed form of an internal key.
type ParsedInternalKey struct {
	UserKey []byte
	Seq     SequenceNumber
	Type    ValueType
}

// InternalKey is the encoded byte representation: user_key || fixed64 tag.
type InternalKey []byte

// AppendInternalKey appends the encoding of p to dst.
func AppendInternalKey(dst []byte, p ParsedInternalKey) []byte {
	dst = append(dst, p.UserKey...)
	dst = encoding.AppendFixed64(dst, PackSequenceAndType(p.Seq, p.Type))
	return dst
}

// MakeInternalKey encodes p as a standalone InternalKey.
func MakeInternalKey(p ParsedInternalKey) InternalKey {
	return InternalKey(AppendInternalKey(nil, p))
}

// ParseInternalKey decodes an encoded internal key. It fails if the input
// is shorter than the 8-byte trailer.
func ParseInternalKey(ikey []byte) (ParsedInternalKey, error) {
	if len(ikey) < 8 {
		return ParsedInternalKey{}, errs.Corruption("dbformat: internal key too short (%d bytes)", len(ikey))
	}
	n := len(ikey) - 8
	packed, err := encoding.DecodeFixed64(ikey[n:])
	if err != nil {
		return ParsedInternalKey{}, err
	}
	seq, typ := UnpackSequenceAndType(packed)
	if typ > TypeValue {
		return ParsedInternalKey{}, errs.Corruption("dbformat: invalid value type %d", typ)
	}
	return ParsedInternalKey{UserKey: ikey[:n], Seq: seq, Type: typ}, nil
}

// ExtractUserKey returns the user-key prefix of an encoded internal key.
func ExtractUserKey(ikey []byte) []byte {
	if len(ikey) < 8 {
		return ikey
	}
	return ikey[:len(ikey)-8]
}

// ExtractSequenceAndType returns the trailer fields of an encoded internal
// key without fully parsing it.
func ExtractSequenceAndType(ikey []byte) (SequenceNumber, ValueType) {
	if len(ikey) < 8 {
		return 0, TypeDeletion
	}
	packed, _ := encoding.DecodeFixed64(ikey[len(ikey)-8:])
	return UnpackSequenceAndType(packed)
}

// UserComparator orders user keys. The zero value is invalid; use
// BytewiseComparator for the default lexicographic order.
type UserComparator interface {
	// Compare returns <0, 0, >0 as a<b, a==b, a>b.
	Compare(a, b []byte) int
	// Name identifies the comparator; persisted in the MANIFEST and
	// checked for compatibility on reopen.
	Name() string
}

type bytewiseComparator struct{}

func (bytewiseComparator) Compare(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func (bytewiseComparator) Name() string { return "leveldb.BytewiseComparator" }

// BytewiseComparator is the default, lexicographic UserComparator.
var BytewiseComparator UserComparator = bytewiseComparator{}

// InternalKeyComparator orders encoded internal keys: by user key
// ascending via the wrapped UserComparator, then by sequence descending,
// then (rarely) by value type descending. Because the trailer packs
// (seq<<8)|type, comparing the raw trailer as a big-endian-equivalent
// descending integer falls straight out of a byte-reversed compare; here
// we just compare the decoded uint64 trailers in reverse.
type InternalKeyComparator struct {
	UserCmp UserComparator
}

// NewInternalKeyComparator wraps a user comparator.
func NewInternalKeyComparator(uc UserComparator) *InternalKeyComparator {
	return &InternalKeyComparator{UserCmp: uc}
}

func (c *InternalKeyComparator) Name() string {
	return "embedkv.InternalKeyComparator:" + c.UserCmp.Name()
}

// Compare implements the three-part internal-key order described in the
// data model: user key ascending, sequence descending, type descending.
func (c *InternalKeyComparator) Compare(akey, bkey []byte) int {
	r := c.UserCmp.Compare(ExtractUserKey(akey), ExtractUserKey(bkey))
	if r != 0 {
		return r
	}
	aSeq, aType := ExtractSequenceAndType(akey)
	bSeq, bType := ExtractSequenceAndType(bkey)
	switch {
	case aSeq > bSeq:
		return -1
	case aSeq < bSeq:
		return 1
	case aType > bType:
		return -1
	case aType < bType:
		return 1
	default:
		return 0
	}
}

// FindShortestSeparator shortens start to the shortest byte string that is
// still > start and < limit, so it can serve as a compact index-block
// separator key. It operates on the user-key prefixes and reconstitutes
// an internal-key trailer of (MaxSequenceNumber, TypeValue) so the
// shortened separator still sorts after every real version of that user
// key that could appear in the block it indexes.
func (c *InternalKeyComparator) FindShortestSeparator(start, limit []byte) []byte {
	userStart := ExtractUserKey(start)
	userLimit := ExtractUserKey(limit)

	n := commonPrefixLen(userStart, userLimit)
	if n >= len(userStart) || n >= len(userLimit) {
		// One is a prefix of the other; no shortening is possible.
		return append([]byte(nil), start...)
	}
	if userStart[n] >= 0xff || userStart[n]+1 >= userLimit[n] {
		return append([]byte(nil), start...)
	}
	shortened := append([]byte(nil), userStart[:n+1]...)
	shortened[n]++
	if c.UserCmp.Compare(shortened, userLimit) >= 0 {
		return append([]byte(nil), start...)
	}
	return AppendInternalKey(nil, ParsedInternalKey{
		UserKey: shortened,
		Seq:     MaxSequenceNumber,
		Type:    ValueTypeForSeek,
	})
}

// FindShortestSuccessor shortens key to the shortest byte string that is
// still >= key, used for the final index entry of a table.
func (c *InternalKeyComparator) FindShortestSuccessor(key []byte) []byte {
	userKey := ExtractUserKey(key)
	for i, b := range userKey {
		if b != 0xff {
			shortened := append([]byte(nil), userKey[:i+1]...)
			shortened[i]++
			return AppendInternalKey(nil, ParsedInternalKey{
				UserKey: shortened,
				Seq:     MaxSequenceNumber,
				Type:    ValueTypeForSeek,
			})
		}
	}
	// Key is all 0xff bytes; no shorter successor exists.
	return append([]byte(nil), key...)
}

func commonPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// LookupKey is the internal key used to probe the memtable and SSTs for a
// given (user_key, snapshot) read: it carries ValueTypeForSeek so that,
// under InternalKeyComparator order, it sorts immediately before the
// newest real entry for user_key at or before the snapshot sequence.
type LookupKey struct {
	// encoded is varint(len(internalKey)) || internalKey, matching the
	// memtable entry's own key-slot layout so the same bytes can seek the
	// skip list directly.
	encoded []byte
	keyOff  int
}

// NewLookupKey builds a LookupKey for userKey at sequence seq.
func NewLookupKey(userKey []byte, seq SequenceNumber) *LookupKey {
	ikeyLen := len(userKey) + 8
	buf := encoding.AppendVarint32(nil, uint32(ikeyLen))
	keyOff := len(buf)
	buf = AppendInternalKey(buf, ParsedInternalKey{UserKey: userKey, Seq: seq, Type: ValueTypeForSeek})
	return &LookupKey{encoded: buf, keyOff: keyOff}
}

// MemtableKey returns the full varint(len)||internal_key encoding, usable
// directly as a skip-list seek target.
func (k *LookupKey) MemtableKey() []byte { return k.encoded }

// InternalKey returns just the internal-key portion (no length prefix).
func (k *LookupKey) InternalKey() []byte { return k.encoded[k.keyOff:] }

// UserKey returns just the user-key portion.
func (k *LookupKey) UserKey() []byte { return k.encoded[k.keyOff : len(k.encoded)-8] }
