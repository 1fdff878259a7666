// Package filter implements approximate set-membership filters stored in
// SST meta blocks. The only policy provided is a Bloom filter using
// double hashing derived from a single Murmur3_32 computation, matching
// the classic LevelDB filter-block design: one filter string per 2 KiB
// span of data blocks, built incrementally as the table builder emits
// blocks.
package filter

import (
	"math"
)

// Policy creates and probes a filter built from a set of keys.
type Policy interface {
	// Name identifies the policy; stored as the filter meta-block's key
	// suffix so a reader can tell which policy produced it.
	Name() string
	// CreateFilter builds one filter payload covering all of keys.
	CreateFilter(keys [][]byte) []byte
	// KeyMayMatch reports whether key might be a member of the set that
	// produced filter. False negatives are not allowed; false positives
	// are expected at the configured rate.
	KeyMayMatch(key, filter []byte) bool
}

// BloomPolicy implements Policy with a double-hashed Bloom filter.
type BloomPolicy struct {
	bitsPerKey int
	numProbes  int
}

// NewBloomPolicy returns a Bloom filter policy targeting bitsPerKey bits
// of filter storage per key (default 10 elsewhere in the engine).
func NewBloomPolicy(bitsPerKey int) *BloomPolicy {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	numProbes := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if numProbes < 1 {
		numProbes = 1
	}
	if numProbes > 30 {
		numProbes = 30
	}
	return &BloomPolicy{bitsPerKey: bitsPerKey, numProbes: numProbes}
}

// Name identifies this policy for the filter meta-block key.
func (p *BloomPolicy) Name() string { return "embedkv.BuiltinBloomFilter" }

// CreateFilter appends one filter payload covering keys, followed by a
// single trailer byte storing the probe count used to build it.
func (p *BloomPolicy) CreateFilter(keys [][]byte) []byte {
	numProbes := p.numProbes
	bits := len(keys) * p.bitsPerKey
	if bits < 64 {
		bits = 64
	}
	bytes := (bits + 7) / 8
	bits = bytes * 8

	filter := make([]byte, bytes+1)
	for _, key := range keys {
		base := murmur3_32(key, bloomSeed)
		step := (base >> 17) | (base << 15)
		h := base
		for j := 0; j < numProbes; j++ {
			bitpos := h % uint32(bits)
			filter[bitpos/8] |= 1 << (bitpos % 8)
			h += step
		}
	}
	filter[bytes] = byte(numProbes)
	return filter
}

// KeyMayMatch reports whether key might have contributed to filter.
// A trailer byte above 30 is treated as a reserved future encoding: the
// engine must not produce false negatives, so it answers true.
func (p *BloomPolicy) KeyMayMatch(key, filter []byte) bool {
	if len(filter) < 1 {
		return false
	}
	bytes := len(filter) - 1
	bits := bytes * 8
	numProbes := int(filter[bytes])
	if numProbes > 30 {
		return true
	}

	base := murmur3_32(key, bloomSeed)
	step := (base >> 17) | (base << 15)
	h := base
	for j := 0; j < numProbes; j++ {
		bitpos := h % uint32(bits)
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += step
	}
	return true
}
