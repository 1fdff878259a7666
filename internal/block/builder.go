package block

import "github.com/aalhour/embedkv/internal/encoding"

// Builder accumulates key-value pairs into one prefix-compressed block.
//
// Entry format: varint(shared_len) varint(unshared_len) varint(value_len)
// key_delta value. Block trailer: restart-offset array (u32 LE each)
// followed by a u32 restart count.
type Builder struct {
	restartInterval int
	buffer          []byte
	restarts        []uint32
	counter         int
	lastKey         []byte
	finished        bool
}

// NewBuilder creates a Builder that emits a restart point at least every
// restartInterval entries.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &Builder{restartInterval: restartInterval, restarts: []uint32{0}}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buffer = b.buffer[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// Empty reports whether no entry has been added since the last Reset.
func (b *Builder) Empty() bool { return len(b.buffer) == 0 }

// CurrentSizeEstimate estimates the block's encoded size if finished now.
func (b *Builder) CurrentSizeEstimate() int {
	return len(b.buffer) + len(b.restarts)*4 + 4
}

// Add appends one key-value pair. REQUIRES: key > every previously added
// key in this block, and Finish has not been called since the last Reset.
func (b *Builder) Add(key, value []byte) {
	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLen(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buffer)))
		b.counter = 0
	}
	unshared := len(key) - shared

	b.buffer = encoding.AppendVarint32(b.buffer, uint32(shared))
	b.buffer = encoding.AppendVarint32(b.buffer, uint32(unshared))
	b.buffer = encoding.AppendVarint32(b.buffer, uint32(len(value)))
	b.buffer = append(b.buffer, key[shared:]...)
	b.buffer = append(b.buffer, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// Finish appends the restart trailer and returns the encoded block. The
// returned slice is valid until the next Reset.
func (b *Builder) Finish() []byte {
	for _, r := range b.restarts {
		b.buffer = encoding.AppendFixed32(b.buffer, r)
	}
	b.buffer = encoding.AppendFixed32(b.buffer, uint32(len(b.restarts)))
	b.finished = true
	return b.buffer
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
