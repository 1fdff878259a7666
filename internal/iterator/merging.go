package iterator

// Comparator orders the keys produced by a MergingIterator's children
// (typically internal keys).
type Comparator interface {
	Compare(a, b []byte) int
}

// direction tracks which way the iterator last moved, since advancing a
// multi-way merge after a direction reversal requires re-synchronizing
// every child onto the current key first.
type direction int

const (
	dirForward direction = iota
	dirReverse
)

// MergingIterator fuses several child iterators (the active memtable, any
// immutable memtables, and a two-level iterator per SST/level) into one
// cursor over their union, in Comparator order. Children may contain the
// same user key at different sequence numbers; the internal-key
// comparator's descending-sequence tie-break means the first such entry
// encountered is the newest, which is exactly what the read path wants.
type MergingIterator struct {
	cmp      Comparator
	children []Iterator
	current  int // index into children of the current entry, or -1
	dir      direction
	err      error
}

// NewMergingIterator builds a MergingIterator over children, ordered by
// cmp. children is retained; callers must not reuse it after this call.
func NewMergingIterator(cmp Comparator, children []Iterator) *MergingIterator {
	return &MergingIterator{cmp: cmp, children: children, current: -1}
}

func (m *MergingIterator) Valid() bool { return m.current >= 0 }

func (m *MergingIterator) Key() []byte {
	return m.children[m.current].Key()
}

func (m *MergingIterator) Value() []byte {
	return m.children[m.current].Value()
}

func (m *MergingIterator) Err() error {
	if m.err != nil {
		return m.err
	}
	for _, c := range m.children {
		if err := c.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MergingIterator) SeekToFirst() {
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.dir = dirForward
	m.findSmallest()
}

func (m *MergingIterator) SeekToLast() {
	for _, c := range m.children {
		c.SeekToLast()
	}
	m.dir = dirReverse
	m.findLargest()
}

func (m *MergingIterator) Seek(target []byte) {
	for _, c := range m.children {
		c.Seek(target)
	}
	m.dir = dirForward
	m.findSmallest()
}

func (m *MergingIterator) Next() {
	if m.dir != dirForward {
		// Every child not positioned on the current key must be advanced
		// past it so they all agree on "just after the current entry".
		key := m.Key()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() && m.cmp.Compare(c.Key(), key) == 0 {
				c.Next()
			}
		}
		m.dir = dirForward
	}
	m.children[m.current].Next()
	m.findSmallest()
}

func (m *MergingIterator) Prev() {
	if m.dir != dirReverse {
		key := m.Key()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() {
				c.Prev()
			} else {
				c.SeekToLast()
			}
		}
		m.dir = dirReverse
	}
	m.children[m.current].Prev()
	m.findLargest()
}

func (m *MergingIterator) findSmallest() {
	best := -1
	for i, c := range m.children {
		if !c.Valid() {
			continue
		}
		if best < 0 || m.cmp.Compare(c.Key(), m.children[best].Key()) < 0 {
			best = i
		}
	}
	m.current = best
}

func (m *MergingIterator) findLargest() {
	best := -1
	for i, c := range m.children {
		if !c.Valid() {
			continue
		}
		if best < 0 || m.cmp.Compare(c.Key(), m.children[best].Key()) > 0 {
			best = i
		}
	}
	m.current = best
}
