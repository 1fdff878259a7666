// Package cache implements the sharded LRU block cache used to hold
// decompressed SST data blocks in memory, cutting disk reads for hot keys.
package cache

import (
	"container/list"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// Cache is the interface implemented by both the single-shard LRUCache and
// the ShardedLRUCache built on top of it.
type Cache interface {
	// Insert adds a block to the cache, or updates it if key already
	// exists. Returns a Handle the caller must Release when done.
	Insert(key Key, value []byte, charge uint64) *Handle

	// Lookup retrieves a block from the cache, or nil if absent.
	Lookup(key Key) *Handle

	// Release releases a handle obtained from Insert or Lookup.
	Release(handle *Handle)

	// Erase removes a key from the cache.
	Erase(key Key)

	GetCapacity() uint64
	GetUsage() uint64
	GetOccupancyCount() uint64
}

// Key identifies one cached block: the SST file it came from and its
// offset within that file.
type Key struct {
	FileNumber  uint64
	BlockOffset uint64
}

// Handle is a pinned reference to a cached entry.
type Handle struct {
	key     Key
	value   []byte
	charge  uint64
	refs    int32
	deleted bool
}

// Value returns the cached block's bytes.
func (h *Handle) Value() []byte { return h.value }

// LRUCache is a thread-safe, single-shard LRU cache with a byte-size
// capacity.
type LRUCache struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[Key]*list.Element
	lru      *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

type lruEntry struct {
	handle *Handle
}

func getEntry(elem *list.Element) *lruEntry {
	entry, _ := elem.Value.(*lruEntry)
	return entry
}

// NewLRUCache creates an LRUCache with the given capacity in bytes.
func NewLRUCache(capacity uint64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// Insert adds or updates a cache entry, evicting unpinned entries as
// needed to stay within capacity.
func (c *LRUCache) Insert(key Key, value []byte, charge uint64) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		entry := getEntry(elem)
		c.usage -= entry.handle.charge
		entry.handle.value = value
		entry.handle.charge = charge
		c.usage += charge
		c.lru.MoveToFront(elem)
		entry.handle.refs++
		return entry.handle
	}

	handle := &Handle{key: key, value: value, charge: charge, refs: 1}
	for c.usage+charge > c.capacity && c.lru.Len() > 0 {
		if !c.evictOne() {
			break
		}
	}

	entry := &lruEntry{handle: handle}
	elem := c.lru.PushFront(entry)
	c.table[key] = elem
	c.usage += charge
	return handle
}

// Lookup retrieves an entry, pinning it. The caller must Release it.
func (c *LRUCache) Lookup(key Key) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		entry := getEntry(elem)
		if !entry.handle.deleted {
			c.lru.MoveToFront(elem)
			entry.handle.refs++
			c.hits.Add(1)
			return entry.handle
		}
	}
	c.misses.Add(1)
	return nil
}

// Release unpins a handle obtained from Insert or Lookup.
func (c *LRUCache) Release(handle *Handle) {
	if handle == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	handle.refs--
	if handle.refs == 0 && handle.deleted {
		c.removeHandle(handle)
	}
}

// Erase marks key for removal once its last reference is released.
func (c *LRUCache) Erase(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.table[key]; ok {
		entry := getEntry(elem)
		entry.handle.deleted = true
		if entry.handle.refs == 0 {
			c.removeHandle(entry.handle)
		}
	}
}

func (c *LRUCache) GetCapacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *LRUCache) GetUsage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *LRUCache) GetOccupancyCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.table))
}

// evictOne evicts the least recently used unpinned entry. Returns false if
// every entry is currently pinned. Must be called with mu held.
func (c *LRUCache) evictOne() bool {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		entry := getEntry(e)
		if entry.handle.refs == 0 && !entry.handle.deleted {
			c.removeEntry(e)
			return true
		}
	}
	return false
}

func (c *LRUCache) removeEntry(elem *list.Element) {
	entry := getEntry(elem)
	delete(c.table, entry.handle.key)
	c.lru.Remove(elem)
	c.usage -= entry.handle.charge
}

func (c *LRUCache) removeHandle(handle *Handle) {
	if elem, ok := c.table[handle.key]; ok {
		c.removeEntry(elem)
	}
}

// ShardedLRUCache spreads entries across several LRUCache shards, keyed by
// a hash of Key, to reduce lock contention under concurrent readers.
type ShardedLRUCache struct {
	shards    []*LRUCache
	numShards uint64
}

// NewShardedLRUCache creates a ShardedLRUCache of total capacity bytes
// split evenly across numShards shards (rounded up to a power of 2).
func NewShardedLRUCache(capacity uint64, numShards int) *ShardedLRUCache {
	if numShards <= 0 {
		numShards = 16
	}
	numShards = nextPowerOf2(numShards)

	shardCapacity := capacity / uint64(numShards)
	if shardCapacity == 0 {
		shardCapacity = 1
	}

	c := &ShardedLRUCache{
		shards:    make([]*LRUCache, numShards),
		numShards: uint64(numShards),
	}
	for i := range numShards {
		c.shards[i] = NewLRUCache(shardCapacity)
	}
	return c
}

func nextPowerOf2(n int) int {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

// shard picks the sub-cache for key by xxh3-hashing its encoded form,
// so keys spread evenly across shards regardless of how sequential
// FileNumber/BlockOffset values tend to be in practice.
func (c *ShardedLRUCache) shard(key Key) *LRUCache {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], key.FileNumber)
	binary.LittleEndian.PutUint64(buf[8:], key.BlockOffset)
	h := xxh3.Hash(buf[:])
	return c.shards[h%c.numShards]
}

func (c *ShardedLRUCache) Insert(key Key, value []byte, charge uint64) *Handle {
	return c.shard(key).Insert(key, value, charge)
}

func (c *ShardedLRUCache) Lookup(key Key) *Handle {
	return c.shard(key).Lookup(key)
}

func (c *ShardedLRUCache) Release(handle *Handle) {
	if handle == nil {
		return
	}
	c.shard(handle.key).Release(handle)
}

func (c *ShardedLRUCache) Erase(key Key) {
	c.shard(key).Erase(key)
}

func (c *ShardedLRUCache) GetCapacity() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.GetCapacity()
	}
	return total
}

func (c *ShardedLRUCache) GetUsage() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.GetUsage()
	}
	return total
}

func (c *ShardedLRUCache) GetOccupancyCount() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.GetOccupancyCount()
	}
	return total
}
