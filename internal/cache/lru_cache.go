// Package cache provides the LRU cache for decoded B-tree node bytes.
//
// Nodes in an append-only file never change once written, so entries never
// need invalidation: a cached value stays correct until it is evicted. The
// only reason to Erase is compaction retiring a whole file.
package cache

import (
	"container/list"
	"hash/maphash"
	"sync"
	"sync/atomic"
)

// Key identifies a cached node: the file it lives in and its chunk offset.
type Key struct {
	File   uint64
	Offset int64
}

// Cache is implemented by LRUCache and ShardedLRUCache.
type Cache interface {
	// Insert adds value with the given charge (usually len(value)).
	Insert(key Key, value []byte, charge uint64)

	// Lookup returns the cached value, or nil and false.
	Lookup(key Key) ([]byte, bool)

	// EraseFile removes every entry belonging to file.
	EraseFile(file uint64)

	// Usage returns the summed charge of all entries.
	Usage() uint64

	// Hits and Misses count Lookup outcomes.
	Hits() uint64
	Misses() uint64
}

// LRUCache is a thread-safe LRU cache bounded by total charge.
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
	key    Key
	value  []byte
	charge uint64
}

// NewLRUCache creates a new LRU cache holding at most capacity bytes.
func NewLRUCache(capacity uint64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// Insert adds or replaces an entry, evicting from the cold end as needed.
// Values larger than the whole cache are not stored.
func (c *LRUCache) Insert(key Key, value []byte, charge uint64) {
	if charge > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		entry := elem.Value.(*lruEntry)
		c.usage -= entry.charge
		entry.value = value
		entry.charge = charge
		c.usage += charge
		c.lru.MoveToFront(elem)
	} else {
		c.table[key] = c.lru.PushFront(&lruEntry{key: key, value: value, charge: charge})
		c.usage += charge
	}

	for c.usage > c.capacity && c.lru.Len() > 0 {
		c.removeElement(c.lru.Back())
	}
}

// Lookup returns the cached value for key.
func (c *LRUCache) Lookup(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*lruEntry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// EraseFile drops every entry of file.
func (c *LRUCache) EraseFile(file uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.table {
		if key.File == file {
			c.removeElement(elem)
		}
	}
}

// Usage returns the current total charge.
func (c *LRUCache) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Len returns the number of entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Hits returns the number of successful lookups.
func (c *LRUCache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of failed lookups.
func (c *LRUCache) Misses() uint64 { return c.misses.Load() }

// must be called with mu held
func (c *LRUCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.table, entry.key)
	c.lru.Remove(elem)
	c.usage -= entry.charge
}

// ShardedLRUCache spreads keys over independent LRUCaches to cut lock
// contention between concurrent readers.
type ShardedLRUCache struct {
	shards []*LRUCache
	seed   maphash.Seed
}

// NewShardedLRUCache creates a cache of numShards shards (rounded up to a
// power of two) sharing capacity evenly.
func NewShardedLRUCache(capacity uint64, numShards int) *ShardedLRUCache {
	n := 1
	for n < numShards {
		n <<= 1
	}
	c := &ShardedLRUCache{shards: make([]*LRUCache, n), seed: maphash.MakeSeed()}
	per := capacity / uint64(n)
	for i := range c.shards {
		c.shards[i] = NewLRUCache(per)
	}
	return c
}

func (c *ShardedLRUCache) shard(key Key) *LRUCache {
	var h maphash.Hash
	h.SetSeed(c.seed)
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(key.File >> (8 * i))
		b[8+i] = byte(uint64(key.Offset) >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return c.shards[h.Sum64()&uint64(len(c.shards)-1)]
}

// Insert implements Cache.
func (c *ShardedLRUCache) Insert(key Key, value []byte, charge uint64) {
	c.shard(key).Insert(key, value, charge)
}

// Lookup implements Cache.
func (c *ShardedLRUCache) Lookup(key Key) ([]byte, bool) {
	return c.shard(key).Lookup(key)
}

// EraseFile implements Cache.
func (c *ShardedLRUCache) EraseFile(file uint64) {
	for _, s := range c.shards {
		s.EraseFile(file)
	}
}

// Usage implements Cache.
func (c *ShardedLRUCache) Usage() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.Usage()
	}
	return total
}

// Hits implements Cache.
func (c *ShardedLRUCache) Hits() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.Hits()
	}
	return total
}

// Misses implements Cache.
func (c *ShardedLRUCache) Misses() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.Misses()
	}
	return total
}
