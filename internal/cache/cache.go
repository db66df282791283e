// Package cache implements the bounded distance-result cache: lock-striped
// LRU shards with per-entry TTL and lazy epoch invalidation.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const shardCount = 16

// Key identifies one cached distance computation. Compact by construction:
// node ids, not pubkeys.
type Key struct {
	FromID         uint32
	ToID           uint32
	MaxHops        uint8
	IncludeBridges bool
}

// Value is the compact stored form of a distance result. Bridge ids are
// resolved to pubkeys only at the transport boundary.
type Value struct {
	Hops      int
	PathCount uint64
	Mutual    bool
	BridgeIDs []uint32
}

type entry struct {
	value     Value
	epoch     uint64
	expiresAt time.Time
}

type shard struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, entry]
}

// Cache is a sharded key→result map. Entries written under an older store
// epoch are rejected (and dropped) on lookup rather than eagerly evicted,
// which keeps graph writes O(1) with respect to the cache.
type Cache struct {
	shards [shardCount]*shard
	ttl    time.Duration
	cap    int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size    int    `json:"size"`
	Cap     int    `json:"capacity"`
	TTLSecs int    `json:"ttl_secs"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// New creates a cache with the given total capacity and TTL. Capacity is
// split evenly across shards (minimum one entry each).
func New(capacity int, ttl time.Duration) *Cache {
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{ttl: ttl, cap: capacity}
	for i := range c.shards {
		l, _ := lru.New[Key, entry](perShard)
		c.shards[i] = &shard{lru: l}
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	h := uint64(k.FromID)*0x9e3779b97f4a7c15 ^ uint64(k.ToID)<<17 ^ uint64(k.MaxHops)<<1
	if k.IncludeBridges {
		h ^= 1
	}
	return c.shards[h%shardCount]
}

// Get returns the cached value for k if it is present, unexpired, and was
// computed at (or after) currentEpoch. Stale entries are removed on the way
// out and counted as misses.
func (c *Cache) Get(k Key, currentEpoch uint64) (Value, bool) {
	sh := c.shardFor(k)
	sh.mu.Lock()
	e, ok := sh.lru.Get(k)
	if ok && (time.Now().After(e.expiresAt) || e.epoch < currentEpoch) {
		sh.lru.Remove(k)
		ok = false
	}
	sh.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return Value{}, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Put stores v under k, stamped with the store epoch it was computed at.
func (c *Cache) Put(k Key, v Value, epoch uint64) {
	sh := c.shardFor(k)
	sh.mu.Lock()
	sh.lru.Add(k, entry{value: v, epoch: epoch, expiresAt: time.Now().Add(c.ttl)})
	sh.mu.Unlock()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.lru.Purge()
		sh.mu.Unlock()
	}
}

// CacheStats returns current size and hit/miss counters.
func (c *Cache) CacheStats() Stats {
	size := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		size += sh.lru.Len()
		sh.mu.Unlock()
	}
	return Stats{
		Size:    size,
		Cap:     c.cap,
		TTLSecs: int(c.ttl / time.Second),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
