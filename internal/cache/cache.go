// Package cache implements the CacheLayer: three LRU+TTL caches
// (result, paraphrase, rerank) with hit/miss statistics.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Default sizes/TTLs per spec §4.12.
const (
	DefaultResultTTL  = 5 * time.Minute
	DefaultRerankTTL  = 5 * time.Minute
	DefaultMaxEntries = 10000
)

// Cache is a generic LRU with per-entry TTL and hit/miss counters.
type Cache[K comparable, V any] struct {
	lru    *lru.LRU[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New constructs a Cache with the given capacity and TTL.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = DefaultMaxEntries
	}
	return &Cache[K, V]{lru: lru.NewLRU[K, V](size, nil, ttl)}
}

// Get records a hit or miss and returns the cached value.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores a value under key, evicting per LRU+TTL policy.
func (c *Cache[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

// Purge clears the cache. Used on explicit invalidation (e.g. a
// collection_version bump the caller wants reflected immediately).
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// Stats reports cache statistics for the observability boundary.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Stats returns current hit/miss counts and entry count.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}

// HitRate returns hits/(hits+misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
