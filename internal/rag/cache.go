package rag

import (
	"sync"
	"time"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// Cache is the retriever's best-effort, in-memory TTL cache, keyed by
// (normalized query, filter fingerprint). Entries expire ttl after their
// last Put, and once maxSize is exceeded the entry with the oldest Put is
// evicted. Get does not refresh an entry, so eviction follows write order,
// not recency of use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	maxSize int
}

type entry struct {
	chunks    []models.RetrievedChunk
	touchedAt int64
}

// NewCache builds a cache with the given TTL and maximum entry count.
// ttl<=0 disables expiry; maxSize<=0 disables the entry ever being kept.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func cacheKey(normalizedQuery, filterFingerprint string) string {
	return normalizedQuery + "\x00" + filterFingerprint
}

// Get returns the cached chunk set, if present and unexpired. A cache
// miss is never an error — lookups here never block retrieval.
func (c *Cache) Get(normalizedQuery, filterFingerprint string) ([]models.RetrievedChunk, bool) {
	key := cacheKey(normalizedQuery, filterFingerprint)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := time.Now().UnixMilli()
	if c.ttl > 0 && now-e.touchedAt >= c.ttl.Milliseconds() {
		delete(c.entries, key)
		return nil, false
	}
	return e.chunks, true
}

// Put stores chunks under the given key, evicting the oldest entry if
// the cache is at capacity.
func (c *Cache) Put(normalizedQuery, filterFingerprint string, chunks []models.RetrievedChunk) {
	if c.maxSize <= 0 {
		return
	}
	key := cacheKey(normalizedQuery, filterFingerprint)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	c.entries[key] = entry{chunks: chunks, touchedAt: now}
	c.prune(now)
}

func (c *Cache) prune(nowMs int64) {
	if c.ttl > 0 {
		cutoff := nowMs - c.ttl.Milliseconds()
		for k, e := range c.entries {
			if e.touchedAt < cutoff {
				delete(c.entries, k)
			}
		}
	}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestTs int64 = int64(^uint64(0) >> 1)
		for k, e := range c.entries {
			if e.touchedAt < oldestTs {
				oldestTs = e.touchedAt
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}
