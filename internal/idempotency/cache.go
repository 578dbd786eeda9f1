package idempotency

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	rec     *Record
	expires time.Time
}

// MemoryCache is an in-process TTL cache. Single-instance deployments use
// this; multi-instance deployments use RedisCache so replays hit regardless
// of which instance served the first attempt.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[recordKey]cacheEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[recordKey]cacheEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key, command string) (*Record, bool) {
	c.mu.RLock()
	entry, ok := c.entries[recordKey{key, command}]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	cp := *entry.rec
	return &cp, true
}

func (c *MemoryCache) Set(ctx context.Context, rec *Record, ttl time.Duration) {
	cp := *rec
	c.mu.Lock()
	c.entries[recordKey{rec.Key, rec.Command}] = cacheEntry{rec: &cp, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(ctx context.Context, key, command string) {
	c.mu.Lock()
	delete(c.entries, recordKey{key, command})
	c.mu.Unlock()
}

// SweepExpired drops entries past their TTL and reports how many. With
// dryRun it only counts them.
func (c *MemoryCache) SweepExpired(ctx context.Context, now time.Time, dryRun bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k, entry := range c.entries {
		if now.After(entry.expires) {
			n++
			if !dryRun {
				delete(c.entries, k)
			}
		}
	}
	return n
}
