package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL matches the UI's own polling cadence for listing endpoints. It is
// unrelated to job status polling, which must bypass the cache entirely.
const DefaultTTL = 30 * time.Second

type cacheEntry struct {
	payload  []byte
	storedAt time.Time
}

// Cache is a short-TTL read-through cache keyed by request signature. It must
// only front idempotent read endpoints.
type Cache struct {
	group singleflight.Group
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// GetOrFetch serves the cached payload for key while its age is under ttl;
// otherwise it calls fetch, stores the result, and returns it. Concurrent
// misses for the same key share one fetch. Fetch errors are returned without
// being cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if payload, ok := c.lookup(key, ttl); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return payload, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another waiter may have populated the entry while we queued.
		if payload, ok := c.lookup(key, ttl); ok {
			return payload, nil
		}
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{payload: payload, storedAt: c.now()}
		c.mu.Unlock()
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate removes one entry, typically after a mutation makes cached reads
// stale.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll clears the whole cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *Cache) lookup(key string, ttl time.Duration) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.storedAt) >= ttl {
		return nil, false
	}
	return entry.payload, true
}
