package cache

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local cache backed by go-cache.
type MemoryCache struct {
	store  *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewMemoryCache creates a cache whose entries expire after ttl; expired
// entries are purged every ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(ttl, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	if v, found := c.store.Get(key); found {
		if s, ok := v.(string); ok {
			c.hits.Add(1)
			return s, true, nil
		}
	}
	c.misses.Add(1)
	return "", false, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.store.Flush()
	return nil
}

func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	return Stats{
		Backend: "memory",
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.ItemCount(),
	}, nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Close() error { return nil }
