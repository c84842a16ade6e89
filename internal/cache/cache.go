package cache

import (
	"context"
	"fmt"
	"time"
)

// Package cache stores model responses so identical prompts inside the TTL
// skip the provider call.
//
// Backends:
//   - memory: in-process, github.com/patrickmn/go-cache
//   - redis:  shared between replicas, github.com/redis/go-redis/v9
//
// Keys are produced by the LLM router (hash of provider, model, system
// instruction, prompt and sampling options), values are the raw response text.

// Cache defines the interface for caching operations.
type Cache interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value with given key and TTL (0 = backend default).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key from cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries owned by this cache.
	Clear(ctx context.Context) error

	// Stats returns hit/miss counters and the entry count.
	Stats(ctx context.Context) (Stats, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Backend string `json:"backend"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Config selects and tunes a backend.
type Config struct {
	Backend  string // memory | redis
	TTL      time.Duration
	RedisURL string
	Prefix   string
}

// New creates the configured cache backend.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.TTL), nil
	case "redis":
		return NewRedisCache(ctx, cfg.RedisURL, cfg.Prefix, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
