package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", "response", 0))
	v, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "response", v)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	require.NoError(t, c.Set(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found, _ := c.Get(ctx, "short")
	assert.False(t, found)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))

	require.NoError(t, c.Delete(ctx, "a"))
	_, found, _ := c.Get(ctx, "a")
	assert.False(t, found)

	require.NoError(t, c.Clear(ctx))
	stats, _ := c.Stats(ctx)
	assert.Equal(t, 0, stats.Entries)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	_, err = New(ctx, Config{Backend: "memcached"})
	assert.Error(t, err)

	_, err = New(ctx, Config{Backend: "redis"})
	assert.ErrorContains(t, err, "redis url is required")

	_, err = New(ctx, Config{Backend: "redis", RedisURL: "not-a-url"})
	assert.ErrorContains(t, err, "invalid redis url")
}
