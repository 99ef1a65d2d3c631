package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	// GIVEN: a cache with a controllable clock
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache("enrollment").(*memoryCache)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	// WHEN/THEN: readable until the TTL passes
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	now = now.Add(61 * time.Second)
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache("enrollment").(*memoryCache)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	now = now.Add(24 * 365 * time.Hour)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestMemoryCache_MissAndDelete(t *testing.T) {
	c := NewMemoryCache("enrollment")
	ctx := context.Background()

	got, err := c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, c.Delete(ctx, "a", "b", "never-set"))

	got, _ = c.Get(ctx, "a")
	assert.Empty(t, got)
	got, _ = c.Get(ctx, "b")
	assert.Empty(t, got)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "enrollment:promo_code:SAVE20", NewMemoryCache("enrollment").GenerateKey("promo_code", "SAVE20"))
	assert.Equal(t, "enrollment:promo_code:SAVE20", NewRedisCache("localhost:6379", "enrollment").GenerateKey("promo_code", "SAVE20"))
}

func TestPing_MemoryCacheAlwaysReachable(t *testing.T) {
	assert.NoError(t, Ping(context.Background(), NewMemoryCache("enrollment")))
}

// TEST_REDIS_ADDR points at a disposable Redis.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := NewRedisCache(addr, "enrollment-test")
	require.NoError(t, Ping(ctx, c))

	key := c.GenerateKey("promo_code", "REDIS")
	require.NoError(t, c.Set(ctx, key, "payload", time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	require.NoError(t, c.Delete(ctx, key))
	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)
}
