// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	t.Cleanup(func() { _ = c.Close() })

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Set(ctx, "ignored", []byte("x"), 0)

	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	c.Delete(ctx, "a", "b")
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(2), s.Sets)
	assert.Equal(t, 0, s.CurrentSize)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewMemoryCache(0)
	c.now = func() time.Time { return now }

	c.Set(ctx, "k", []byte("v"), 10*time.Second)
	now = now.Add(9 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry expires exactly at its deadline")

	assert.Equal(t, 1, c.deleteExpired())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryCache_JanitorStops(t *testing.T) {
	c := NewMemoryCache(5 * time.Millisecond)
	c.Set(context.Background(), "k", []byte("v"), time.Millisecond)
	assert.Eventually(t, func() bool { return c.Stats().CurrentSize == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisCacheWithClient(client, "test:", zerolog.Nop())
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	t.Cleanup(func() { _ = c.Close() })

	c.Set(ctx, "ep:a1:probe", []byte(`{"url":"x"}`), time.Minute)
	assert.True(t, mr.Exists("test:ep:a1:probe"))

	v, ok := c.Get(ctx, "ep:a1:probe")
	require.True(t, ok)
	assert.JSONEq(t, `{"url":"x"}`, string(v))
	assert.Equal(t, 1, c.Stats().CurrentSize)

	c.Delete(ctx, "ep:a1:probe", "ep:a1:download")
	_, ok = c.Get(ctx, "ep:a1:probe")
	assert.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	c.Set(ctx, "k", []byte("v"), 30*time.Second)
	mr.FastForward(31 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_UnavailableIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	mr.Close()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, c.HealthCheck(ctx))
}
