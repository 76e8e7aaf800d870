package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (*redisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		URL:          mr.Addr(),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	client, err := NewRedisClient(cfg)
	require.NoError(t, err)

	cache, err := NewRedisCache(client, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	return cache.(*redisCache), mr
}

func TestNewRedisCache(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		cache, _ := setupTestRedis(t)
		assert.NotNil(t, cache.client)
		assert.NotNil(t, cache.logger)
	})

	t.Run("nil client", func(t *testing.T) {
		_, err := NewRedisCache(nil, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is required")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRedisClient(nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := &config.RedisConfig{
			URL:         "localhost:9999", // nothing listens here
			DialTimeout: 100 * time.Millisecond,
		}
		_, err := NewRedisClient(cfg)
		assert.Error(t, err)
	})
}

func TestCache_GetSet(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	err := cache.Set(ctx, "k", "v", time.Minute)
	require.NoError(t, err)

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = cache.Get(ctx, "missing")
	require.Error(t, err)
	assert.IsType(t, ErrCacheKeyNotFound{}, err)
}

func TestCache_SetNX(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, err := cache.Get(ctx, "k")
	assert.IsType(t, ErrCacheKeyNotFound{}, err)
}

func TestCache_JSON(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, cache.SetJSON(ctx, "j", payload{Name: "eng", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, cache.GetJSON(ctx, "j", &got))
	assert.Equal(t, payload{Name: "eng", Count: 3}, got)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	cache, _ := setupTestRedis(t)
	rl := NewRedisRateLimiter(cache.client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "client-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i)
	}

	allowed, err := rl.Allow(ctx, "client-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "client-1", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, rl.Reset(ctx, "client-1"))
	allowed, err = rl.Allow(ctx, "client-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
