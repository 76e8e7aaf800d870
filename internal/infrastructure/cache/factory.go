package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

// CacheManager bundles the Redis-backed services: the generic cache, the
// content snapshot cache and the HTTP rate limiter, all over one client.
type CacheManager struct {
	Cache       Cache
	Content     *ContentCache
	RateLimiter RateLimiter
	client      *redis.Client
	logger      *zap.Logger
}

// NewCacheManager creates a new cache manager with all cache services
func NewCacheManager(cfg *config.RedisConfig, cacheCfg *config.CacheConfig, logger *zap.Logger) (*CacheManager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := NewRedisCache(client, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	contentCache := NewContentCache(cache, cacheCfg.SpaceTTL, logger)
	rateLimiter := NewRedisRateLimiter(client, logger)

	logger.Info("cache manager initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB))

	return &CacheManager{
		Cache:       cache,
		Content:     contentCache,
		RateLimiter: rateLimiter,
		client:      client,
		logger:      logger,
	}, nil
}

// HealthCheck verifies the Redis connection is operational.
func (cm *CacheManager) HealthCheck(ctx context.Context) error {
	if err := cm.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes all cache connections.
func (cm *CacheManager) Close() error {
	if err := cm.Cache.Close(); err != nil {
		return fmt.Errorf("cache manager close failed: %w", err)
	}
	cm.logger.Info("cache manager closed")
	return nil
}
