// Package redis provides the Redis cache backend, used when multiple
// gateway instances must share credential-mapping resolution.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/repository"
)

// Config holds Redis connection settings.
type Config struct {
	// Addr is the Redis address in host:port format.
	Addr string

	// Password is the optional auth password.
	Password string

	// DB is the Redis database number.
	DB int

	// PoolSize is the connection pool size.
	PoolSize int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
}

// Cache implements repository.Cache on Redis.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis")

	return &Cache{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}
	return data, nil
}

// Set stores a value with an optional TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}
	return nil
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}
	return nil
}

// Client exposes the underlying connection for components that share it,
// such as the distributed reaper lock.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// Ensure Cache implements repository.Cache
var _ repository.Cache = (*Cache)(nil)
