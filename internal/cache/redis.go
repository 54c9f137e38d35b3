package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cacher on top of a Redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client and verifies connectivity.
func NewRedisCache(cfg *Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Set stores a JSON-encoded value with expiration.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value and unmarshals it into dest. Returns ErrMiss when
// the key does not exist.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}

// SetCurrentSnapshots caches the latest funding snapshot set.
func (c *RedisCache) SetCurrentSnapshots(ctx context.Context, snapshots interface{}, expiration time.Duration) error {
	return c.Set(ctx, KeyCurrentSnapshots, snapshots, expiration)
}

// GetCurrentSnapshots loads the cached funding snapshot set.
func (c *RedisCache) GetCurrentSnapshots(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyCurrentSnapshots, dest)
}

// SetAssetIndex caches the searchable asset list.
func (c *RedisCache) SetAssetIndex(ctx context.Context, assets interface{}, expiration time.Duration) error {
	return c.Set(ctx, KeyAssetIndex, assets, expiration)
}

// GetAssetIndex loads the cached asset list.
func (c *RedisCache) GetAssetIndex(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyAssetIndex, dest)
}

// AcquireLock attempts to take a named lock. Returns false when another
// holder already owns it.
func (c *RedisCache) AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockKey(name), "1", expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock releases a named lock.
func (c *RedisCache) ReleaseLock(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, lockKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// HealthCheck verifies the Redis connection.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
