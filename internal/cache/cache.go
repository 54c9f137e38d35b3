package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Well-known keys shared by the API read path and the scheduler.
const (
	KeyCurrentSnapshots = "fundarb:snapshots:current"
	KeyAssetIndex       = "fundarb:assets:index"

	lockKeyPrefix = "fundarb:lock:"
)

// Cacher defines the interface for cache operations. Values are JSON
// encoded so the Redis and in-memory implementations behave identically.
type Cacher interface {
	// Generic operations
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Snapshot read-path helpers
	SetCurrentSnapshots(ctx context.Context, snapshots interface{}, expiration time.Duration) error
	GetCurrentSnapshots(ctx context.Context, dest interface{}) error
	SetAssetIndex(ctx context.Context, assets interface{}, expiration time.Duration) error
	GetAssetIndex(ctx context.Context, dest interface{}) error

	// Locks serialize periodic work across instances
	AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config defines cache configuration.
type Config struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`

	// MemoryMaxSize bounds the in-memory fallback cache.
	MemoryMaxSize int `json:"memory_max_size" yaml:"memory_max_size"`
}

// NewCacher creates a Redis-backed cache when one is configured and
// reachable, and otherwise falls back to a bounded in-memory cache so a
// single instance keeps serving without Redis.
func NewCacher(cfg *Config) (Cacher, error) {
	if cfg == nil || !cfg.Enabled || cfg.Addr == "" {
		return NewMemoryCache(memoryMaxSize(cfg)), nil
	}

	rc, err := NewRedisCache(cfg)
	if err != nil {
		return NewMemoryCache(memoryMaxSize(cfg)), fmt.Errorf("failed to connect to redis, using memory cache: %w", err)
	}
	return rc, nil
}

func memoryMaxSize(cfg *Config) int {
	if cfg != nil && cfg.MemoryMaxSize > 0 {
		return cfg.MemoryMaxSize
	}
	return 10000
}

func lockKey(name string) string {
	return lockKeyPrefix + name
}
