package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// memoryItem is a single cached entry.
type memoryItem struct {
	data      []byte
	expiresAt time.Time
	accessed  time.Time
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryCache implements Cacher with a bounded in-process map. It is the
// fallback when Redis is unavailable; locks held here only serialize work
// within a single instance.
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]*memoryItem
	maxSize  int
	stopChan chan struct{}
	stopped  bool
}

// NewMemoryCache creates a memory cache bounded to maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}

	c := &MemoryCache{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Set stores a JSON-encoded value with expiration. A zero expiration means
// the entry never expires.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := time.Now()
	item := &memoryItem{data: data, accessed: now}
	if expiration > 0 {
		item.expiresAt = now.Add(expiration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = item
	return nil
}

// Get retrieves a value and unmarshals it into dest. Returns ErrMiss when
// the key is absent or expired.
func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	now := time.Now()

	c.mu.Lock()
	item, ok := c.items[key]
	if ok && item.expired(now) {
		delete(c.items, key)
		ok = false
	}
	if ok {
		item.accessed = now
	}
	c.mu.Unlock()

	if !ok {
		return ErrMiss
	}

	if err := json.Unmarshal(item.data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Exists checks if a key exists and has not expired.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || item.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// SetCurrentSnapshots caches the latest funding snapshot set.
func (c *MemoryCache) SetCurrentSnapshots(ctx context.Context, snapshots interface{}, expiration time.Duration) error {
	return c.Set(ctx, KeyCurrentSnapshots, snapshots, expiration)
}

// GetCurrentSnapshots loads the cached funding snapshot set.
func (c *MemoryCache) GetCurrentSnapshots(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyCurrentSnapshots, dest)
}

// SetAssetIndex caches the searchable asset list.
func (c *MemoryCache) SetAssetIndex(ctx context.Context, assets interface{}, expiration time.Duration) error {
	return c.Set(ctx, KeyAssetIndex, assets, expiration)
}

// GetAssetIndex loads the cached asset list.
func (c *MemoryCache) GetAssetIndex(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyAssetIndex, dest)
}

// AcquireLock takes a named lock scoped to this process.
func (c *MemoryCache) AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error) {
	key := lockKey(name)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok && !item.expired(now) {
		return false, nil
	}

	item := &memoryItem{data: []byte("1"), accessed: now}
	if expiration > 0 {
		item.expiresAt = now.Add(expiration)
	}
	c.items[key] = item
	return true, nil
}

// ReleaseLock releases a named lock.
func (c *MemoryCache) ReleaseLock(ctx context.Context, name string) error {
	return c.Delete(ctx, lockKey(name))
}

// HealthCheck always succeeds for the in-process cache.
func (c *MemoryCache) HealthCheck(ctx context.Context) error {
	return nil
}

// Close stops the background cleanup loop.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopChan)
		c.stopped = true
	}
	return nil
}

// Size returns the number of entries currently held.
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest drops the least recently accessed entry. Caller holds mu.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.accessed
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
}
