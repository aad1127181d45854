// Package cache provides a small in-memory TTL cache used by the store
// facade for read-mostly rows such as user profiles.
package cache

import (
	"sync"
	"time"
)

// Config holds the cache configuration.
type Config struct {
	// DefaultTTL is the expiration applied when Set is called without an
	// explicit TTL.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
	// MaxItems bounds the cache size; the oldest entry is evicted when the
	// bound is reached. Zero means unbounded.
	MaxItems int
	// OnEviction, when set, is called for every removed entry.
	OnEviction func(key string, value any)
}

type item struct {
	value     any
	expiresAt time.Time
	storedAt  time.Time
}

// Cache is a thread-safe in-memory cache with per-entry expiration.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]item
	config Config
	done   chan struct{}
	closed sync.Once
}

// New creates a new Cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	c := &Cache{
		items:  make(map[string]item),
		config: config,
		done:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached value for key and whether it exists and is fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.MaxItems > 0 && len(c.items) >= c.config.MaxItems {
		if _, exists := c.items[key]; !exists {
			c.evictOldestLocked()
		}
	}
	c.items[key] = item{value: value, expiresAt: now.Add(ttl), storedAt: now}
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	it, ok := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()
	if ok && c.config.OnEviction != nil {
		c.config.OnEviction(key, it.value)
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.closed.Do(func() { close(c.done) })
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, it := range c.items {
		if oldestKey == "" || it.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = it.storedAt
		}
	}
	if oldestKey != "" {
		it := c.items[oldestKey]
		delete(c.items, oldestKey)
		if c.config.OnEviction != nil {
			c.config.OnEviction(oldestKey, it.value)
		}
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, it := range c.items {
				if now.After(it.expiresAt) {
					delete(c.items, key)
					if c.config.OnEviction != nil {
						c.config.OnEviction(key, it.value)
					}
				}
			}
			c.mu.Unlock()
		}
	}
}
