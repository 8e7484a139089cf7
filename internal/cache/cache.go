// Package cache provides a generic TTL cache with LRU eviction
package cache

import (
	"sync"
	"time"
)

// Cache represents a generic in-memory cache
type Cache[K comparable, V any] struct {
	items      map[K]*Item[V]
	mutex      sync.Mutex
	defaultTTL time.Duration
	maxSize    int
	hits       uint64
	misses     uint64
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// Item represents a cached item with expiration
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
	LastUsed  time.Time
}

// Stats reports cache effectiveness
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Option configures a Cache
type Option func(*options)

type options struct {
	now     func() time.Time
	cleanup bool
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithoutCleanup disables the background sweep of expired items
func WithoutCleanup() Option {
	return func(o *options) { o.cleanup = false }
}

// NewCache creates a new cache instance. A non-positive maxSize means unbounded.
// Call Close to stop the background cleanup.
func NewCache[K comparable, V any](defaultTTL time.Duration, maxSize int, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now, cleanup: true}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[K, V]{
		items:      make(map[K]*Item[V]),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		now:        o.now,
		stop:       make(chan struct{}),
	}

	if o.cleanup && defaultTTL > 0 {
		go c.startCleanup()
	}
	return c
}

// Set stores a value in the cache with default TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value in the cache with custom TTL
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	now := c.now()
	c.items[key] = &Item[V]{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		LastUsed:  now,
	}
}

// Get retrieves a value from the cache. Expired entries count as misses.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, exists := c.items[key]
	now := c.now()
	if exists && now.After(item.ExpiresAt) {
		delete(c.items, key)
		exists = false
	}
	if !exists {
		c.misses++
		var zero V
		return zero, false
	}

	c.hits++
	item.LastUsed = now
	return item.Value, true
}

// Delete removes a value from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *Cache[K, V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[K]*Item[V])
}

// Size returns the number of items in the cache, expired or not
func (c *Cache[K, V]) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.items)
}

// Stats returns hit and miss counters and the current size
func (c *Cache[K, V]) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.items)}
}

// Close stops the cleanup goroutine
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// evictLRU removes the least recently used item
func (c *Cache[K, V]) evictLRU() {
	var oldestKey K
	var oldestTime time.Time
	first := true

	for key, item := range c.items {
		if first || item.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.LastUsed
			first = false
		}
	}

	if !first {
		delete(c.items, oldestKey)
	}
}

func (c *Cache[K, V]) startCleanup() {
	ticker := time.NewTicker(c.defaultTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired items
func (c *Cache[K, V]) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}
