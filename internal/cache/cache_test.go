package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCacheExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache[string, int](5*time.Minute, 10, WithClock(clock.Now), WithoutCleanup())
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(5 * time.Minute)
	_, ok = c.Get("a")
	assert.True(t, ok, "entry is still valid at exactly the TTL")

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)

	assert.Equal(t, Stats{Hits: 2, Misses: 1, Size: 0}, c.Stats())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache[string, int](time.Hour, 2, WithClock(clock.Now), WithoutCleanup())
	defer c.Close()

	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)
	c.Get("a")
	clock.Advance(time.Second)
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())

	// overwriting an existing key never evicts
	c.Set("a", 10)
	assert.Equal(t, 2, c.Size())
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := NewCache[string, string](time.Minute, 0)
	defer c.Close()

	c.Set("x", "1")
	c.Set("y", "2")
	c.Delete("x")
	_, ok := c.Get("x")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCacheCleanup(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCache[string, int](time.Minute, 0, WithClock(clock.Now), WithoutCleanup())
	defer c.Close()

	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Hour)
	clock.Advance(2 * time.Minute)
	c.cleanup()

	assert.Equal(t, 1, c.Size())
}
