package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[int], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](size, ttl)
	c.now = clock.now
	return c, clock
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUExpiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)

	c.Set("a", 1)
	clock.t = clock.t.Add(30 * time.Second)
	c.Set("b", 2)

	clock.t = clock.t.Add(45 * time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	clock.t = clock.t.Add(time.Minute)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Zero(t, c.Size())
}

func TestDeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)

	c.Set("dashboard:alice:2024:1", 1)
	c.Set("dashboard:alice:2024:2", 2)
	c.Set("dashboard:alicia:2024:1", 3)
	c.Set("dashboard:bob:2024:1", 4)

	assert.Equal(t, 2, c.DeletePrefix("dashboard:alice:"))
	_, ok := c.Get("dashboard:alicia:2024:1")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Delete("dashboard:bob:2024:1")
	assert.Equal(t, 1, c.Size())
}

func TestManagerCleansRegisteredCaches(t *testing.T) {
	a, clock := newTestCache(10, time.Second)
	b := NewLRUCache[string](10, time.Second)
	b.now = clock.now

	a.Set("x", 1)
	b.Set("y", "z")
	clock.t = clock.t.Add(2 * time.Second)

	m := NewManager(nil)
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 2, m.CleanAll())

	m.StartCleanup(time.Millisecond)
	m.Stop()
}
