package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	_, ok := c.Get("a") // a becomes most recent
	assert.True(t, ok)

	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Now()
	c := NewLRUCache[string](10, time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("j", "w")

	now = now.Add(2 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_UpdateDeleteClear(t *testing.T) {
	c := NewLRUCache[string](0, time.Minute)
	assert.Equal(t, 1, c.GetStats().Capacity)

	c.Set("k", "v1")
	c.Set("k", "v2")
	v, _ := c.Get("k")
	assert.Equal(t, "v2", v)

	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("x", "y")
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
