package syncengine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewCache_TTLExpiry(t *testing.T) {
	cache := newViewCache(10, 5*time.Minute)
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	cache.Set("dashboard", ViewData{"k": "v"}, now)

	entry := cache.Get("dashboard", now.Add(4*time.Minute))
	require.NotNil(t, entry)
	assert.Equal(t, ViewData{"k": "v"}, entry.Data)

	assert.Nil(t, cache.Get("dashboard", now.Add(5*time.Minute)))
	assert.Equal(t, 0, cache.Stats(now).Size, "expired entry is dropped on read")
}

func TestViewCache_LRUEviction(t *testing.T) {
	cache := newViewCache(2, time.Hour)
	now := time.Now()

	cache.Set("a", ViewData{}, now)
	cache.Set("b", ViewData{}, now)
	require.NotNil(t, cache.Get("a", now)) // refresh a
	cache.Set("c", ViewData{}, now)        // evicts b

	assert.NotNil(t, cache.Get("a", now))
	assert.Nil(t, cache.Get("b", now))
	assert.NotNil(t, cache.Get("c", now))
}

func TestViewCache_InvalidateAndClear(t *testing.T) {
	cache := newViewCache(10, time.Hour)
	now := time.Now()
	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("view-%d", i), ViewData{}, now)
	}

	assert.True(t, cache.Invalidate("view-1"))
	assert.False(t, cache.Invalidate("view-1"))
	assert.False(t, cache.Invalidate("never-cached"))
	assert.Equal(t, 2, cache.Clear())
	assert.Equal(t, 0, cache.Stats(now).Size)
}
