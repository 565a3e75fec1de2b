package syncengine

import (
	"container/list"
	"sync"
	"time"
)

// ViewData is the derived, view-specific shape returned to consumers.
type ViewData map[string]any

// cloneViewData deep-copies the JSON-shaped values views are built from,
// so a caller mutating its result cannot corrupt the cached entry other
// readers share.
func cloneViewData(data ViewData) ViewData {
	out := make(ViewData, len(data))
	for k, v := range data {
		out[k] = cloneViewValue(v)
	}
	return out
}

func cloneViewValue(v any) any {
	switch val := v.(type) {
	case ViewData:
		return cloneViewData(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = cloneViewValue(x)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, m := range val {
			out[i] = cloneViewValue(m).(map[string]any)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = cloneViewValue(x)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// CacheEntry is one cached view with its generation timestamp and TTL.
type CacheEntry struct {
	ViewName  string
	Data      ViewData
	Timestamp time.Time
	TTL       time.Duration
}

// viewCache is a thread-safe LRU cache of generated views. Entries expire
// after their TTL; the engine additionally drops entries whose underlying
// plan sections were touched by a write.
type viewCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
}

func newViewCache(maxSize int, ttl time.Duration) *viewCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &viewCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the live entry for viewName, or nil on miss or expiry.
func (c *viewCache) Get(viewName string, now time.Time) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[viewName]
	if !ok {
		return nil
	}
	entry := elem.Value.(*CacheEntry)
	if now.Sub(entry.Timestamp) >= entry.TTL {
		c.removeElement(elem)
		return nil
	}
	c.lru.MoveToFront(elem)
	return entry
}

// Set stores a freshly generated view.
func (c *viewCache) Set(viewName string, data ViewData, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[viewName]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*CacheEntry)
		entry.Data = data
		entry.Timestamp = now
		return
	}

	entry := &CacheEntry{ViewName: viewName, Data: data, Timestamp: now, TTL: c.ttl}
	c.items[viewName] = c.lru.PushFront(entry)

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Invalidate drops one view; reports whether it was present.
func (c *viewCache) Invalidate(viewName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[viewName]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Clear drops everything and returns how many entries were removed.
func (c *viewCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lru.Len()
	c.items = make(map[string]*list.Element)
	c.lru = list.New()
	return n
}

func (c *viewCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*CacheEntry).ViewName)
}

// CacheStats is a snapshot of cache occupancy.
type CacheStats struct {
	Size    int
	MaxSize int
	Expired int
}

func (c *viewCache) Stats(now time.Time) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Size: c.lru.Len(), MaxSize: c.maxSize}
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if now.Sub(elem.Value.(*CacheEntry).Timestamp) >= c.ttl {
			stats.Expired++
		}
	}
	return stats
}
