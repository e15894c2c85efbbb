package archive

import (
	"container/list"
	"context"
	"sync"
)

// MemoryCache is the default in-process PendingCache: a capacity-bounded
// map with oldest-first eviction, keyed by task_id (spec.md §4.8, §9
// "Open question" — default resolution; NewRedisCache is the alternative
// for multi-process deployments).
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = oldest
}

type cacheEntry struct {
	taskID   string
	metadata map[string]any
}

// NewMemoryCache constructs a MemoryCache bounded at capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *MemoryCache) Put(_ context.Context, taskID string, metadata map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[taskID]; ok {
		c.order.Remove(el)
		delete(c.entries, taskID)
	}

	el := c.order.PushBack(&cacheEntry{taskID: taskID, metadata: metadata})
	c.entries[taskID] = el

	for len(c.entries) > c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).taskID)
	}
}

func (c *MemoryCache) PopAndGet(_ context.Context, taskID string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[taskID]
	if !ok {
		return nil, false
	}
	c.order.Remove(el)
	delete(c.entries, taskID)
	return el.Value.(*cacheEntry).metadata, true
}
