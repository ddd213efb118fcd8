package pack

import (
	"container/list"
	"sync"
)

// valueCache is a bounded LRU of resolved JSON values keyed by content
// hash, shaped after the retrieval pack's sync_gateway RevisionCache
// (container/list ordered by recency, map for O(1) lookup, one mutex).
// It is a pure accelerator: correctness of Store.Get does not depend on
// what it currently holds (spec §5).
type valueCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // Front = most recently used
}

type cacheEntry struct {
	key   string
	value any
}

func newValueCache(capacity int) *valueCache {
	return &valueCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *valueCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *valueCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, value: value})
	c.entries[key] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
