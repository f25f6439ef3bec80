package pagecache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

type pageKey struct {
	file uint64
	page int64
}

type lruEntry struct {
	key   pageKey
	value []byte
}

// pageLRU is a byte-bounded LRU of verified page payloads.
// Cached slices are shared and must be treated as read-only.
type pageLRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[pageKey]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

func newPageLRU(capacity int64) *pageLRU {
	return &pageLRU{
		capacity:  capacity,
		items:     make(map[pageKey]*list.Element),
		evictList: list.New(),
	}
}

func (c *pageLRU) get(key pageKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*lruEntry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *pageLRU) set(key pageKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := int64(len(b))
	if itemSize > c.capacity {
		if ent, ok := c.items[key]; ok {
			c.removeElement(ent)
		}
		return
	}

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		old := ent.Value.(*lruEntry)
		c.size += itemSize - int64(len(old.value))
		old.value = b
		c.evict()
		return
	}

	for c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	c.items[key] = c.evictList.PushFront(&lruEntry{key: key, value: b})
	c.size += itemSize
}

func (c *pageLRU) invalidate(predicate func(key pageKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

func (c *pageLRU) evict() {
	for c.size > c.capacity {
		element := c.evictList.Back()
		if element == nil {
			return
		}
		c.removeElement(element)
	}
}

func (c *pageLRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*lruEntry)
	delete(c.items, kv.key)
	c.size -= int64(len(kv.value))
}

func (c *pageLRU) bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
