package summary

import (
	"sync"
	"time"
)

type cacheItem struct {
	text      string
	expiresAt time.Time
}

// Cache keeps completed summary texts in memory. It is derived from the store
// and may be dropped at any time.
type Cache struct {
	mu    sync.RWMutex
	items map[int64]cacheItem
	ttl   time.Duration
	now   func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[int64]cacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *Cache) Get(entryID int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[entryID]
	if !ok || !c.now().Before(item.expiresAt) {
		return "", false
	}
	return item.text, true
}

func (c *Cache) Set(entryID int64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[entryID] = cacheItem{text: text, expiresAt: c.now().Add(c.ttl)}
}

func (c *Cache) Delete(entryIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range entryIDs {
		delete(c.items, id)
	}
}

// Prune drops expired items and returns how many were removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, id)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
