package cache

import (
	"sync"
	"time"
)

// Item is one cached value with its insertion timestamp
type Item struct {
	Value      interface{}
	InsertedAt time.Time
}

// TTLCache is a small read-mostly cache with a fixed time-to-live measured
// from insertion. Expired entries are evicted lazily on the access that
// observes them; there is no background sweep. Writers that change the
// underlying data set call Invalidate to drop everything at once.
type TTLCache struct {
	items map[string]Item
	ttl   time.Duration
	mu    sync.RWMutex

	// now is swappable for tests
	now func() time.Time
}

// NewTTLCache creates a cache with the given TTL
func NewTTLCache(ttl time.Duration) *TTLCache {
	return &TTLCache{
		items: make(map[string]Item),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the value for key if present and not expired. An expired entry
// is removed before reporting a miss.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}

	if c.now().Sub(item.InsertedAt) >= c.ttl {
		c.mu.Lock()
		// re-check under the write lock; a Set may have raced the eviction
		if cur, ok := c.items[key]; ok && cur.InsertedAt.Equal(item.InsertedAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return item.Value, true
}

// Set stores value under key, stamped with the current time
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = Item{
		Value:      value,
		InsertedAt: c.now(),
	}
}

// Invalidate drops every entry. Used after mutations that may have shifted
// the whole upstream snapshot, where evicting single keys is unsafe.
func (c *TTLCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Item)
}

// Len reports the number of entries, including any not yet lazily evicted
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// SetNowFunc overrides the clock; tests use it to step time past the TTL
func (c *TTLCache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
