package resolver

import (
	"container/list"
	"sync"
	"time"
)

// CacheEntry is what a CacheStore persists per resolved URL.
type CacheEntry struct {
	Body         []byte
	ETag         string
	LastModified string
	StoredAt     time.Time
	ExpiresAt    time.Time
}

// CacheStore is the pluggable backing store for the resolver cache. The
// default is an in-memory LRU (NewMemoryCache); resolver/sqlitecache
// provides a persisted alternative.
type CacheStore interface {
	Get(key string) (CacheEntry, bool)
	Put(key string, entry CacheEntry)
	Delete(key string)
	Clear()
}

// MemoryCache is the default CacheStore: an in-memory LRU bounded by
// maxEntries (the cache_max_entries configuration option).
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[string]*list.Element
}

type memoryCacheItem struct {
	key   string
	entry CacheEntry
}

// NewMemoryCache constructs a MemoryCache bounded to maxEntries. A
// non-positive maxEntries means unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Get(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return CacheEntry{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*memoryCacheItem).entry, true
}

func (c *MemoryCache) Put(key string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*memoryCacheItem).entry = entry
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&memoryCacheItem{key: key, entry: entry})
	c.items[key] = el
	if c.maxEntries > 0 {
		for c.ll.Len() > c.maxEntries {
			oldest := c.ll.Back()
			if oldest == nil {
				break
			}
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*memoryCacheItem).key)
		}
	}
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len reports the current number of cached entries (test/diagnostic use).
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
