package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local cache.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a memory cache. A zero defaultTTL keeps entries
// until they are deleted.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL == 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns a copy of the stored value.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, _, ok := c.GetWithExpiration(key)
	return val, ok
}

// GetWithExpiration also returns when the entry expires. The zero time
// means it never does.
func (c *MemoryCache) GetWithExpiration(key string) ([]byte, time.Time, bool) {
	val, exp, found := c.cache.GetWithExpiration(key)
	if !found {
		return nil, time.Time{}, false
	}
	b, ok := val.([]byte)
	if !ok {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), b...), exp, true
}

// Set stores a copy of value. A zero ttl uses the cache default.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes everything.
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}
