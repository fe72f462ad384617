package cache

import (
	"errors"
	"time"
)

// LayeredCache reads memory first, then disk, and writes both.
type LayeredCache struct {
	memory Cache
	disk   Cache
}

// NewLayeredCache creates a memory cache in front of a disk cache.
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Get returns the value from the first layer that has it. Disk hits are
// copied into memory for no longer than they have left on disk.
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	d, ok := c.disk.(expiring)
	if !ok {
		return c.disk.Get(key)
	}
	val, exp, found := d.GetWithExpiration(key)
	if !found {
		return nil, false
	}

	ttl := time.Duration(-1)
	if !exp.IsZero() {
		ttl = time.Until(exp)
		if ttl <= 0 {
			return nil, false
		}
	}
	_ = c.memory.Set(key, val, ttl)
	return val, true
}

// Set stores value in both layers.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

// Delete removes key from both layers.
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

// Clear empties both layers.
func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}
