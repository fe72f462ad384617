// Package cache stores fetched credentials and responses in memory and on
// disk.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/clinlp/medspan/internal/model"
)

const keyPrefix = "medspan:v1:"

// Cache is a byte store with per-entry expiry.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// expiring caches can report when an entry runs out.
type expiring interface {
	GetWithExpiration(key string) ([]byte, time.Time, bool)
}

// CacheKey hashes the parts into a fixed-length key. Parts are separated so
// ("ab", "c") and ("a", "bc") differ.
func CacheKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(hash[:])
}

// New builds the cache described by cfg: memory and disk when enabled,
// memory only otherwise.
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled || cfg.Dir == "" {
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	}
	return NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
}
