package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local Cache backed by go-cache. Values are stored
// JSON-encoded so readers never share memory with writers.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates a cache that sweeps expired entries every cleanup.
func NewMemoryCache(cleanup time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(gocache.NoExpiration, cleanup)}
}

func (c *MemoryCache) Get(_ context.Context, key string, dest any) error {
	raw, ok := c.store.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	if err := json.Unmarshal(raw.([]byte), dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.store.Set(key, data, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.store.Delete(k)
	}
	return nil
}

// Has reports whether key is present and unexpired.
func (c *MemoryCache) Has(key string) bool {
	_, ok := c.store.Get(key)
	return ok
}

var _ Cache = (*MemoryCache)(nil)
