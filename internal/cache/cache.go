package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-know/internal/models"
)

// Store is the key/value store behind lookup caching. It holds entries as
// written; freshness is judged by the caller from CacheEntry.Timestamp.
type Store interface {
	Get(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry models.CacheEntry) error
}

// Pruner is implemented by stores without native expiry. Prune removes
// entries written before cutoff and returns how many were removed.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemoryCache implements Store with a mutex-guarded map. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]models.CacheEntry
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]models.CacheEntry),
	}
}

// Get returns the entry for key regardless of age. Returns (zero, false, nil) on miss.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheEntry{}, false, err
	}
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	return entry, ok, nil
}

// Set stores entry under key, overwriting any previous entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, entry models.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.Data = append([]byte(nil), entry.Data...)
	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()
	return nil
}

// Prune implements Pruner.
func (c *InMemoryCache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ms := cutoff.UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k, e := range c.data {
		if e.Timestamp < ms {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
