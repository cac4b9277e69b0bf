package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-know/internal/models"
)

const keyPrefix = "weatherknow:"

// maxKeyLen is memcached's key length limit.
const maxKeyLen = 250

// maxRelativeExp is the largest expiration memcached treats as relative seconds;
// larger values are read as absolute Unix time.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Store using memcached. Entries are JSON encoded.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). retention, when
// positive, becomes the native item expiry; zero keeps items until evicted.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, retention: retention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a store key to a legal memcached key. memcached keys may not hold
// whitespace or control characters, so k is query-escaped; keys still over
// the length limit are replaced by their SHA-256.
func (c *MemcachedCache) key(k string) string {
	mk := keyPrefix + url.QueryEscape(k)
	if len(mk) <= maxKeyLen {
		return mk
	}
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + "sha256:" + hex.EncodeToString(sum[:])
}

// Get implements Store.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if ctx.Err() != nil {
		return models.CacheEntry{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.CacheEntry{}, false, nil
		}
		return models.CacheEntry{}, false, err
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return models.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Set implements Store.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, entry models.CacheEntry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expiration(c.retention, time.Now()),
	})
}

// expiration converts retention into memcached's expiration field.
func expiration(retention time.Duration, now time.Time) int32 {
	if retention <= 0 {
		return 0
	}
	sec := int64(retention.Seconds())
	if sec < 1 {
		sec = 1
	}
	if sec > maxRelativeExp {
		return int32(now.Add(retention).Unix())
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
