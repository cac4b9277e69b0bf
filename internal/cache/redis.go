package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/weather-know/internal/models"
)

// RedisCache implements Store using Redis. Entries are JSON encoded.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisCache connects to addr and verifies the connection with a ping.
// retention, when positive, is applied as the key TTL.
func NewRedisCache(ctx context.Context, addr, password string, db int, retention time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", addr, err)
	}

	return &RedisCache{client: client, retention: retention}, nil
}

func (c *RedisCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Store.Get. redis.Nil is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("redis decode: %w", err)
	}
	return entry, true, nil
}

// Set implements Store.Set.
func (c *RedisCache) Set(ctx context.Context, key string, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client's connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
