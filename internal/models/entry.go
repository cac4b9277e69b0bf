package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is the stored form of a lookup result: the JSON payload and the
// epoch-millisecond time it was written.
type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewCacheEntry encodes v and stamps it with now.
func NewCacheEntry(v interface{}, now time.Time) (CacheEntry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return CacheEntry{}, err
	}
	return CacheEntry{Data: raw, Timestamp: now.UnixMilli()}, nil
}

// Age returns how long ago the entry was written relative to now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.Timestamp) * time.Millisecond
}

// FetchEvent describes a successful upstream fetch. Published to brokers.
type FetchEvent struct {
	Kind      Kind            `json:"kind"`
	City      string          `json:"city"`
	Key       string          `json:"key"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Data      json.RawMessage `json:"data"`
}
