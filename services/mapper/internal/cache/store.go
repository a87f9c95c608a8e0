// Package cache is the response cache in front of the mapping and source
// routes: a store abstraction with in-memory and Redis implementations and
// the HTTP middleware that fills it.
package cache

import (
	"context"
	"time"
)

// InvalidateSubject carries a cache key, or "ALL", to drop.
const InvalidateSubject = "mapper.cache.invalidate"

// Entry is one cached response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Store must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
}
