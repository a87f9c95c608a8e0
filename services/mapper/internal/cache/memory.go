package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type memItem struct {
	val       Entry
	expiresAt time.Time
}

// MemoryStore is an in-memory Store with per-entry expiry and optional NATS
// invalidation.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]memItem
	now     func() time.Time
	sub     *nats.Subscription
	sweptAt time.Time
}

// sweepEvery bounds how often Set scans for expired entries.
const sweepEvery = time.Minute

// NewMemoryStore creates a MemoryStore and subscribes to subj for key-level
// invalidation when nc is non-nil.
func NewMemoryStore(nc *nats.Conn, subj string, log *zap.Logger) *MemoryStore {
	if log == nil {
		log = zap.NewNop()
	}
	c := &MemoryStore{items: make(map[string]memItem), now: time.Now}
	if nc != nil && subj != "" {
		sub, err := nc.Subscribe(subj, func(m *nats.Msg) {
			c.Invalidate(string(m.Data))
		})
		if err != nil {
			log.Warn("cache invalidation subscribe failed", zap.String("subject", subj), zap.Error(err))
		} else {
			c.sub = sub
		}
	}
	return c
}

// Invalidate drops key; an empty key or "ALL" clears the store.
func (c *MemoryStore) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" || strings.EqualFold(key, "ALL") {
		c.items = make(map[string]memItem)
		return
	}
	delete(c.items, key)
}

func (c *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if c.now().After(it.expiresAt) {
		c.mu.Lock()
		if cur, ok2 := c.items[key]; ok2 && c.now().After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return it.val, true, nil
}

func (c *MemoryStore) Set(_ context.Context, key string, e Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.sweptAt) > sweepEvery {
		for k, it := range c.items {
			if now.After(it.expiresAt) {
				delete(c.items, k)
			}
		}
		c.sweptAt = now
	}
	c.items[key] = memItem{val: e, expiresAt: now.Add(ttl)}
	return nil
}

// Len counts entries. Expired ones stay until the next sweep or read.
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close drops the invalidation subscription.
func (c *MemoryStore) Close() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// PublishInvalidation asks every subscribed store to drop key.
func PublishInvalidation(nc *nats.Conn, subj, key string) error {
	if subj == "" {
		subj = InvalidateSubject
	}
	if err := nc.Publish(subj, []byte(key)); err != nil {
		return err
	}
	return nc.Flush()
}
