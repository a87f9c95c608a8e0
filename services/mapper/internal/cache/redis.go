package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares cached responses between replicas.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "mapper:"
	}
	return &RedisStore{Client: redis.NewClient(opt), Prefix: prefix}, nil
}

func (c *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	val, err := c.Client.Get(ctx, c.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (c *RedisStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.Prefix+key, b, ttl).Err()
}

// Ping is used by the readiness probe.
func (c *RedisStore) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisStore) Close() error {
	return c.Client.Close()
}
