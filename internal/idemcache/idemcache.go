// Package idemcache provides a fast-path cache in front of the store's
// unique-index idempotency checks (run idempotency_key, approval
// idempotency_key). It is an optimization only — the store's unique
// index is the source of truth; a cache miss or a disabled cache simply
// falls through to the database, matching the teacher's use of Redis as
// an accelerator rather than a system of record (internal/fabric in the
// teacher repo uses Redis the same way, for pub/sub fan-out).
package idemcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache records "this idempotency key has already been seen" with a TTL;
// callers still MUST verify against the store before treating a miss as
// authoritative.
type Cache interface {
	// SeenRecently reports whether key was recorded within the TTL window.
	SeenRecently(ctx context.Context, namespace, key string) (bool, error)
	// Record marks key as seen under namespace.
	Record(ctx context.Context, namespace, key string) error
	Close() error
}

// NoopCache always reports a miss; used when no Redis is configured. The
// store's unique index still enforces correctness, so this is safe, just
// slower under contention.
type NoopCache struct{}

func (NoopCache) SeenRecently(ctx context.Context, namespace, key string) (bool, error) {
	return false, nil
}
func (NoopCache) Record(ctx context.Context, namespace, key string) error { return nil }
func (NoopCache) Close() error                                           { return nil }

// RedisCache backs Cache with one Redis key per (namespace, key), written
// with SET and a TTL and checked with EXISTS.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *RedisCache) key(namespace, key string) string {
	return "acctagent:idem:" + namespace + ":" + key
}

func (c *RedisCache) SeenRecently(ctx context.Context, namespace, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(namespace, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Record(ctx context.Context, namespace, key string) error {
	return c.client.Set(ctx, c.key(namespace, key), "1", c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }
