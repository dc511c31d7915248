// Package cache keeps a positive cache of revoked bearer token ids in redis
// so authenticated requests can skip the database for tokens already known
// to be revoked. A miss always falls through to the ledger table.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheUnavailable = errors.New("revocation cache unavailable")

const defaultPrefix = "revoked:"

// RedisRevocationCache remembers revoked bearer ids until they expire.
type RedisRevocationCache struct {
	redis  *redis.Client
	prefix string
}

// NewRedisRevocationCache wraps an already connected client.
func NewRedisRevocationCache(client *redis.Client) *RedisRevocationCache {
	return &RedisRevocationCache{redis: client, prefix: defaultPrefix}
}

// Connect dials addr and pings it once.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return client, nil
}

func (c *RedisRevocationCache) key(tokenID string) string {
	return c.prefix + tokenID
}

// MarkRevoked remembers tokenID for ttl. Non-positive ttls are ignored, the
// token has already expired on its own.
func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.redis.Set(ctx, c.key(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// IsRevoked reports a cache hit. A miss only means the ledger must be
// asked.
func (c *RedisRevocationCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	_, err := c.redis.Get(ctx, c.key(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return true, nil
}

// Ping reports whether redis answers.
func (c *RedisRevocationCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
