package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDenylistCache stores revoked jtis as keys with a TTL. The client is
// injected at construction and owned by the caller; this type never opens or
// closes connections itself.
type RedisDenylistCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDenylistCache(client redis.UniversalClient, prefix string) *RedisDenylistCache {
	if prefix == "" {
		prefix = "denylist"
	}
	return &RedisDenylistCache{client: client, prefix: prefix}
}

func (c *RedisDenylistCache) Deny(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(jti), "1", ttl).Err()
}

func (c *RedisDenylistCache) IsDenied(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisDenylistCache) key(jti string) string {
	return fmt.Sprintf("%s:%s", c.prefix, jti)
}
