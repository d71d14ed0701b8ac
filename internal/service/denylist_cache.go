package service

import (
	"context"
	"sync"
	"time"
)

// DenylistCache records revoked access-token identifiers until the token's
// natural expiry. Entries carry a TTL equal to the token's remaining
// lifetime; once that elapses the signed expiry rejects the token anyway, so
// eviction is safe.
type DenylistCache interface {
	Deny(ctx context.Context, jti string, ttl time.Duration) error
	IsDenied(ctx context.Context, jti string) (bool, error)
}

type InMemoryDenylistCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewInMemoryDenylistCache() *InMemoryDenylistCache {
	return &InMemoryDenylistCache{entries: make(map[string]time.Time)}
}

func (c *InMemoryDenylistCache) Deny(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jti] = time.Now().UTC().Add(ttl)
	return nil
}

func (c *InMemoryDenylistCache) IsDenied(_ context.Context, jti string) (bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	expiresAt, ok := c.entries[jti]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		delete(c.entries, jti)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}
