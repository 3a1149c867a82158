// Package tiered layers the in-process cache over the shared bucket so each
// replica answers repeat lookups locally while still seeing entries written
// by the others.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/cache"
)

// Cache reads L1 then L2, writes both, and degrades to L1 alone while L2 is
// failing.
type Cache struct {
	l1, l2   cache.Cache
	l1Expire time.Duration // lifetime of entries copied from L2 into L1
}

func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	v, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "shared cache unavailable", "op", "get", "key", key, "error", err)
		return nil, false, nil
	}
	if ok {
		_ = c.l1.Set(ctx, key, v, c.l1Expire)
	}
	return v, ok, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.WarnContext(ctx, "shared cache unavailable", "op", "set", "key", key, "error", err)
	}
	return nil
}

// Add decides in L2 so that only one replica wins a key. A local hit
// answers without a round trip; an L2 failure falls back to L1.
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, ok, err := c.l1.Get(ctx, key); err == nil && ok {
		return false, nil
	}
	added, err := cache.Add(ctx, c.l2, key, value, ttl)
	if err != nil {
		slog.WarnContext(ctx, "shared cache unavailable", "op", "add", "key", key, "error", err)
		return cache.Add(ctx, c.l1, key, value, ttl)
	}
	_ = c.l1.Set(ctx, key, value, ttl)
	return added, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
