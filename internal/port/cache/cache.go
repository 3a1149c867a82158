// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and decodes it into a T. A miss returns ok=false.
func GetJSON[T any](ctx context.Context, c Cache, key string) (v T, ok bool, err error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Adder is implemented by caches that can store a key only if it is absent
// in one atomic step.
type Adder interface {
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (added bool, err error)
}

// Add stores value under key unless the key already exists and reports
// whether it was stored. Caches without Adder fall back to Get then Set,
// which is not atomic across processes.
func Add(ctx context.Context, c Cache, key string, value []byte, ttl time.Duration) (bool, error) {
	if a, ok := c.(Adder); ok {
		return a.Add(ctx, key, value, ttl)
	}
	_, found, err := c.Get(ctx, key)
	if err != nil || found {
		return false, err
	}
	return true, c.Set(ctx, key, value, ttl)
}
