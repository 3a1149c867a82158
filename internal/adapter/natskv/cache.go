// Package natskv shares cache entries between Cerebro replicas through a
// NATS JetStream key-value bucket. Entry lifetime is the bucket's TTL; the
// per-call ttl is ignored.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache is a cache.Cache and cache.Adder over a KV bucket.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps kv.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, Key(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, Key(key), value)
	return err
}

// Add creates key only if no live entry exists. Replicas racing on the same
// inbound message id see exactly one winner.
func (c *Cache) Add(ctx context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	_, err := c.kv.Create(ctx, Key(key), value)
	switch {
	case errors.Is(err, jetstream.ErrKeyExists):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, Key(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Key maps a cache key such as "inbound:sid:SM123" onto the KV key alphabet
// ([-/_=.a-zA-Z0-9]); any other rune becomes '_'.
func Key(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-/_=.", r) {
			return r
		}
		return '_'
	}, key)
}
