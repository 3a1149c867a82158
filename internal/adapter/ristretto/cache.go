// Package ristretto is the in-process cache: tool catalogs and recently seen
// inbound message ids live here when no shared bucket is configured.
package ristretto

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a size-bounded cache.Cache and cache.Adder. Entry cost is the
// byte length of key and value.
type Cache struct {
	c     *ristretto.Cache[string, []byte]
	addMu sync.Mutex
}

// New creates a cache holding about maxSizeMB megabytes.
func New(maxSizeMB int64) (*Cache, error) {
	if maxSizeMB < 1 {
		maxSizeMB = 1
	}
	maxCost := maxSizeMB << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 10, // entries average ~100 bytes
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set stores value and waits until it is visible. A zero ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.store(key, value, ttl)
	return nil
}

// Add stores value unless key is present. It is atomic within the process.
func (c *Cache) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.addMu.Lock()
	defer c.addMu.Unlock()
	if _, ok := c.c.Get(key); ok {
		return false, nil
	}
	c.store(key, value, ttl)
	return true, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}

func (c *Cache) store(key string, value []byte, ttl time.Duration) {
	c.c.SetWithTTL(key, value, int64(len(key)+len(value)), ttl)
	c.c.Wait()
}
