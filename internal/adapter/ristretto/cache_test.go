package ristretto

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheSetGetDelete(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "catalog.shopify", []byte(`[{"name":"get_orders"}]`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := c.Get(ctx, "catalog.shopify")
	if err != nil || !ok {
		t.Fatalf("expected hit right after Set, got ok=%v err=%v", ok, err)
	}
	if string(val) != `[{"name":"get_orders"}]` {
		t.Errorf("unexpected value %s", val)
	}

	_ = c.Delete(ctx, "catalog.shopify")
	if _, ok, _ := c.Get(ctx, "catalog.shopify"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestCacheExpires(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "dedup.SM1", []byte("1"), 50*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "dedup.SM1"); ok {
		t.Error("expected entry to expire")
	}
}

func TestCacheAddOnce(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.Add(ctx, "inbound:sid:SM9", []byte("1"), time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one Add to win, got %d", wins.Load())
	}
}
