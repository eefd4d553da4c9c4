package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openresale/harrier/internal/domain"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("got %q, want v1", got)
	}
}

func TestLRUMissReturnsNil(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	got, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("miss should return nil, got %q", got)
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	got, err := c.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expired entry should be a miss")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	if size, capacity := c.Stats(); size != 3 || capacity != 3 {
		t.Errorf("stats = %d/%d, want 3/3", size, capacity)
	}

	// k0 is the oldest and must have been evicted.
	got, _ := c.Get(ctx, "k0")
	if got != nil {
		t.Error("oldest entry should have been evicted")
	}
	if got, _ := c.Get(ctx, "k3"); got == nil {
		t.Error("newest entry should survive")
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := c.Get(ctx, "k1"); got != nil {
		t.Error("deleted entry still present")
	}
}

func TestLRUValuationRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	val := &domain.Valuation{
		ID:            "val-001",
		ListingID:     "listing-001",
		BasePrice:     500,
		AdjustedPrice: 545,
		RulesApplied:  3,
	}
	if err := c.SetValuation(ctx, "listing-001", val, time.Minute); err != nil {
		t.Fatalf("SetValuation failed: %v", err)
	}

	got, err := c.GetValuation(ctx, "listing-001")
	if err != nil {
		t.Fatalf("GetValuation failed: %v", err)
	}
	if got == nil || got.ID != "val-001" || got.AdjustedPrice != 545 {
		t.Errorf("valuation round trip mismatch: %+v", got)
	}
}

func TestLRUGetValuationMiss(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	got, err := c.GetValuation(context.Background(), "absent")
	if err != nil {
		t.Fatalf("GetValuation failed: %v", err)
	}
	if got != nil {
		t.Errorf("miss should return nil, got %+v", got)
	}
}

func TestLRUInvalidateValuations(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.SetValuation(ctx, "l1", &domain.Valuation{ID: "v1"}, time.Minute)
	c.SetValuation(ctx, "l2", &domain.Valuation{ID: "v2"}, time.Minute)
	c.Set(ctx, "unrelated", []byte("keep"), time.Minute)

	if err := c.InvalidateValuations(ctx); err != nil {
		t.Fatalf("InvalidateValuations failed: %v", err)
	}

	if got, _ := c.GetValuation(ctx, "l1"); got != nil {
		t.Error("valuation survived invalidation")
	}
	if got, _ := c.Get(ctx, "unrelated"); string(got) != "keep" {
		t.Error("non-valuation entries must survive invalidation")
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("memory config should produce an LRU cache, got %T", c)
	}
}

func TestNewFactoryUnknownType(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Fatal("expected error for unknown cache type")
	}
}
