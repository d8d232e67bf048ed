package cache

import (
	"context"
	"testing"
	"time"
)

type payload struct {
	Duration float64 `json:"duration"`
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "item-1", payload{Duration: 300}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	hit, err := c.Get(ctx, "item-1", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if got.Duration != 300 {
		t.Fatalf("expected 300, got %v", got.Duration)
	}
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemoryCache(time.Minute)

	var got payload
	hit, err := c.Get(context.Background(), "absent", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatal("expected miss for absent key")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Millisecond)
	ctx := context.Background()

	_ = c.Set(ctx, "item-1", payload{Duration: 300})
	time.Sleep(5 * time.Millisecond)

	var got payload
	hit, _ := c.Get(ctx, "item-1", &got)
	if hit {
		t.Fatal("expected entry to expire")
	}
}

func TestNew_FallsBackToMemory(t *testing.T) {
	c, err := New("", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*MemoryCache); !ok {
		t.Fatalf("expected MemoryCache when no DSN provided, got %T", c)
	}
}
