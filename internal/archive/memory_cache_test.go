package archive

import (
	"context"
	"testing"
)

func TestMemoryCachePutAndPop(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Put(ctx, "task-1", map[string]any{"title": "first"})

	got, ok := c.PopAndGet(ctx, "task-1")
	if !ok {
		t.Fatal("expected cache hit for task-1")
	}
	if got["title"] != "first" {
		t.Errorf("got %v, want title=first", got)
	}

	if _, ok := c.PopAndGet(ctx, "task-1"); ok {
		t.Error("expected task-1 to be gone after PopAndGet consumed it")
	}
}

func TestMemoryCacheMissReturnsFalse(t *testing.T) {
	c := NewMemoryCache(2)
	if _, ok := c.PopAndGet(context.Background(), "nonexistent"); ok {
		t.Error("expected miss for a task id never put")
	}
}

func TestMemoryCacheEvictsOldestOverCapacity(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Put(ctx, "a", map[string]any{"n": 1})
	c.Put(ctx, "b", map[string]any{"n": 2})
	c.Put(ctx, "c", map[string]any{"n": 3}) // evicts "a"

	if _, ok := c.PopAndGet(ctx, "a"); ok {
		t.Error("expected task 'a' to have been evicted")
	}
	if _, ok := c.PopAndGet(ctx, "b"); !ok {
		t.Error("expected task 'b' to still be present")
	}
	if _, ok := c.PopAndGet(ctx, "c"); !ok {
		t.Error("expected task 'c' to still be present")
	}
}

func TestMemoryCacheDefaultCapacity(t *testing.T) {
	c := NewMemoryCache(0)
	if c.capacity != 100 {
		t.Errorf("capacity = %d, want default 100", c.capacity)
	}
}
