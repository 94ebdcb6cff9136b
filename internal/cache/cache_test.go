package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100, "test:")
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		now := time.Now()
		cache.now = func() time.Time { return now }
		defer func() { cache.now = time.Now }()

		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		if val, _ := cache.Get(ctx, "expiring"); string(val) != "temp" {
			t.Error("expected value before expiry")
		}

		now = now.Add(20 * time.Millisecond)
		if val, _ := cache.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiry")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "key3", []byte("a"), time.Minute)
		_ = cache.Set(ctx, "key3", []byte("b"), time.Minute)

		val, _ := cache.Get(ctx, "key3")
		if string(val) != "b" {
			t.Errorf("expected 'b', got '%s'", string(val))
		}
	})
}

func TestLRUEviction(t *testing.T) {
	cache := NewLRUCache(2, "")
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), time.Minute)
	_ = cache.Set(ctx, "b", []byte("2"), time.Minute)

	// Touch a so b becomes least recently used.
	_, _ = cache.Get(ctx, "a")
	_ = cache.Set(ctx, "c", []byte("3"), time.Minute)

	if val, _ := cache.Get(ctx, "b"); val != nil {
		t.Error("expected b to be evicted")
	}
	if val, _ := cache.Get(ctx, "a"); val == nil {
		t.Error("expected a to survive")
	}

	size, capacity := cache.Stats()
	if size != 2 || capacity != 2 {
		t.Errorf("expected 2/2, got %d/%d", size, capacity)
	}

	_ = cache.Close()
	if val, _ := cache.Get(ctx, "a"); val != nil {
		t.Error("expected cache to be cleared after close")
	}
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	local := NewLRUCache(10, "")
	remote := NewLRUCache(10, "")
	cache := newTwoPhase(local, remote, time.Minute)

	t.Run("ReadThroughPopulatesL1", func(t *testing.T) {
		_ = remote.Set(ctx, "shared", []byte("from-l2"), time.Minute)

		val, err := cache.Get(ctx, "shared")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "from-l2" {
			t.Errorf("expected L2 value, got '%s'", string(val))
		}

		if l1, _ := local.Get(ctx, "shared"); string(l1) != "from-l2" {
			t.Error("expected L1 to be populated from L2")
		}
	})

	t.Run("SetWritesBoth", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("v"), time.Minute)

		if v, _ := local.Get(ctx, "k"); string(v) != "v" {
			t.Error("expected value in L1")
		}
		if v, _ := remote.Get(ctx, "k"); string(v) != "v" {
			t.Error("expected value in L2")
		}
	})

	t.Run("DeleteClearsBoth", func(t *testing.T) {
		_ = cache.Set(ctx, "gone", []byte("v"), time.Minute)
		_ = cache.Delete(ctx, "gone")

		if v, _ := cache.Get(ctx, "gone"); v != nil {
			t.Error("expected miss after delete")
		}
		if v, _ := remote.Get(ctx, "gone"); v != nil {
			t.Error("expected L2 miss after delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
