package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/threatlens/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
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

	t.Run("DeletePrefix", func(t *testing.T) {
		_ = cache.Set(ctx, "table:country", []byte("1"), time.Minute)
		_ = cache.Set(ctx, "table:yearly", []byte("2"), time.Minute)
		_ = cache.Set(ctx, "prediction:abc", []byte("3"), time.Minute)

		if err := cache.DeletePrefix(ctx, "table:"); err != nil {
			t.Fatalf("DeletePrefix failed: %v", err)
		}

		for _, key := range []string{"table:country", "table:yearly"} {
			if val, _ := cache.Get(ctx, key); val != nil {
				t.Errorf("expected %s to be removed", key)
			}
		}
		if val, _ := cache.Get(ctx, "prediction:abc"); val == nil {
			t.Error("expected keys outside the prefix to survive")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		_ = cache.Set(ctx, "forever", []byte("x"), 0)
		time.Sleep(5 * time.Millisecond)

		if val, _ := cache.Get(ctx, "forever"); val == nil {
			t.Error("expected zero TTL entry to persist")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	l1 := NewLRUCache(10)
	l2 := NewLRUCache(10)
	c := newTwoPhase(l1, l2, time.Minute)

	t.Run("SetWritesBothTiers", func(t *testing.T) {
		if err := c.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if val, _ := l1.Get(ctx, "k"); string(val) != "v" {
			t.Errorf("expected L1 to hold value, got %q", val)
		}
		if val, _ := l2.Get(ctx, "k"); string(val) != "v" {
			t.Errorf("expected L2 to hold value, got %q", val)
		}
	})

	t.Run("L2HitPopulatesL1", func(t *testing.T) {
		_ = l2.Set(ctx, "remote-only", []byte("r"), time.Hour)

		val, err := c.Get(ctx, "remote-only")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got %q", val)
		}
		if val, _ := l1.Get(ctx, "remote-only"); string(val) != "r" {
			t.Error("expected L1 to be populated after L2 hit")
		}
	})

	t.Run("DeletePrefixBothTiers", func(t *testing.T) {
		_ = c.Set(ctx, "table:a", []byte("1"), time.Hour)

		if err := c.DeletePrefix(ctx, "table:"); err != nil {
			t.Fatalf("DeletePrefix failed: %v", err)
		}
		if val, _ := c.Get(ctx, "table:a"); val != nil {
			t.Error("expected entry removed from both tiers")
		}
	})
}

func TestMemo(t *testing.T) {
	ctx := context.Background()
	memo := NewMemo(NewLRUCache(10), TablePrefix, time.Minute)

	type row struct {
		Name  string  `json:"name"`
		Total float64 `json:"total"`
	}

	calls := 0
	load := func(ctx context.Context) (any, error) {
		calls++
		return []row{{Name: "India", Total: 12.5}}, nil
	}

	t.Run("ReadThrough", func(t *testing.T) {
		var first, second []row
		if err := memo.Load(ctx, "country", &first, load); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if err := memo.Load(ctx, "country", &second, load); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if calls != 1 {
			t.Errorf("expected loader to run once, ran %d times", calls)
		}
		if len(second) != 1 || second[0].Name != "India" || second[0].Total != 12.5 {
			t.Errorf("unexpected cached value: %+v", second)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		if err := memo.Invalidate(ctx); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}

		var rows []row
		if err := memo.Load(ctx, "country", &rows, load); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if calls != 2 {
			t.Errorf("expected reload after invalidate, loader ran %d times", calls)
		}
	})

	t.Run("LoaderErrorNotCached", func(t *testing.T) {
		boom := errors.New("boom")
		var rows []row
		err := memo.Load(ctx, "broken", &rows, func(ctx context.Context) (any, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected loader error, got %v", err)
		}

		err = memo.Load(ctx, "broken", &rows, load)
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
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
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
