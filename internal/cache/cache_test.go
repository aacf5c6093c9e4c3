package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedCache(size int) (*LRUCache, *testClock) {
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache, clock := newClockedCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)
		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Second)
		if val, _ := cache.Get(ctx, tenantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}
		clock.advance(11 * time.Second)
		if val, _ := cache.Get(ctx, tenantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "forever", []byte("v"), 0)
		clock.advance(365 * 24 * time.Hour)
		if val, _ := cache.Get(ctx, tenantID, "forever"); val == nil {
			t.Error("expected value without ttl to survive")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)
		_ = small.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the oldest.
		_, _ = small.Get(ctx, tenantID, "a")
		_ = small.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")
		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); !errors.Is(err, domain.ErrTenantRequired) {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.Claim(ctx, "", "key", time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Claim", func(t *testing.T) {
		ok, err := cache.Claim(ctx, tenantID, "alert:abc", time.Minute)
		if err != nil || !ok {
			t.Fatalf("expected first claim to win, got %v (%v)", ok, err)
		}
		clock.advance(30 * time.Second)
		if ok, _ := cache.Claim(ctx, tenantID, "alert:abc", time.Minute); ok {
			t.Error("expected repeat claim inside the window to lose")
		}
		if ok, _ := cache.Claim(ctx, "tenant-002", "alert:abc", time.Minute); !ok {
			t.Error("expected claims to be tenant scoped")
		}

		// The reservation is anchored to the winning claim.
		clock.advance(31 * time.Second)
		if ok, _ := cache.Claim(ctx, tenantID, "alert:abc", time.Minute); !ok {
			t.Error("expected claim to succeed after expiry")
		}
	})

	t.Run("ClaimSweep", func(t *testing.T) {
		small, clock := newClockedCache(2)
		_, _ = small.Claim(ctx, tenantID, "a", time.Second)
		_, _ = small.Claim(ctx, tenantID, "b", time.Second)
		clock.advance(2 * time.Second)
		_, _ = small.Claim(ctx, tenantID, "c", time.Second)
		if len(small.claims) != 1 {
			t.Errorf("expected expired claims to be swept, got %d", len(small.claims))
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 || capacity != 50 {
			t.Errorf("expected 2/50, got %d/%d", size, capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)
		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
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
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestTieredCache(t *testing.T) {
	ctx := context.Background()
	local, clock := newClockedCache(10)
	remote, remoteClock := newClockedCache(10)
	tiered := NewTieredCache(local, remote, 5*time.Second)

	if err := tiered.Set(ctx, "t", "geo:last:u1", []byte("ny"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if val, _ := remote.Get(ctx, "t", "geo:last:u1"); string(val) != "ny" {
		t.Fatalf("expected write-through, got %q", val)
	}

	// Another instance updates the shared store.
	_ = remote.Set(ctx, "t", "geo:last:u1", []byte("london"), time.Hour)
	if val, _ := tiered.Get(ctx, "t", "geo:last:u1"); string(val) != "ny" {
		t.Errorf("expected local copy inside its ttl, got %q", val)
	}
	clock.advance(6 * time.Second)
	remoteClock.advance(6 * time.Second)
	if val, _ := tiered.Get(ctx, "t", "geo:last:u1"); string(val) != "london" {
		t.Errorf("expected fresh shared value after local ttl, got %q", val)
	}

	if ok, _ := tiered.Claim(ctx, "t", "k", time.Minute); !ok {
		t.Error("expected first claim to win")
	}
	if ok, _ := remote.Claim(ctx, "t", "k", time.Minute); ok {
		t.Error("expected claim to be held by the shared store")
	}

	if err := tiered.Delete(ctx, "t", "geo:last:u1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := tiered.Get(ctx, "t", "geo:last:u1"); val != nil {
		t.Errorf("expected miss after delete, got %q", val)
	}
}

func TestRedisKey(t *testing.T) {
	got, err := redisKey("tenant-001", "geo:last:user-1")
	if err != nil {
		t.Fatalf("redisKey failed: %v", err)
	}
	if got != "kestrel:tenant-001:geo:last:user-1" {
		t.Errorf("unexpected key %q", got)
	}
	if _, err := redisKey("", "k"); !errors.Is(err, domain.ErrTenantRequired) {
		t.Errorf("expected ErrTenantRequired, got %v", err)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(domain.CacheConfig{RedisAddr: "redis://:s3cret@cache.internal:6380/2"})
	if err != nil {
		t.Fatalf("redisOptions failed: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.Password != "s3cret" || opts.DB != 2 {
		t.Errorf("unexpected options from url: addr=%s db=%d", opts.Addr, opts.DB)
	}

	opts, err = redisOptions(domain.CacheConfig{RedisPassword: "pw", RedisDB: 1})
	if err != nil {
		t.Fatalf("redisOptions failed: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "pw" || opts.DB != 1 {
		t.Errorf("unexpected options from fields: %+v", opts)
	}

	if _, err := redisOptions(domain.CacheConfig{RedisAddr: "redis://host:port:bad"}); err == nil {
		t.Error("expected malformed url to fail")
	}
}
