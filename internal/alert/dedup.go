package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Deduper decides whether an alert key may fire again.
type Deduper interface {
	// Admit reports whether an alert with this key should be emitted now.
	// An admitted key opens a window during which repeats are suppressed.
	Admit(ctx context.Context, tenantID, key string, window time.Duration) (bool, error)
}

// MemoryDeduper keeps the de-dup window in process memory.
type MemoryDeduper struct {
	mu        sync.Mutex
	opened    map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryDeduper creates an in-process deduper. now may be nil.
func NewMemoryDeduper(now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{opened: make(map[string]time.Time), now: now}
}

func (d *MemoryDeduper) Admit(_ context.Context, tenantID, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	k := tenantID + "|" + key
	if opened, ok := d.opened[k]; ok && now.Sub(opened) < window {
		return false, nil
	}
	d.opened[k] = now

	if now.Sub(d.lastSweep) >= window {
		for open, at := range d.opened {
			if now.Sub(at) >= window {
				delete(d.opened, open)
			}
		}
		d.lastSweep = now
	}
	return true, nil
}

// Len returns the number of open windows.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

// CacheDeduper keeps the de-dup window in the shared cache so that several
// instances suppress the same repeats.
type CacheDeduper struct {
	cache domain.Cache
}

// NewCacheDeduper creates a cache-backed deduper.
func NewCacheDeduper(cache domain.Cache) *CacheDeduper {
	return &CacheDeduper{cache: cache}
}

func (d *CacheDeduper) Admit(ctx context.Context, tenantID, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	sum := sha256.Sum256([]byte(key))
	won, err := d.cache.Claim(ctx, tenantID, "alert:dedup:"+hex.EncodeToString(sum[:16]), window)
	if err != nil {
		return true, err
	}
	return won, nil
}
