package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultLocalTTL bounds how stale a tiered read can be.
const defaultLocalTTL = 5 * time.Second

// New creates the cache named by cfg.Type. With EnableTwoPhase, Redis
// reads are fronted by a local LRU.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTieredCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TieredCache serves reads from a short-lived local copy and writes through
// to the shared store, which stays authoritative. Claims always go to the
// shared store so that every instance agrees on them.
type TieredCache struct {
	local    *LRUCache
	remote   domain.Cache
	localTTL time.Duration
}

// NewTieredCache fronts remote with local. A non-positive localTTL uses a
// five second default.
func NewTieredCache(local *LRUCache, remote domain.Cache, localTTL time.Duration) *TieredCache {
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	return &TieredCache{local: local, remote: remote, localTTL: localTTL}
}

func (c *TieredCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return val, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	return val, nil
}

// Set writes the shared store first. On failure the local copy is dropped
// so this instance cannot serve a value no other instance sees.
func (c *TieredCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		_ = c.local.Delete(ctx, tenantID, key)
		return err
	}
	localTTL := c.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	return c.local.Set(ctx, tenantID, key, value, localTTL)
}

func (c *TieredCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

func (c *TieredCache) Claim(ctx context.Context, tenantID string, key string, ttl time.Duration) (bool, error) {
	return c.remote.Claim(ctx, tenantID, key, ttl)
}

// Ping reports the shared store; the local tier cannot fail.
func (c *TieredCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

func (c *TieredCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}
