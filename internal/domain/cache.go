package domain

import (
	"context"
	"time"
)

// Cache is the tenant-scoped key/value store behind location history and
// shared alert de-duplication. Every method rejects an empty tenantID.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value. A non-positive ttl means no expiry.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, tenantID string, key string) error

	// Claim reserves key for ttl. It reports true only to the first caller
	// while the reservation is live.
	Claim(ctx context.Context, tenantID string, key string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `json:"type" yaml:"type"`

	// LocalTTL caps how long a two-phase read may serve a local copy.
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"localTtl"`

	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// EnableTwoPhase fronts Redis with the local LRU for reads.
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"`
}
