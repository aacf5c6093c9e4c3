// Package history remembers the last known position of each entity so that
// biometric samples without an explicit previous fix can still be checked
// for impossible travel.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service stores last-known locations in the cache.
type Service struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a location history service. Fixes expire after ttl,
// or after a day when ttl is not positive.
func NewService(cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{cache: cache, ttl: ttl}
}

func locationKey(entityID string) string {
	return "geo:last:" + entityID
}

// Last returns the most recent fix recorded for an entity, or nil when none is known.
func (s *Service) Last(ctx context.Context, tenantID, entityID string) (*domain.GeoFix, error) {
	if tenantID == "" || entityID == "" {
		return nil, fmt.Errorf("tenantID and entityID are required")
	}

	data, err := s.cache.Get(ctx, tenantID, locationKey(entityID))
	if err != nil {
		return nil, fmt.Errorf("failed to load last location: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var fix domain.GeoFix
	if err := json.Unmarshal(data, &fix); err != nil {
		return nil, fmt.Errorf("failed to decode last location: %w", err)
	}
	return &fix, nil
}

// Remember records fix as the entity's latest position. An older fix never
// replaces a newer one, so out-of-order samples cannot rewind the history.
func (s *Service) Remember(ctx context.Context, tenantID, entityID string, fix domain.GeoFix) error {
	if tenantID == "" || entityID == "" {
		return fmt.Errorf("tenantID and entityID are required")
	}

	if last, err := s.Last(ctx, tenantID, entityID); err == nil && last != nil && last.Timestamp.After(fix.Timestamp) {
		return nil
	}

	data, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	if err := s.cache.Set(ctx, tenantID, locationKey(entityID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}
	return nil
}
