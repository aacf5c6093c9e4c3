package history

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLocationHistory(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(lruCache, time.Hour)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Unknown", func(t *testing.T) {
		fix, err := svc.Last(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fix != nil {
			t.Errorf("expected no fix, got %+v", fix)
		}
	})

	t.Run("RememberAndRecall", func(t *testing.T) {
		london := domain.GeoFix{Latitude: 51.5074, Longitude: -0.1278, Timestamp: now}
		if err := svc.Remember(ctx, tenantID, "user-001", london); err != nil {
			t.Fatalf("remember failed: %v", err)
		}
		fix, err := svc.Last(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fix == nil || fix.Latitude != london.Latitude || !fix.Timestamp.Equal(now) {
			t.Errorf("expected london fix, got %+v", fix)
		}
	})

	t.Run("OlderFixIgnored", func(t *testing.T) {
		stale := domain.GeoFix{Latitude: 40.7128, Longitude: -74.0060, Timestamp: now.Add(-time.Hour)}
		if err := svc.Remember(ctx, tenantID, "user-001", stale); err != nil {
			t.Fatalf("remember failed: %v", err)
		}
		fix, _ := svc.Last(ctx, tenantID, "user-001")
		if fix.Latitude != 51.5074 {
			t.Errorf("expected newer fix to survive, got %+v", fix)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		fix, err := svc.Last(ctx, "tenant-002", "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fix != nil {
			t.Errorf("expected other tenant to see nothing, got %+v", fix)
		}
	})

	t.Run("MissingIDs", func(t *testing.T) {
		if _, err := svc.Last(ctx, "", "user-001"); err == nil {
			t.Error("expected error for empty tenant")
		}
		if err := svc.Remember(ctx, tenantID, "", domain.GeoFix{}); err == nil {
			t.Error("expected error for empty entity")
		}
	})
}
