package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

type fakeScorer struct {
	mu      sync.Mutex
	tenants []string
	calls   atomic.Int64
}

func (f *fakeScorer) record(tenantID string) {
	f.mu.Lock()
	f.tenants = append(f.tenants, tenantID)
	f.mu.Unlock()
	f.calls.Add(1)
}

func (f *fakeScorer) ScoreTransaction(_ context.Context, tenantID string, rec *domain.TransactionRecord) (*engine.Scored, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidInput)
	}
	f.record(tenantID)
	return &engine.Scored{Result: &domain.EnsembleResult{
		ID:        "res-" + rec.ID,
		TenantID:  tenantID,
		SubjectID: rec.ID,
		Kind:      domain.KindTransaction,
		Assessment: domain.Assessment{
			EnsembleScore: 0.84,
			Verdict:       domain.VerdictFraudulent,
		},
	}}, nil
}

func (f *fakeScorer) ScoreBiometric(_ context.Context, tenantID string, sample *domain.BiometricSample) (*engine.Scored, error) {
	f.record(tenantID)
	return &engine.Scored{Result: &domain.EnsembleResult{
		ID:        "res-" + sample.SessionID,
		TenantID:  tenantID,
		SubjectID: sample.SessionID,
		Kind:      domain.KindBiometric,
		Assessment: domain.Assessment{
			Verdict: domain.VerdictLegitimate,
		},
	}}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerStart(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, &fakeScorer{})
	if err := w.Start([]string{"tenant-a", "tenant-b"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 4 {
		t.Errorf("expected 4 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", got)
	}
}

func TestWorkerRequiresTenants(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, &fakeScorer{})
	if err := w.Start(nil); err == nil {
		t.Error("expected error when no tenants are configured")
	}
}

func TestWorkerScoresTransactions(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	scorer := &fakeScorer{}
	w := NewWorker(eventBus, scorer)
	if err := w.Start([]string{"tenant-test"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var mu sync.Mutex
	var results []domain.EnsembleResult
	_, err := eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicResultScored, func(_ context.Context, msg *domain.Message) error {
		var r domain.EnsembleResult
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			return err
		}
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	rec := domain.TransactionRecord{
		ID:       "tx-001",
		Amount:   decimal.NewFromInt(15000),
		Merchant: "Electronics Store",
		Location: "Unknown",
	}
	payload, _ := json.Marshal(rec)
	if err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	sample, _ := json.Marshal(domain.BiometricSample{SessionID: "sess-1"})
	if err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicBiometricIngested, sample); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	bySubject := map[string]domain.EnsembleResult{}
	for _, r := range results {
		bySubject[r.SubjectID] = r
	}
	if r := bySubject["tx-001"]; r.Verdict != domain.VerdictFraudulent || r.TenantID != "tenant-test" {
		t.Errorf("unexpected transaction result %+v", r)
	}
	if r := bySubject["sess-1"]; r.Kind != domain.KindBiometric {
		t.Errorf("unexpected biometric result %+v", r)
	}
}

func TestWorkerTenantIsolation(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	scorer := &fakeScorer{}
	w := NewWorker(eventBus, scorer)
	if err := w.Start([]string{"tenant-a"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	payload, _ := json.Marshal(domain.TransactionRecord{ID: "tx-b", Amount: decimal.NewFromInt(10)})
	_ = eventBus.Publish(context.Background(), "tenant-b", domain.TopicTransactionIngested, payload)

	payload, _ = json.Marshal(domain.TransactionRecord{ID: "tx-a", Amount: decimal.NewFromInt(10)})
	_ = eventBus.Publish(context.Background(), "tenant-a", domain.TopicTransactionIngested, payload)

	waitFor(t, func() bool { return scorer.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)

	scorer.mu.Lock()
	defer scorer.mu.Unlock()
	if len(scorer.tenants) != 1 || scorer.tenants[0] != "tenant-a" {
		t.Errorf("expected only tenant-a to be scored, got %v", scorer.tenants)
	}
}

func TestWorkerDropsInvalidRecords(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	scorer := &fakeScorer{}
	w := NewWorker(eventBus, scorer)
	if err := w.Start([]string{"t"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	msg := &domain.Message{ID: "m-1", TenantID: "t", Timestamp: time.Now().UnixNano()}

	msg.Payload = []byte("{not json")
	if err := w.processTransaction(context.Background(), "t", msg); err == nil {
		t.Error("expected malformed payload to fail")
	}

	msg.Payload, _ = json.Marshal(domain.TransactionRecord{Amount: decimal.NewFromInt(5)})
	if err := w.processTransaction(context.Background(), "t", msg); err != nil {
		t.Errorf("expected invalid record to be dropped without error, got %v", err)
	}
	if scorer.calls.Load() != 0 {
		t.Errorf("expected no scoring calls, got %d", scorer.calls.Load())
	}
}
