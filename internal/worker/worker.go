// Package worker scores records that arrive on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Scorer is the part of the engine a worker needs.
type Scorer interface {
	ScoreTransaction(ctx context.Context, tenantID string, rec *domain.TransactionRecord) (*engine.Scored, error)
	ScoreBiometric(ctx context.Context, tenantID string, sample *domain.BiometricSample) (*engine.Scored, error)
}

// Worker consumes ingested records from the EventBus.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to both ingestion topics for every tenant.
func (w *Worker) Start(tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return errors.New("worker needs at least one tenant")
	}

	started := 0
	for _, tenantID := range tenantIDs {
		if err := w.startTenant(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("worker could not subscribe for any of %d tenants", len(tenantIDs))
	}

	slog.Info("workers started", "tenant_count", started)
	return nil
}

func (w *Worker) startTenant(tenantID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicTransactionIngested: func(ctx context.Context, msg *domain.Message) error {
			return w.processTransaction(ctx, tenantID, msg)
		},
		domain.TopicBiometricIngested: func(ctx context.Context, msg *domain.Message) error {
			return w.processBiometric(ctx, tenantID, msg)
		},
	}

	var subs []domain.Subscription
	for _, topic := range []string{domain.TopicTransactionIngested, domain.TopicBiometricIngested} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handlers[topic])
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, subs...)
	w.mu.Unlock()

	slog.Info("tenant worker started", "tenant_id", tenantID)
	return nil
}

func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	var rec domain.TransactionRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		slog.Error("failed to parse transaction message", "message_id", msg.ID, "error", err)
		return err
	}
	scored, err := w.scorer.ScoreTransaction(ctx, tenantID, &rec)
	return w.finish(ctx, msg, scored, err)
}

func (w *Worker) processBiometric(ctx context.Context, tenantID string, msg *domain.Message) error {
	var sample domain.BiometricSample
	if err := json.Unmarshal(msg.Payload, &sample); err != nil {
		slog.Error("failed to parse biometric message", "message_id", msg.ID, "error", err)
		return err
	}
	scored, err := w.scorer.ScoreBiometric(ctx, tenantID, &sample)
	return w.finish(ctx, msg, scored, err)
}

// finish publishes the scored result. Validation failures are logged and
// dropped since redelivery cannot fix them.
func (w *Worker) finish(ctx context.Context, msg *domain.Message, scored *engine.Scored, err error) error {
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			slog.Warn("dropping invalid ingested record", "message_id", msg.ID, "tenant_id", msg.TenantID, "error", err)
			return nil
		}
		return err
	}

	r := scored.Result
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := w.bus.Publish(ctx, r.TenantID, domain.TopicResultScored, payload); err != nil {
		slog.Error("failed to publish result", "result_id", r.ID, "error", err)
	}

	slog.Info("ingested record scored",
		"subject_id", r.SubjectID,
		"tenant_id", r.TenantID,
		"kind", r.Kind,
		"verdict", r.Verdict,
		"score", r.EnsembleScore,
		"lag_ms", msg.Lag().Milliseconds(),
	)
	return nil
}

// Stop unsubscribes every topic.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
