// Package alert decides when a scored result becomes an alert, suppresses
// repeats inside a de-duplication window and delivers alerts asynchronously.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/outbox"
)

// Dispatcher builds, de-duplicates and delivers alerts.
type Dispatcher struct {
	cfg        domain.AlertConfig
	dedup      Deduper
	box        *outbox.Outbox
	sinks      []Sink
	collectors *metrics.Collectors

	// Clock and NewID are replaceable for tests.
	Clock func() time.Time
	NewID func() string
}

// NewDispatcher creates a dispatcher. box may be nil, in which case alerts
// are built and de-duplicated but not delivered.
func NewDispatcher(cfg domain.AlertConfig, dedup Deduper, box *outbox.Outbox, collectors *metrics.Collectors, sinks ...Sink) *Dispatcher {
	if dedup == nil {
		dedup = NewMemoryDeduper(nil)
	}
	return &Dispatcher{
		cfg:        cfg,
		dedup:      dedup,
		box:        box,
		sinks:      sinks,
		collectors: collectors,
		Clock:      time.Now,
		NewID:      func() string { return uuid.New().String() },
	}
}

// Severity maps a score to a severity, or reports false when no alert is due.
func (d *Dispatcher) Severity(score float64) (domain.Severity, bool) {
	switch {
	case score > d.cfg.CriticalThreshold:
		return domain.SeverityCritical, true
	case score > d.cfg.Threshold:
		return domain.SeverityHigh, true
	}
	return "", false
}

// Build returns the alert a result would raise, without de-duplication or delivery.
func (d *Dispatcher) Build(r *domain.EnsembleResult) *domain.Alert {
	severity, ok := d.Severity(r.EnsembleScore)
	if !ok {
		return nil
	}
	now := d.Clock().UTC()
	return &domain.Alert{
		ID:          d.NewID(),
		TenantID:    r.TenantID,
		ResultID:    r.ID,
		SubjectID:   r.SubjectID,
		EntityID:    r.EntityID,
		Kind:        r.Kind,
		Severity:    severity,
		Status:      domain.AlertOpen,
		Message:     resultMessage(r),
		Score:       r.EnsembleScore,
		Verdict:     r.Verdict,
		RiskFactors: r.RiskFactors,
		Metadata: map[string]string{
			"result_id":          r.ID,
			"trace_id":           r.Metadata.TraceID,
			"recommended_action": r.RecommendedAction,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Dispatch raises an alert for the result when it crosses the threshold and no
// equivalent alert fired inside the de-dup window. It returns the emitted alert or nil.
// Delivery happens in the background; its failures never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, r *domain.EnsembleResult) *domain.Alert {
	a := d.Build(r)
	if a == nil {
		return nil
	}
	return d.emit(ctx, a, DedupKey(r.EntityID, r.RiskFactors))
}

// RaiseMetric raises a low or medium alert for an abnormal metric sample.
func (d *Dispatcher) RaiseMetric(ctx context.Context, s domain.MetricSample) *domain.Alert {
	if !d.cfg.MetricAlerts {
		return nil
	}
	var severity domain.Severity
	switch s.Status {
	case domain.StatusCritical:
		severity = domain.SeverityMedium
	case domain.StatusWarning:
		severity = domain.SeverityLow
	default:
		return nil
	}

	now := d.Clock().UTC()
	a := &domain.Alert{
		ID:        d.NewID(),
		TenantID:  domain.GlobalTenantID,
		SubjectID: string(s.Type),
		EntityID:  string(s.Type),
		Kind:      domain.KindMetric,
		Severity:  severity,
		Status:    domain.AlertOpen,
		Message:   fmt.Sprintf("%s is %s at %.4g", s.Type, s.Status, s.Value),
		Score:     s.Value,
		Metadata: map[string]string{
			"metric_type":   string(s.Type),
			"metric_status": string(s.Status),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return d.emit(ctx, a, "metric|"+string(s.Type)+"|"+string(s.Status))
}

func (d *Dispatcher) emit(ctx context.Context, a *domain.Alert, key string) *domain.Alert {
	admitted, err := d.dedup.Admit(ctx, a.TenantID, key, d.cfg.DedupWindow)
	if err != nil {
		// Fail open: a duplicate alert is better than a lost one.
		slog.Warn("alert de-dup check failed", "tenant_id", a.TenantID, "error", err)
		admitted = true
	}
	if !admitted {
		d.collectors.AlertSuppressed()
		slog.Debug("alert suppressed by de-dup window", "tenant_id", a.TenantID, "entity_id", a.EntityID)
		return nil
	}

	d.collectors.AlertEmitted(string(a.Severity))
	slog.Info("alert raised",
		"alert_id", a.ID,
		"tenant_id", a.TenantID,
		"subject_id", a.SubjectID,
		"severity", a.Severity,
		"score", a.Score,
	)

	if d.box != nil {
		for _, sink := range d.sinks {
			d.box.Submit("alert."+sink.Name(), func(ctx context.Context) error {
				return sink.Deliver(ctx, a)
			})
		}
	}
	return a
}

// DedupKey identifies equivalent alerts: same entity, same set of risk factors.
func DedupKey(entityID string, factors []string) string {
	sorted := append([]string(nil), factors...)
	sort.Strings(sorted)
	return entityID + "|" + strings.Join(sorted, ",")
}

func resultMessage(r *domain.EnsembleResult) string {
	msg := fmt.Sprintf("%s %s scored %.2f (%s)", r.Kind, r.SubjectID, r.EnsembleScore, r.Verdict)
	if len(r.RiskFactors) > 0 {
		top := r.RiskFactors
		if len(top) > 3 {
			top = top[:3]
		}
		msg += ": " + strings.Join(top, ", ")
	}
	return msg
}
