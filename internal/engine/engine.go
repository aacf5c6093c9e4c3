// Package engine runs the scoring pipeline: validate, normalize, score every
// model in parallel under a deadline, combine, classify, extract risk factors
// and hand the result to the alert, metrics and persistence side channels.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/models"
	"github.com/opensource-finance/kestrel/internal/outbox"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Version is reported in every result's metadata.
const Version = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-engine")

// AlertDispatcher raises alerts for scored results.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, result *domain.EnsembleResult) *domain.Alert
}

// MetricsObserver receives per-request outcomes.
type MetricsObserver interface {
	Observe(latency time.Duration, confidence float64)
	ObserveError()
}

// LocationStore remembers the last known position of an entity.
type LocationStore interface {
	Last(ctx context.Context, tenantID, entityID string) (*domain.GeoFix, error)
	Remember(ctx context.Context, tenantID, entityID string, fix domain.GeoFix) error
}

// Options wires the engine's optional collaborators. Every field may be left zero.
type Options struct {
	Rules      *rules.Engine
	Alerts     AlertDispatcher
	Metrics    MetricsObserver
	Locations  LocationStore
	Repository domain.Repository
	Outbox     *outbox.Outbox
	Collectors *metrics.Collectors

	// TransactionModels and BiometricModels replace the default ensembles.
	TransactionModels []models.TransactionModel
	BiometricModels   []models.BiometricModel

	Clock   func() time.Time
	NewID   func() string
	Version string
}

// Engine scores transactions and biometric samples. It is safe for concurrent use.
type Engine struct {
	cfg        domain.ScoringConfig
	opts       Options
	normalizer *features.Normalizer
	txModels   []models.TransactionModel
	bioModels  []models.BiometricModel
	txComb     *ensemble.Combiner
	bioComb    *ensemble.Combiner
	classifier *ensemble.Classifier
	extractor  *factors.Extractor
}

// Scored is a result plus the alert it raised, if any.
type Scored struct {
	Result *domain.EnsembleResult
	Alert  *domain.Alert
}

// New validates the scoring configuration and builds an engine.
func New(cfg domain.ScoringConfig, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Version == "" {
		opts.Version = Version
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("scoring timeout must be positive")
	}

	normalizer, err := features.NewNormalizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	normalizer.Clock = opts.Clock

	txComb, err := ensemble.NewCombiner(cfg.TransactionWeights.Map())
	if err != nil {
		return nil, fmt.Errorf("transaction weights: %w", err)
	}
	bioComb, err := ensemble.NewCombiner(cfg.BiometricWeights.Map())
	if err != nil {
		return nil, fmt.Errorf("biometric weights: %w", err)
	}
	classifier, err := ensemble.NewClassifier(cfg.Thresholds, cfg.Actions)
	if err != nil {
		return nil, err
	}

	txModels := opts.TransactionModels
	if txModels == nil {
		txModels = models.TransactionModels(cfg)
	}
	bioModels := opts.BiometricModels
	if bioModels == nil {
		bioModels = models.BiometricModels(cfg)
	}

	return &Engine{
		cfg:        cfg,
		opts:       opts,
		normalizer: normalizer,
		txModels:   txModels,
		bioModels:  bioModels,
		txComb:     txComb,
		bioComb:    bioComb,
		classifier: classifier,
		extractor:  factors.NewExtractor(cfg, opts.Rules),
	}, nil
}

// Config returns the scoring configuration the engine was built with.
func (e *Engine) Config() domain.ScoringConfig {
	return e.cfg
}

// Now reads the engine clock. Records ingested for later scoring are stamped
// with it so that queue lag does not move their hour of day.
func (e *Engine) Now() time.Time {
	return e.opts.Clock()
}

// Rules returns the factor rule engine, or nil.
func (e *Engine) Rules() *rules.Engine {
	return e.opts.Rules
}

// ScoreTransaction scores one transaction. Only validation errors are returned;
// a valid record always gets a verdict.
func (e *Engine) ScoreTransaction(ctx context.Context, tenantID string, rec *domain.TransactionRecord) (*Scored, error) {
	if err := rec.Validate(); err != nil {
		e.observeError()
		return nil, err
	}

	start := e.opts.Clock()
	ctx, span := tracer.Start(ctx, "engine.ScoreTransaction",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("subject_id", rec.ID),
		),
	)
	defer span.End()

	// Pin the hour so that replays see the same features.
	stamped := *rec
	if stamped.Timestamp.IsZero() {
		stamped.Timestamp = start.UTC()
	}

	assessment, meta, degraded := e.assessTransaction(ctx, tenantID, &stamped)
	input, err := json.Marshal(&stamped)
	if err != nil {
		slog.Error("failed to encode transaction for replay", "tenant_id", tenantID, "subject_id", rec.ID, "error", err)
	}

	result := e.newResult(ctx, tenantID, domain.KindTransaction, stamped.ID, stamped.EntityKey(), start, assessment, meta, degraded, input)
	return e.finish(ctx, span, result), nil
}

// ScoreBiometric scores one biometric sample. When the sample has a current
// fix but no previous one, the last known fix of the entity is used.
func (e *Engine) ScoreBiometric(ctx context.Context, tenantID string, sample *domain.BiometricSample) (*Scored, error) {
	if err := sample.Validate(); err != nil {
		e.observeError()
		return nil, err
	}

	start := e.opts.Clock()
	ctx, span := tracer.Start(ctx, "engine.ScoreBiometric",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("subject_id", sample.SessionID),
		),
	)
	defer span.End()

	resolved := e.withPreviousFix(ctx, tenantID, sample)

	assessment, meta, degraded := e.assessBiometric(ctx, tenantID, resolved)
	input, err := json.Marshal(resolved)
	if err != nil {
		slog.Error("failed to encode biometric sample for replay", "tenant_id", tenantID, "subject_id", sample.SessionID, "error", err)
	}

	result := e.newResult(ctx, tenantID, domain.KindBiometric, resolved.SessionID, resolved.EntityKey(), start, assessment, meta, degraded, input)
	scored := e.finish(ctx, span, result)

	if g := sample.Geolocation; g != nil && e.opts.Locations != nil {
		if err := e.opts.Locations.Remember(ctx, tenantID, sample.EntityKey(), g.GeoFix); err != nil {
			slog.Warn("failed to record location", "tenant_id", tenantID, "entity_id", sample.EntityKey(), "error", err)
		}
	}
	return scored, nil
}

// Replay re-scores a stored result's input without side effects and reports
// whether the new assessment equals the stored one.
func (e *Engine) Replay(ctx context.Context, stored *domain.EnsembleResult) (*domain.Assessment, bool, error) {
	if len(stored.Input) == 0 {
		return nil, false, fmt.Errorf("%w: result %s has no stored input", domain.ErrInvalidInput, stored.ID)
	}

	var assessment domain.Assessment
	switch stored.Kind {
	case domain.KindTransaction:
		var rec domain.TransactionRecord
		if err := json.Unmarshal(stored.Input, &rec); err != nil {
			return nil, false, fmt.Errorf("failed to decode stored transaction: %w", err)
		}
		assessment, _, _ = e.assessTransaction(ctx, stored.TenantID, &rec)
	case domain.KindBiometric:
		var sample domain.BiometricSample
		if err := json.Unmarshal(stored.Input, &sample); err != nil {
			return nil, false, fmt.Errorf("failed to decode stored biometric sample: %w", err)
		}
		assessment, _, _ = e.assessBiometric(ctx, stored.TenantID, &sample)
	default:
		return nil, false, fmt.Errorf("%w: cannot replay %s results", domain.ErrInvalidInput, stored.Kind)
	}

	return &assessment, assessmentsEqual(&assessment, &stored.Assessment), nil
}

func (e *Engine) withPreviousFix(ctx context.Context, tenantID string, sample *domain.BiometricSample) *domain.BiometricSample {
	g := sample.Geolocation
	if g == nil || g.Previous != nil || e.opts.Locations == nil {
		return sample
	}

	prev, err := e.opts.Locations.Last(ctx, tenantID, sample.EntityKey())
	if err != nil {
		slog.Warn("failed to load last location", "tenant_id", tenantID, "entity_id", sample.EntityKey(), "error", err)
		return sample
	}
	if prev == nil {
		return sample
	}

	resolved := *sample
	geo := *g
	geo.Previous = prev
	resolved.Geolocation = &geo
	return &resolved
}

func (e *Engine) newResult(ctx context.Context, tenantID string, kind domain.ResultKind, subjectID, entityID string, start time.Time,
	assessment domain.Assessment, meta domain.ResultMetadata, degraded bool, input []byte) *domain.EnsembleResult {

	now := e.opts.Clock()
	meta.EngineVersion = e.opts.Version
	meta.ScoringMicros = now.Sub(start).Microseconds()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		meta.TraceID = sc.TraceID().String()
	}

	return &domain.EnsembleResult{
		ID:         e.opts.NewID(),
		TenantID:   tenantID,
		SubjectID:  subjectID,
		Kind:       kind,
		EntityID:   entityID,
		Assessment: assessment,
		Degraded:   degraded,
		ScoredAt:   now.UTC(),
		Metadata:   meta,
		Input:      input,
	}
}

// finish runs the side channels. None of them can fail the request.
func (e *Engine) finish(ctx context.Context, span trace.Span, r *domain.EnsembleResult) *Scored {
	span.SetAttributes(
		attribute.String("kind", string(r.Kind)),
		attribute.String("verdict", string(r.Verdict)),
		attribute.Float64("score", r.EnsembleScore),
		attribute.Bool("degraded", r.Degraded),
	)

	latency := time.Duration(r.Metadata.ScoringMicros) * time.Microsecond
	e.opts.Collectors.ObserveScore(string(r.Kind), string(r.Verdict), r.EnsembleScore, latency.Seconds())
	for _, m := range r.Metadata.TimedOutModels {
		e.opts.Collectors.ModelTimedOut(m)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.Observe(latency, r.Confidence)
	}

	scored := &Scored{Result: r}
	if e.opts.Alerts != nil {
		scored.Alert = e.opts.Alerts.Dispatch(ctx, r)
	}

	if e.opts.Outbox != nil && e.opts.Repository != nil {
		repo := e.opts.Repository
		e.opts.Outbox.Submit("result.persist", func(ctx context.Context) error {
			return repo.SaveResult(ctx, r.TenantID, r)
		})
	}

	slog.Debug("scored",
		"tenant_id", r.TenantID,
		"subject_id", r.SubjectID,
		"kind", r.Kind,
		"verdict", r.Verdict,
		"score", r.EnsembleScore,
		"degraded", r.Degraded,
	)
	return scored
}

func (e *Engine) observeError() {
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveError()
	}
}
