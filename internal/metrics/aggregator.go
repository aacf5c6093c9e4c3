// Package metrics aggregates operational metrics into rolling per-type windows,
// tags each sample against thresholds, reports trends and exports Prometheus
// collectors.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/outbox"
)

// AlertRaiser turns abnormal samples into alerts.
type AlertRaiser interface {
	RaiseMetric(ctx context.Context, sample domain.MetricSample) *domain.Alert
}

// LoadSource reports current system load in [0,1].
type LoadSource func() float64

// Options wires the aggregator's optional collaborators.
type Options struct {
	Repository domain.Repository
	Bus        domain.EventBus
	Outbox     *outbox.Outbox
	Alerts     AlertRaiser
	Collectors *Collectors
	Load       LoadSource
	Clock      func() time.Time
}

// Aggregator keeps one ring buffer per metric type plus the counters of the
// current flush interval. One mutex guards both.
type Aggregator struct {
	cfg  domain.MetricsConfig
	opts Options

	mu            sync.Mutex
	rings         map[domain.MetricType]*ring
	processed     int64
	errors        int64
	latencyTotal  time.Duration
	confidenceSum float64
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg domain.MetricsConfig, opts Options) *Aggregator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Load == nil {
		opts.Load = RuntimeLoad
	}
	rings := make(map[domain.MetricType]*ring)
	for _, t := range domain.MetricTypes() {
		rings[t] = newRing(cfg.RingCapacity)
	}
	return &Aggregator{cfg: cfg, opts: opts, rings: rings}
}

// Observe records a successfully scored request.
func (a *Aggregator) Observe(latency time.Duration, confidence float64) {
	a.mu.Lock()
	a.processed++
	a.latencyTotal += latency
	a.confidenceSum += confidence
	a.mu.Unlock()
}

// ObserveError records a failed or rejected request.
func (a *Aggregator) ObserveError() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}

// Record tags a value, appends it to its ring and fans it out to the
// configured sinks. Unknown types are ignored.
func (a *Aggregator) Record(ctx context.Context, metricType domain.MetricType, value float64) (domain.MetricSample, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.MetricSample{}, false
	}

	a.mu.Lock()
	r, ok := a.rings[metricType]
	if !ok {
		a.mu.Unlock()
		return domain.MetricSample{}, false
	}
	sample := domain.MetricSample{
		Type:      metricType,
		Value:     value,
		Status:    a.status(metricType, value),
		Timestamp: a.opts.Clock().UTC(),
	}
	r.push(sample)
	a.mu.Unlock()

	a.publish(ctx, sample)
	return sample, true
}

type reading struct {
	t domain.MetricType
	v float64
}

// Flush turns the current interval's counters into samples and resets them.
func (a *Aggregator) Flush(ctx context.Context) []domain.MetricSample {
	a.mu.Lock()
	processed, errs := a.processed, a.errors
	latency, confidence := a.latencyTotal, a.confidenceSum
	a.processed, a.errors, a.latencyTotal, a.confidenceSum = 0, 0, 0, 0
	a.mu.Unlock()

	total := processed + errs
	values := []reading{
		{domain.MetricThroughput, float64(total)},
		{domain.MetricErrorRate, ratio(float64(errs), float64(total))},
	}
	if processed > 0 {
		values = append(values,
			reading{domain.MetricAPIResponseTime, float64(latency.Microseconds()) / 1000 / float64(processed)},
			reading{domain.MetricModelAccuracy, confidence / float64(processed)},
		)
	}
	values = append(values, reading{domain.MetricSystemLoad, a.opts.Load()})

	samples := make([]domain.MetricSample, 0, len(values))
	for _, v := range values {
		if s, ok := a.Record(ctx, v.t, v.v); ok {
			samples = append(samples, s)
		}
	}
	return samples
}

// Run flushes on every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	interval := a.cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Trend reports the direction of a metric over the last two windows.
func (a *Aggregator) Trend(metricType domain.MetricType) domain.Trend {
	a.mu.Lock()
	var values []float64
	samples := 0
	if r, ok := a.rings[metricType]; ok {
		values = r.values(2 * a.cfg.TrendWindow)
		samples = r.size
	}
	a.mu.Unlock()

	dir, recent, prior, change := ComputeTrend(values, a.cfg.TrendWindow, a.cfg.NoiseFloorPercent)
	return domain.Trend{
		Type:          metricType,
		Direction:     dir,
		RecentMean:    recent,
		PriorMean:     prior,
		ChangePercent: change,
		Window:        a.cfg.TrendWindow,
		Samples:       samples,
	}
}

// Trends reports every metric's trend.
func (a *Aggregator) Trends() []domain.Trend {
	types := domain.MetricTypes()
	out := make([]domain.Trend, 0, len(types))
	for _, t := range types {
		out = append(out, a.Trend(t))
	}
	return out
}

// Samples returns the buffered samples of one metric, oldest first.
func (a *Aggregator) Samples(metricType domain.MetricType) []domain.MetricSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.rings[metricType]; ok {
		return r.snapshot()
	}
	return nil
}

// Latest returns the newest sample of each metric that has one.
func (a *Aggregator) Latest() []domain.MetricSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.MetricSample
	for _, t := range domain.MetricTypes() {
		if s, ok := a.rings[t].last(); ok {
			out = append(out, s)
		}
	}
	return out
}

// status must be called with mu held.
func (a *Aggregator) status(metricType domain.MetricType, value float64) domain.MetricStatus {
	t, ok := a.cfg.Thresholds[metricType]
	if !ok {
		return domain.StatusNormal
	}
	return Classify(value, t)
}

func (a *Aggregator) publish(ctx context.Context, sample domain.MetricSample) {
	a.opts.Collectors.SetMetricValue(string(sample.Type), sample.Value)

	if sample.Status != domain.StatusNormal && a.opts.Alerts != nil {
		a.opts.Alerts.RaiseMetric(ctx, sample)
	}

	if a.opts.Outbox == nil {
		return
	}
	if repo := a.opts.Repository; repo != nil {
		s := sample
		a.opts.Outbox.Submit("metric.persist", func(ctx context.Context) error {
			return repo.SaveMetricSample(ctx, &s)
		})
	}
	if bus := a.opts.Bus; bus != nil {
		payload, err := json.Marshal(sample)
		if err != nil {
			slog.Error("failed to marshal metric sample", "type", sample.Type, "error", err)
			return
		}
		a.opts.Outbox.Submit("metric.publish", func(ctx context.Context) error {
			return bus.Publish(ctx, domain.GlobalTenantID, domain.TopicMetricSample, payload)
		})
	}
}

// RuntimeLoad approximates load from goroutine pressure relative to available CPUs.
func RuntimeLoad() float64 {
	capacity := float64(runtime.GOMAXPROCS(0) * 256)
	return math.Min(1, float64(runtime.NumGoroutine())/capacity)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
