package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type recordingRaiser struct {
	mu      sync.Mutex
	samples []domain.MetricSample
}

func (r *recordingRaiser) RaiseMetric(_ context.Context, s domain.MetricSample) *domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return &domain.Alert{}
}

func testConfig() domain.MetricsConfig {
	cfg := domain.DefaultMetricsConfig()
	cfg.RingCapacity = 50
	return cfg
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestComputeTrend(t *testing.T) {
	t.Run("InsufficientData", func(t *testing.T) {
		dir, _, _, _ := ComputeTrend(make([]float64, 19), 10, 5)
		assert.Equal(t, domain.TrendInsufficientData, dir)
	})

	t.Run("Up", func(t *testing.T) {
		values := append(repeat(100, 10), repeat(120, 10)...)
		dir, recent, prior, change := ComputeTrend(values, 10, 5)
		assert.Equal(t, domain.TrendUp, dir)
		assert.InDelta(t, 120, recent, 1e-9)
		assert.InDelta(t, 100, prior, 1e-9)
		assert.InDelta(t, 20, change, 1e-9)
	})

	t.Run("Down", func(t *testing.T) {
		values := append(repeat(100, 10), repeat(80, 10)...)
		dir, _, _, _ := ComputeTrend(values, 10, 5)
		assert.Equal(t, domain.TrendDown, dir)
	})

	t.Run("StableWithinNoise", func(t *testing.T) {
		values := append(repeat(100, 10), repeat(104, 10)...)
		dir, _, _, _ := ComputeTrend(values, 10, 5)
		assert.Equal(t, domain.TrendStable, dir)
	})

	t.Run("UsesOnlyNewestWindows", func(t *testing.T) {
		values := append(repeat(1, 30), append(repeat(50, 10), repeat(50, 10)...)...)
		dir, _, _, _ := ComputeTrend(values, 10, 5)
		assert.Equal(t, domain.TrendStable, dir)
	})

	t.Run("ZeroPriorFollowsSign", func(t *testing.T) {
		values := append(repeat(0, 10), repeat(3, 10)...)
		dir, _, _, change := ComputeTrend(values, 10, 5)
		assert.Equal(t, domain.TrendUp, dir)
		assert.Equal(t, 0.0, change)

		dir, _, _, _ = ComputeTrend(repeat(0, 20), 10, 5)
		assert.Equal(t, domain.TrendStable, dir)
	})
}

func TestClassify(t *testing.T) {
	latency := domain.MetricThreshold{Warning: 200, Critical: 500}
	assert.Equal(t, domain.StatusNormal, Classify(50, latency))
	assert.Equal(t, domain.StatusWarning, Classify(200, latency))
	assert.Equal(t, domain.StatusCritical, Classify(900, latency))

	accuracy := domain.MetricThreshold{Warning: 0.6, Critical: 0.4, LowerIsWorse: true}
	assert.Equal(t, domain.StatusNormal, Classify(0.9, accuracy))
	assert.Equal(t, domain.StatusWarning, Classify(0.5, accuracy))
	assert.Equal(t, domain.StatusCritical, Classify(0.3, accuracy))
}

func TestRing(t *testing.T) {
	r := newRing(3)
	_, ok := r.last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		r.push(domain.MetricSample{Value: float64(i)})
	}
	snap := r.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 3.0, snap[0].Value)
	assert.Equal(t, 5.0, snap[2].Value)
	assert.Equal(t, []float64{4, 5}, r.values(2))
	assert.Equal(t, []float64{3, 4, 5}, r.values(10))

	last, ok := r.last()
	assert.True(t, ok)
	assert.Equal(t, 5.0, last.Value)
}

func TestAggregatorRecordAndTrend(t *testing.T) {
	raiser := &recordingRaiser{}
	agg := NewAggregator(testConfig(), Options{Alerts: raiser, Clock: fixedClock()})
	ctx := context.Background()

	for i := 0; i < 19; i++ {
		agg.Record(ctx, domain.MetricAPIResponseTime, 100)
	}
	assert.Equal(t, domain.TrendInsufficientData, agg.Trend(domain.MetricAPIResponseTime).Direction)

	agg.Record(ctx, domain.MetricAPIResponseTime, 100)
	assert.Equal(t, domain.TrendStable, agg.Trend(domain.MetricAPIResponseTime).Direction)

	for i := 0; i < 10; i++ {
		agg.Record(ctx, domain.MetricAPIResponseTime, 600)
	}
	trend := agg.Trend(domain.MetricAPIResponseTime)
	assert.Equal(t, domain.TrendUp, trend.Direction)
	assert.Equal(t, 30, trend.Samples)

	s, ok := agg.Record(ctx, domain.MetricAPIResponseTime, 600)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCritical, s.Status)
	assert.Len(t, raiser.samples, 11, "every abnormal sample is offered to the alert raiser")

	_, ok = agg.Record(ctx, domain.MetricType("unknown"), 1)
	assert.False(t, ok)
}

func TestAggregatorFlush(t *testing.T) {
	agg := NewAggregator(testConfig(), Options{
		Clock: fixedClock(),
		Load:  func() float64 { return 0.25 },
	})
	ctx := context.Background()

	agg.Observe(100*time.Millisecond, 0.9)
	agg.Observe(300*time.Millisecond, 0.7)
	agg.ObserveError()
	agg.ObserveError()

	samples := agg.Flush(ctx)
	got := map[domain.MetricType]domain.MetricSample{}
	for _, s := range samples {
		got[s.Type] = s
	}
	require.Len(t, got, 5)
	assert.Equal(t, 4.0, got[domain.MetricThroughput].Value)
	assert.InDelta(t, 0.5, got[domain.MetricErrorRate].Value, 1e-9)
	assert.Equal(t, domain.StatusCritical, got[domain.MetricErrorRate].Status)
	assert.InDelta(t, 200, got[domain.MetricAPIResponseTime].Value, 1e-9)
	assert.Equal(t, domain.StatusWarning, got[domain.MetricAPIResponseTime].Status)
	assert.InDelta(t, 0.8, got[domain.MetricModelAccuracy].Value, 1e-9)
	assert.Equal(t, 0.25, got[domain.MetricSystemLoad].Value)

	// Counters reset; an idle interval yields no latency or accuracy sample.
	samples = agg.Flush(ctx)
	assert.Len(t, samples, 3)
	assert.Len(t, agg.Latest(), 5)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveScore("transaction", "fraudulent", 0.84, 0.002)
	c.AlertEmitted("critical")
	c.AlertSuppressed()

	families, err := reg.Gather()
	require.NoError(t, err)
	counters := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				counters[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, counters["kestrel_scored_total"])
	assert.Equal(t, 1.0, counters["kestrel_alerts_total"])
	assert.Equal(t, 1.0, counters["kestrel_alerts_suppressed_total"])

	var nilCollectors *Collectors
	assert.NotPanics(t, func() {
		nilCollectors.ObserveScore("transaction", "legitimate", 0.1, 0.001)
		nilCollectors.StreamOpened()
	})
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
