package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kestrel"

// Collectors are the Prometheus instruments exported at /metrics.
// All methods are safe to call on a nil receiver.
type Collectors struct {
	ScoredTotal         *prometheus.CounterVec
	ScoreDistribution   *prometheus.HistogramVec
	ScoringDuration     *prometheus.HistogramVec
	DegradedTotal       *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	AlertsSuppressed    prometheus.Counter
	DeliveryFailures    *prometheus.CounterVec
	OutboxDropped       *prometheus.CounterVec
	StreamConnections   prometheus.Gauge
	StreamRejected      *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	MetricValue         *prometheus.GaugeVec
}

// NewCollectors creates the collectors and registers them on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ScoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scored_total",
				Help:      "Total scored inputs by kind and verdict.",
			},
			[]string{"kind", "verdict"},
		),
		ScoreDistribution: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ensemble_score",
				Help:      "Distribution of ensemble scores.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"kind"},
		),
		ScoringDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scoring_duration_seconds",
				Help:      "Time spent scoring one input.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
			},
			[]string{"kind"},
		),
		DegradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_timeouts_total",
				Help:      "Models that missed the scoring deadline and fell back to their base score.",
			},
			[]string{"model"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts emitted by severity.",
			},
			[]string{"severity"},
		),
		AlertsSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_suppressed_total",
				Help:      "Alerts suppressed by the de-duplication window.",
			},
		),
		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_failures_total",
				Help:      "Side-channel jobs that failed after retries, by job.",
			},
			[]string{"job"},
		),
		OutboxDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_dropped_total",
				Help:      "Side-channel jobs dropped because the queue was full.",
			},
			[]string{"job"},
		),
		StreamConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections",
				Help:      "Open streaming ingestion connections.",
			},
		),
		StreamRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_rejected_total",
				Help:      "Streaming submissions rejected, by reason.",
			},
			[]string{"reason"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, path pattern, and status code.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		MetricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "metric_sample_value",
				Help:      "Latest aggregated operational metric sample by type.",
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(
		c.ScoredTotal,
		c.ScoreDistribution,
		c.ScoringDuration,
		c.DegradedTotal,
		c.AlertsTotal,
		c.AlertsSuppressed,
		c.DeliveryFailures,
		c.OutboxDropped,
		c.StreamConnections,
		c.StreamRejected,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		c.MetricValue,
	)
	return c
}

// ObserveScore records one scored input.
func (c *Collectors) ObserveScore(kind, verdict string, score, seconds float64) {
	if c == nil {
		return
	}
	c.ScoredTotal.WithLabelValues(kind, verdict).Inc()
	c.ScoreDistribution.WithLabelValues(kind).Observe(score)
	c.ScoringDuration.WithLabelValues(kind).Observe(seconds)
}

// ModelTimedOut records a model that missed the deadline.
func (c *Collectors) ModelTimedOut(model string) {
	if c == nil {
		return
	}
	c.DegradedTotal.WithLabelValues(model).Inc()
}

// AlertEmitted records an emitted alert.
func (c *Collectors) AlertEmitted(severity string) {
	if c == nil {
		return
	}
	c.AlertsTotal.WithLabelValues(severity).Inc()
}

// AlertSuppressed records an alert swallowed by the de-dup window.
func (c *Collectors) AlertSuppressed() {
	if c == nil {
		return
	}
	c.AlertsSuppressed.Inc()
}

// JobFailed records a side-channel job that exhausted its retries.
func (c *Collectors) JobFailed(job string) {
	if c == nil {
		return
	}
	c.DeliveryFailures.WithLabelValues(job).Inc()
}

// JobDropped records a side-channel job dropped on a full queue.
func (c *Collectors) JobDropped(job string) {
	if c == nil {
		return
	}
	c.OutboxDropped.WithLabelValues(job).Inc()
}

// StreamOpened tracks a new streaming connection.
func (c *Collectors) StreamOpened() {
	if c == nil {
		return
	}
	c.StreamConnections.Inc()
}

// StreamClosed tracks a closed streaming connection.
func (c *Collectors) StreamClosed() {
	if c == nil {
		return
	}
	c.StreamConnections.Dec()
}

// StreamRejection records a rejected streaming submission.
func (c *Collectors) StreamRejection(reason string) {
	if c == nil {
		return
	}
	c.StreamRejected.WithLabelValues(reason).Inc()
}

// ObserveHTTP records one HTTP request.
func (c *Collectors) ObserveHTTP(method, path, status string, seconds float64) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// SetMetricValue exports the latest aggregated sample.
func (c *Collectors) SetMetricValue(metricType string, value float64) {
	if c == nil {
		return
	}
	c.MetricValue.WithLabelValues(metricType).Set(value)
}
