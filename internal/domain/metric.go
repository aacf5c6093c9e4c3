package domain

import "time"

// MetricType names a tracked operational metric.
type MetricType string

const (
	MetricAPIResponseTime MetricType = "api_response_time"
	MetricModelAccuracy   MetricType = "model_accuracy_proxy"
	MetricSystemLoad      MetricType = "system_load"
	MetricErrorRate       MetricType = "error_rate"
	MetricThroughput      MetricType = "throughput"
)

// MetricTypes lists every tracked metric in reporting order.
func MetricTypes() []MetricType {
	return []MetricType{
		MetricAPIResponseTime,
		MetricModelAccuracy,
		MetricSystemLoad,
		MetricErrorRate,
		MetricThroughput,
	}
}

// Valid reports whether t is a tracked metric.
func (t MetricType) Valid() bool {
	for _, m := range MetricTypes() {
		if m == t {
			return true
		}
	}
	return false
}

// MetricStatus is the health tag of a sample.
type MetricStatus string

const (
	StatusNormal   MetricStatus = "normal"
	StatusWarning  MetricStatus = "warning"
	StatusCritical MetricStatus = "critical"
)

// MetricSample is one observation of a metric.
type MetricSample struct {
	Type      MetricType   `json:"type"`
	Value     float64      `json:"value"`
	Status    MetricStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// TrendDirection summarizes how a metric is moving.
type TrendDirection string

const (
	TrendUp               TrendDirection = "up"
	TrendDown             TrendDirection = "down"
	TrendStable           TrendDirection = "stable"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// Trend compares the most recent window of samples with the one before it.
type Trend struct {
	Type          MetricType     `json:"type"`
	Direction     TrendDirection `json:"direction"`
	RecentMean    float64        `json:"recentMean"`
	PriorMean     float64        `json:"priorMean"`
	ChangePercent float64        `json:"changePercent"`
	Window        int            `json:"window"`
	Samples       int            `json:"samples"`
}
