package api

import (
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const dashboardAlertLimit = 20

// MetricStatus is the latest reading of one metric.
type MetricStatus struct {
	Type      domain.MetricType   `json:"type"`
	Value     float64             `json:"value"`
	Status    domain.MetricStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

func latest(samples []domain.MetricSample) []MetricStatus {
	out := make([]MetricStatus, 0, len(samples))
	for _, s := range samples {
		out = append(out, MetricStatus{Type: s.Type, Value: s.Value, Status: s.Status, Timestamp: s.Timestamp})
	}
	return out
}

// Metrics handles GET /analytics/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireAggregator(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": latest(h.aggregator.Latest()),
	})
}

// Historical handles GET /analytics/historical?type=&since=&limit=.
// Without a store it falls back to the in-memory window.
func (h *Handler) Historical(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metricType := domain.MetricType(q.Get("type"))
	if !metricType.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type must be a known metric type",
		})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := q.Get("since"); raw != "" {
		ts, err := domain.ParseTimestamp(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		since = ts
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	var samples []*domain.MetricSample
	switch {
	case h.repo != nil:
		stored, err := h.repo.ListMetricSamples(r.Context(), metricType, since, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		samples = stored
	case h.aggregator != nil:
		for _, s := range h.aggregator.Samples(metricType) {
			if !s.Timestamp.Before(since) {
				samples = append(samples, &s)
			}
		}
	default:
		h.requireAggregator(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":    metricType,
		"since":   since.UTC(),
		"samples": samples,
		"count":   len(samples),
	})
}

// Models handles GET /analytics/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Config()
	loaded := 0
	if re := h.engine.Rules(); re != nil {
		loaded = re.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            h.version,
		"transactionWeights": cfg.TransactionWeights.Map(),
		"biometricWeights":   cfg.BiometricWeights.Map(),
		"thresholds":         cfg.Thresholds,
		"actions":            cfg.Actions,
		"lowConfidence":      cfg.LowConfidence,
		"timeoutMs":          cfg.Timeout.Milliseconds(),
		"factorRules":        loaded,
	})
}

// Dashboard handles GET /analytics/dashboard: latest samples, trends and the
// tenant's open alerts.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if !h.requireAggregator(w) {
		return
	}

	resp := map[string]any{
		"metrics": latest(h.aggregator.Latest()),
		"trends":  h.aggregator.Trends(),
	}
	if h.repo != nil {
		alerts, err := h.repo.ListAlerts(r.Context(), GetTenantID(r.Context()), domain.AlertOpen, dashboardAlertLimit)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["openAlerts"] = alerts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requireAggregator(w http.ResponseWriter) bool {
	if h.aggregator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "metrics not available",
		})
		return false
	}
	return true
}
