package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Deps are the collaborators the handlers use. Only Engine is required.
type Deps struct {
	Engine     *engine.Engine
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Aggregator *metrics.Aggregator
	Collectors *metrics.Collectors
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine     *engine.Engine
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	aggregator *metrics.Aggregator
	version    string
	now        func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:     deps.Engine,
		repo:       deps.Repository,
		cache:      deps.Cache,
		bus:        deps.Bus,
		aggregator: deps.Aggregator,
		version:    deps.Version,
		now:        clock(deps.Engine),
	}
}

func clock(e *engine.Engine) func() time.Time {
	if e == nil {
		return time.Now
	}
	return e.Now
}

// ScoreResponse is an ensemble result plus the id of the alert it raised.
type ScoreResponse struct {
	*domain.EnsembleResult
	AlertID string `json:"alertId,omitempty"`
}

func newScoreResponse(s *engine.Scored) ScoreResponse {
	resp := ScoreResponse{EnsembleResult: s.Result}
	if s.Alert != nil {
		resp.AlertID = s.Alert.ID
	}
	return resp
}

// ScoreTransaction handles POST /score/transaction.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeTransaction(w, r)
	if !ok {
		return
	}

	scored, err := h.engine.ScoreTransaction(r.Context(), GetTenantID(r.Context()), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newScoreResponse(scored))
}

// ScoreBiometric handles POST /score/biometric.
func (h *Handler) ScoreBiometric(w http.ResponseWriter, r *http.Request) {
	var sample domain.BiometricSample
	if !decodeBody(w, r, &sample) {
		return
	}

	scored, err := h.engine.ScoreBiometric(r.Context(), GetTenantID(r.Context()), &sample)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newScoreResponse(scored))
}

// IngestTransaction handles POST /ingest/transaction. The record is validated
// and stamped here and scored later by a worker.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeTransaction(w, r)
	if !ok {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = h.now().UTC()
	}
	h.ingest(w, r, domain.TopicTransactionIngested, rec.ID, rec)
}

// IngestBiometric handles POST /ingest/biometric.
func (h *Handler) IngestBiometric(w http.ResponseWriter, r *http.Request) {
	var sample domain.BiometricSample
	if !decodeBody(w, r, &sample) {
		return
	}
	if err := sample.Validate(); err != nil {
		writeError(w, err)
		return
	}
	h.ingest(w, r, domain.TopicBiometricIngested, sample.SessionID, &sample)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, topic, subjectID string, v any) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}

	tenantID := GetTenantID(r.Context())
	if err := h.bus.Publish(r.Context(), tenantID, topic, payload); err != nil {
		slog.Error("failed to publish ingested record", "tenant_id", tenantID, "topic", topic, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"subjectId": subjectID,
	})
}

// GetResult handles GET /results/{id}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	result, err := h.repo.GetResult(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListResults handles GET /results?subject=.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject query parameter is required",
		})
		return
	}
	results, err := h.repo.ListResultsBySubject(r.Context(), GetTenantID(r.Context()), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// ReplayResponse compares a stored assessment with a fresh one.
type ReplayResponse struct {
	ResultID string             `json:"resultId"`
	Matches  bool               `json:"matches"`
	Stored   domain.Assessment  `json:"stored"`
	Replayed *domain.Assessment `json:"replayed"`
}

// ReplayResult handles POST /results/{id}/replay.
func (h *Handler) ReplayResult(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	stored, err := h.repo.GetResult(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	replayed, matches, err := h.engine.Replay(ctx, stored)
	if err != nil {
		writeError(w, err)
		return
	}
	if !matches {
		slog.Warn("replay diverged from stored result", "result_id", stored.ID, "tenant_id", stored.TenantID)
	}
	writeJSON(w, http.StatusOK, ReplayResponse{
		ResultID: stored.ID,
		Matches:  matches,
		Stored:   stored.Assessment,
		Replayed: replayed,
	})
}

// ListAlerts handles GET /alerts?status=&limit=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	status := domain.AlertStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be open, acknowledged or dismissed",
		})
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	alerts, err := h.repo.ListAlerts(r.Context(), GetTenantID(r.Context()), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AcknowledgeAlert handles POST /alerts/{id}/acknowledge.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertStatus(w, r, domain.AlertAcknowledged)
}

// DismissAlert handles POST /alerts/{id}/dismiss.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertStatus(w, r, domain.AlertDismissed)
}

func (h *Handler) setAlertStatus(w http.ResponseWriter, r *http.Request, status domain.AlertStatus) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	if err := h.repo.UpdateAlertStatus(ctx, tenantID, alertID, status); err != nil {
		writeError(w, err)
		return
	}
	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("alert status changed", "tenant_id", tenantID, "alert_id", alertID, "status", status)
	writeJSON(w, http.StatusOK, alert)
}

// Health reports the status of the repository, cache and bus.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			checks[name] = "unhealthy"
			status = "degraded"
			return
		}
		checks[name] = "healthy"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func decodeTransaction(w http.ResponseWriter, r *http.Request) (*domain.TransactionRecord, bool) {
	var req domain.TransactionRequest
	if !decodeBody(w, r, &req) {
		return nil, false
	}
	rec, err := req.ToRecord()
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return rec, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"error": "request body too large",
				"limit": maxErr.Limit,
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": name + " must be a non-negative integer",
		})
		return 0, false
	}
	return n, true
}

// writeError maps domain and storage errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid input",
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
