package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Kind         domain.ResultKind `json:"kind,omitempty"`
	Expression   string            `json:"expression"`
	Tag          string            `json:"tag"`
	Significance float64           `json:"significance"`
	Enabled      bool              `json:"enabled"`
}

// ListRules handles GET /rules. It returns the tenant's stored rules and the
// number of rules currently loaded for every tenant.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	rules, err := h.repo.ListFactorRules(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	loaded := 0
	if re := h.engine.Rules(); re != nil {
		loaded = re.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": loaded,
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ruleID := chi.URLParam(r, "id")
	rules, err := h.repo.ListFactorRules(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	for _, rule := range rules {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule validates a factor rule and stores it for the calling tenant.
// Stored rules take effect on the next POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ruleEngine := h.engine.Rules()
	if ruleEngine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" || req.Tag == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, expression and tag are required",
		})
		return
	}
	if req.Kind != "" && req.Kind != domain.KindTransaction && req.Kind != domain.KindBiometric {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "kind must be transaction or biometric",
		})
		return
	}

	ctx := r.Context()
	rule := &domain.FactorRule{
		ID:           req.ID,
		TenantID:     GetTenantID(ctx),
		Name:         req.Name,
		Description:  req.Description,
		Kind:         req.Kind,
		Expression:   req.Expression,
		Tag:          req.Tag,
		Significance: req.Significance,
		Enabled:      req.Enabled,
		CreatedAt:    time.Now().UTC(),
	}

	if err := ruleEngine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveFactorRule(ctx, rule.TenantID, rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("factor rule created", "tenant_id", rule.TenantID, "id", rule.ID, "tag", rule.Tag)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule removes a stored rule and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteFactorRule(ctx, tenantID, ruleID); err != nil {
		writeError(w, err)
		return
	}

	count, err := h.reload(r)
	if err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	}

	slog.Info("factor rule deleted", "tenant_id", tenantID, "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule deleted and engine reloaded.",
		"loaded":  count,
	})
}

// ReloadRules replaces every loaded rule with the enabled rules in the store.
// Nothing changes if any stored rule fails to compile.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	if h.engine.Rules() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	count, err := h.reload(r)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("factor rules reloaded from store", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func (h *Handler) reload(r *http.Request) (int, error) {
	ruleEngine := h.engine.Rules()
	if ruleEngine == nil {
		return 0, nil
	}
	stored, err := h.repo.ListAllFactorRules(r.Context())
	if err != nil {
		return 0, err
	}
	if err := ruleEngine.ReloadRules(stored); err != nil {
		return 0, err
	}
	return ruleEngine.RulesCount(), nil
}
