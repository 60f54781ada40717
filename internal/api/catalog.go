package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-crm/kestrel/internal/domain"
)

// ListCatalog handles GET /catalog. The response merges global,
// industry, and tenant entries with tenant definitions shadowing shared
// ones.
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	industryID := r.URL.Query().Get("industryId")

	entries, err := h.repo.GetCatalog(ctx, tenantID, industryID)
	if err != nil {
		writeError(w, "failed to load catalog", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetCatalogEntry handles GET /catalog/{riskId}.
func (h *Handler) GetCatalogEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	riskID := chi.URLParam(r, "riskId")

	entry, err := h.repo.GetCatalogEntry(ctx, tenantID, riskID)
	if err != nil {
		writeError(w, "failed to get catalog entry", err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// CreateCatalogEntry handles POST /catalog. Entries created through the
// API are tenant-scoped; creating one cascades a re-evaluation across
// the tenant's opportunities.
func (h *Handler) CreateCatalogEntry(w http.ResponseWriter, r *http.Request) {
	h.saveCatalogEntry(w, r, "", domain.TriggerRiskCatalogCreated)
}

// UpdateCatalogEntry handles PUT /catalog/{riskId}.
func (h *Handler) UpdateCatalogEntry(w http.ResponseWriter, r *http.Request) {
	h.saveCatalogEntry(w, r, chi.URLParam(r, "riskId"), domain.TriggerRiskCatalogUpdated)
}

func (h *Handler) saveCatalogEntry(w http.ResponseWriter, r *http.Request, riskID string, trigger domain.EvaluationTrigger) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var entry domain.RiskCatalogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if riskID != "" {
		entry.RiskID = riskID
	}
	entry.Scope = domain.ScopeTenant
	entry.TenantID = tenantID
	entry.IndustryID = ""

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	if err := entry.Validate(); err != nil {
		writeError(w, "invalid catalog entry", err)
		return
	}

	if entry.DetectionRule.Expression != "" && h.ruleDetector != nil {
		if err := h.ruleDetector.ValidateRule(entry.DetectionRule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid detection rule: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveCatalogEntry(ctx, &entry); err != nil {
		writeError(w, "failed to save catalog entry", err)
		return
	}

	h.cascade(r, &entry, trigger)

	status := http.StatusOK
	if trigger == domain.TriggerRiskCatalogCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, &entry)
}

// DeleteCatalogEntry handles DELETE /catalog/{riskId}. Only tenant-scope
// entries can be deleted; shared entries are deactivated instead.
func (h *Handler) DeleteCatalogEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	riskID := chi.URLParam(r, "riskId")

	if err := h.repo.DeleteCatalogEntry(ctx, tenantID, riskID); err != nil {
		writeError(w, "failed to delete catalog entry", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "catalog entry deleted",
		"riskId":  riskID,
	})
}

// DuplicateCatalogEntry handles POST /catalog/{riskId}/duplicate. It
// copies a visible entry (any scope) into tenant scope so the tenant can
// customize it.
func (h *Handler) DuplicateCatalogEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	riskID := chi.URLParam(r, "riskId")

	var req struct {
		RiskID string `json:"riskId,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	source, err := h.repo.GetCatalogEntry(ctx, tenantID, riskID)
	if err != nil {
		writeError(w, "failed to get catalog entry", err)
		return
	}

	copyID := req.RiskID
	if copyID == "" {
		copyID = source.RiskID + "-copy"
	}

	now := time.Now().UTC()
	duplicate := *source
	duplicate.RiskID = copyID
	duplicate.Scope = domain.ScopeTenant
	duplicate.TenantID = tenantID
	duplicate.IndustryID = ""
	duplicate.CreatedAt = now
	duplicate.UpdatedAt = now

	if err := duplicate.Validate(); err != nil {
		writeError(w, "invalid catalog entry", err)
		return
	}

	if err := h.repo.SaveCatalogEntry(ctx, &duplicate); err != nil {
		writeError(w, "failed to save catalog entry", err)
		return
	}

	h.cascade(r, &duplicate, domain.TriggerRiskCatalogCreated)

	writeJSON(w, http.StatusCreated, &duplicate)
}

// EnableCatalogEntry handles POST /catalog/{riskId}/enable.
func (h *Handler) EnableCatalogEntry(w http.ResponseWriter, r *http.Request) {
	h.setCatalogEntryActive(w, r, true)
}

// DisableCatalogEntry handles POST /catalog/{riskId}/disable.
func (h *Handler) DisableCatalogEntry(w http.ResponseWriter, r *http.Request) {
	h.setCatalogEntryActive(w, r, false)
}

func (h *Handler) setCatalogEntryActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	riskID := chi.URLParam(r, "riskId")

	if err := h.repo.SetCatalogEntryActive(ctx, tenantID, riskID, active); err != nil {
		writeError(w, "failed to update catalog entry", err)
		return
	}

	entry, err := h.repo.GetCatalogEntry(ctx, tenantID, riskID)
	if err == nil {
		h.cascade(r, entry, domain.TriggerRiskCatalogUpdated)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"riskId": riskID,
		"active": active,
	})
}

// cascade queues re-evaluations affected by a catalog change. Cascade
// failure never fails the catalog write; the entry is already saved.
func (h *Handler) cascade(r *http.Request, entry *domain.RiskCatalogEntry, trigger domain.EvaluationTrigger) {
	result, err := h.orchestrator.CascadeReevaluate(r.Context(), entry, trigger)
	if err != nil {
		slog.Warn("cascade failed after catalog change",
			"risk_id", entry.RiskID,
			"trigger", trigger,
			"error", err,
		)
		return
	}
	slog.Info("cascade queued",
		"risk_id", entry.RiskID,
		"trigger", trigger,
		"queued_count", result.QueuedCount,
		"error_count", result.ErrorCount,
	)
}
