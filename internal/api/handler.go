package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-crm/kestrel/internal/detect"
	"github.com/opensource-crm/kestrel/internal/domain"
	"github.com/opensource-crm/kestrel/internal/engine"
	"github.com/opensource-crm/kestrel/internal/revenue"
	"github.com/opensource-crm/kestrel/internal/warning"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *engine.Orchestrator
	calculator   *revenue.Calculator
	warnings     *warning.Detector
	ruleDetector *detect.RuleDetector
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *engine.Orchestrator, calculator *revenue.Calculator, warnings *warning.Detector, ruleDetector *detect.RuleDetector, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		calculator:   calculator,
		warnings:     warnings,
		ruleDetector: ruleDetector,
		version:      version,
	}
}

// EvaluateRequest is the request body for POST /opportunities/{id}/evaluate.
// All fields are optional; the zero value means "defaults".
type EvaluateRequest struct {
	ForceRefresh             *bool  `json:"forceRefresh,omitempty"`
	IncludeHistorical        *bool  `json:"includeHistorical,omitempty"`
	IncludeAI                *bool  `json:"includeAI,omitempty"`
	IncludeSemanticDiscovery *bool  `json:"includeSemanticDiscovery,omitempty"`
	CallerID                 string `json:"callerId,omitempty"`
}

func (req *EvaluateRequest) options() domain.EvaluateOptions {
	opts := domain.DefaultEvaluateOptions()
	if req.ForceRefresh != nil {
		opts.ForceRefresh = *req.ForceRefresh
	}
	if req.IncludeHistorical != nil {
		opts.IncludeHistorical = *req.IncludeHistorical
	}
	if req.IncludeAI != nil {
		opts.IncludeAI = *req.IncludeAI
	}
	if req.IncludeSemanticDiscovery != nil {
		opts.IncludeSemanticDiscovery = *req.IncludeSemanticDiscovery
	}
	return opts
}

// Evaluate handles POST /opportunities/{id}/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	var req EvaluateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	callerID := req.CallerID
	if callerID == "" {
		callerID = "api"
	}

	eval, err := h.orchestrator.EvaluateOpportunity(ctx, tenantID, oppID, callerID, domain.TriggerManual, req.options())
	if err != nil {
		writeError(w, "evaluation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// QueueEvaluate handles POST /opportunities/{id}/evaluate/queue. The
// evaluation runs asynchronously; the response only acknowledges the
// enqueue.
func (h *Handler) QueueEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	var req EvaluateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	callerID := req.CallerID
	if callerID == "" {
		callerID = "api"
	}

	err := h.orchestrator.QueueEvaluation(ctx, domain.EvaluationRequest{
		OpportunityID: oppID,
		TenantID:      tenantID,
		CallerID:      callerID,
		Trigger:       domain.TriggerManual,
		Priority:      domain.PriorityNormal,
		Options:       req.options(),
		TraceID:       GetTraceID(ctx),
	})
	if err != nil {
		writeError(w, "failed to queue evaluation", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":       "evaluation queued",
		"opportunityId": oppID,
	})
}

// RiskEvolution handles GET /opportunities/{id}/risk/evolution.
func (h *Handler) RiskEvolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	from := parseTime(r.URL.Query().Get("from"))
	to := parseTime(r.URL.Query().Get("to"))
	limit := parseInt(r.URL.Query().Get("limit"), 100)

	points, err := h.orchestrator.RiskEvolution(ctx, tenantID, oppID, from, to, limit)
	if err != nil {
		writeError(w, "failed to load risk evolution", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"opportunityId": oppID,
		"points":        points,
	})
}

// Risks handles GET /opportunities/{id}/risks.
func (h *Handler) Risks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	result, err := h.orchestrator.RisksWithHistory(ctx, tenantID, oppID)
	if err != nil {
		writeError(w, "failed to load risks", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RiskBreakdown handles GET /opportunities/{id}/risk/breakdown. The
// breakdown is served from the audit trail only; 404 means no trail.
func (h *Handler) RiskBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	limit := parseInt(r.URL.Query().Get("limit"), 10)

	entries, err := h.orchestrator.ScoreBreakdown(ctx, tenantID, oppID, limit)
	if err != nil {
		writeError(w, "failed to load score breakdown", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"opportunityId": oppID,
		"breakdown":     entries,
	})
}

// RiskPatterns handles GET /opportunities/{id}/risk/patterns.
func (h *Handler) RiskPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	patterns, err := h.orchestrator.HistoricalPatterns(ctx, tenantID, oppID)
	if err != nil {
		writeError(w, "failed to load historical patterns", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"opportunityId": oppID,
		"patterns":      patterns,
	})
}

// RevenueAtRisk handles GET /opportunities/{id}/revenue-at-risk.
func (h *Handler) RevenueAtRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	rar, err := h.calculator.ForOpportunity(ctx, tenantID, oppID)
	if err != nil {
		writeError(w, "failed to calculate revenue at risk", err)
		return
	}

	writeJSON(w, http.StatusOK, rar)
}

// PortfolioRevenueAtRisk handles GET /revenue-at-risk.
func (h *Handler) PortfolioRevenueAtRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	portfolio, err := h.calculator.Portfolio(ctx, tenantID)
	if err != nil {
		writeError(w, "failed to calculate portfolio revenue at risk", err)
		return
	}

	writeJSON(w, http.StatusOK, portfolio)
}

// TeamRevenueAtRisk handles GET /revenue-at-risk/team/{ownerId}.
func (h *Handler) TeamRevenueAtRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ownerID := chi.URLParam(r, "ownerId")

	portfolio, err := h.calculator.Team(ctx, tenantID, ownerID)
	if err != nil {
		writeError(w, "failed to calculate team revenue at risk", err)
		return
	}

	writeJSON(w, http.StatusOK, portfolio)
}

// Warnings handles GET /opportunities/{id}/warnings.
func (h *Handler) Warnings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	signals, err := h.warnings.ForOpportunity(ctx, tenantID, oppID)
	if err != nil {
		writeError(w, "failed to detect warnings", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"opportunityId": oppID,
		"signals":       signals,
	})
}

// CreateOpportunity handles POST /opportunities.
func (h *Handler) CreateOpportunity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var opp domain.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if opp.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if opp.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	now := time.Now().UTC()
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	opp.TenantID = tenantID
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now

	if err := h.repo.SaveOpportunity(ctx, tenantID, &opp); err != nil {
		writeError(w, "failed to save opportunity", err)
		return
	}

	writeJSON(w, http.StatusCreated, &opp)
}

// GetOpportunity handles GET /opportunities/{id}.
func (h *Handler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	opp, err := h.repo.GetOpportunity(ctx, tenantID, oppID)
	if err != nil {
		writeError(w, "failed to get opportunity", err)
		return
	}

	writeJSON(w, http.StatusOK, opp)
}

// CreateShard handles POST /opportunities/{id}/shards.
func (h *Handler) CreateShard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	oppID := chi.URLParam(r, "id")

	var shard domain.Shard
	if err := json.NewDecoder(r.Body).Decode(&shard); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch shard.Kind {
	case domain.ShardActivity, domain.ShardContact, domain.ShardCompetitor, domain.ShardRevision:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown shard kind",
		})
		return
	}

	if shard.ID == "" {
		shard.ID = uuid.New().String()
	}
	shard.TenantID = tenantID
	shard.OpportunityID = oppID
	if shard.OccurredAt.IsZero() {
		shard.OccurredAt = time.Now().UTC()
	}

	if err := h.repo.SaveShard(ctx, tenantID, &shard); err != nil {
		writeError(w, "failed to save shard", err)
		return
	}

	writeJSON(w, http.StatusCreated, &shard)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors onto the HTTP error taxonomy:
// not-found to 404, validation to 400, everything else to 500.
func writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error(msg, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": msg,
		})
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
