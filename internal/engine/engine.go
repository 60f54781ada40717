// Package engine orchestrates risk evaluations: it gathers the data one
// pass needs, fans out to the detectors, aggregates findings into a
// scored evaluation, and persists the result with its audit trail.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-crm/kestrel/internal/aggregate"
	"github.com/opensource-crm/kestrel/internal/detect"
	"github.com/opensource-crm/kestrel/internal/domain"
	"github.com/opensource-crm/kestrel/internal/telemetry"
)

// Orchestrator runs evaluation passes. All operations are tenant-scoped
// and idempotent: re-running an evaluation appends a new history entry,
// never mutates an old one.
type Orchestrator struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	aggregator *aggregate.Aggregator
	tracker    *telemetry.Tracker
	cfg        domain.EngineConfig

	rule       detect.Detector
	historical *detect.HistoricalPatternDetector
	ai         detect.Detector
	semantic   detect.Detector

	// now is swappable for tests.
	now func() time.Time
}

// Options configures an orchestrator.
type Options struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Config     domain.EngineConfig
	Tracker    *telemetry.Tracker

	RuleDetector       detect.Detector
	HistoricalDetector *detect.HistoricalPatternDetector
	AIDetector         detect.Detector
	SemanticDetector   detect.Detector
}

// New creates an orchestrator. Repository and the rule detector are
// required; the other detectors degrade to unavailable when nil.
func New(opts Options) (*Orchestrator, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if opts.RuleDetector == nil {
		return nil, fmt.Errorf("rule detector is required")
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = telemetry.NewTracker(slog.Default())
	}

	return &Orchestrator{
		repo:       opts.Repository,
		cache:      opts.Cache,
		bus:        opts.Bus,
		aggregator: aggregate.New(opts.Config),
		tracker:    tracker,
		cfg:        opts.Config,
		rule:       opts.RuleDetector,
		historical: opts.HistoricalDetector,
		ai:         opts.AIDetector,
		semantic:   opts.SemanticDetector,
		now:        time.Now,
	}, nil
}

// EvaluateOpportunity runs (or reuses) an evaluation for one
// opportunity. A prior evaluation inside the freshness window is
// returned as-is unless forceRefresh is set.
func (o *Orchestrator) EvaluateOpportunity(ctx context.Context, tenantID, oppID, callerID string, trigger domain.EvaluationTrigger, opts domain.EvaluateOptions) (*domain.RiskEvaluation, error) {
	now := o.now().UTC()

	if !opts.ForceRefresh {
		if eval := o.freshEvaluation(ctx, tenantID, oppID, now); eval != nil {
			slog.Debug("returning fresh evaluation",
				"tenant_id", tenantID,
				"opportunity_id", oppID,
				"evaluation_id", eval.ID,
			)
			return eval, nil
		}
	}

	opp, err := o.repo.GetOpportunity(ctx, tenantID, oppID)
	if err != nil {
		return nil, err
	}

	shards, err := o.repo.ListShards(ctx, tenantID, oppID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	entries, err := o.repo.GetCatalog(ctx, tenantID, opp.IndustryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk catalog: %w", err)
	}

	var history []*domain.RiskEvaluation
	if opts.IncludeHistorical {
		history, err = o.repo.ListEvaluations(ctx, tenantID, oppID, time.Time{}, now, 50)
		if err != nil {
			return nil, fmt.Errorf("failed to load evaluation history: %w", err)
		}
	}

	in := &detect.Input{
		Opportunity: opp,
		Shards:      shards,
		Entries:     entries,
		History:     history,
		Now:         now,
	}

	findings, assumptions := o.runDetectors(ctx, in, opts)
	assumptions.MissingFields = missingFields(opp)
	assumptions.DataStale = o.cfg.StaleAfter > 0 && now.Sub(opp.UpdatedAt) > o.cfg.StaleAfter

	out := o.aggregator.Aggregate(aggregate.Input{
		Findings:    findings,
		Entries:     entries,
		Assumptions: assumptions,
	})

	eval := &domain.RiskEvaluation{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		OpportunityID:  oppID,
		EvaluationDate: now,
		RiskScore:      out.RiskScore,
		CategoryScores: out.CategoryScores,
		Risks:          out.Risks,
		Assumptions:    assumptions,
		TrustLevel:     out.TrustLevel,
		QualityScore:   out.QualityScore,
		Trigger:        trigger,
		CalculatedAt:   now,
		CalculatedBy:   callerID,
	}

	if err := o.repo.AppendEvaluation(ctx, tenantID, eval); err != nil {
		return nil, fmt.Errorf("failed to persist evaluation: %w", err)
	}

	audit := &domain.AuditEntry{
		TraceID:               uuid.New().String(),
		TenantID:              tenantID,
		TargetID:              oppID,
		TargetType:            domain.TargetTypeOpportunity,
		Operation:             domain.OperationRiskEvaluation,
		Timestamp:             now,
		ScoreCalculation:      out.Steps,
		ConfidenceAdjustments: out.Adjustments,
		FinalScore:            out.RiskScore,
		Formula:               aggregate.OverallFormula,
	}
	if err := o.repo.AppendAudit(ctx, audit); err != nil {
		// The evaluation stands even when the audit append fails; the
		// breakdown query will just come back empty for this pass.
		o.tracker.Exception(ctx, "audit_append", err)
	}

	if o.cache != nil {
		if err := o.cache.SetEvaluation(ctx, tenantID, oppID, eval, o.cfg.FreshnessWindow); err != nil {
			slog.Warn("failed to cache evaluation",
				"tenant_id", tenantID,
				"opportunity_id", oppID,
				"error", err,
			)
		}
	}

	o.publishCompleted(ctx, eval)

	slog.Info("opportunity evaluated",
		"tenant_id", tenantID,
		"opportunity_id", oppID,
		"risk_score", eval.RiskScore,
		"trust_level", eval.TrustLevel,
		"trigger", trigger,
		"findings", len(eval.Risks),
	)

	return eval, nil
}

// QueueEvaluation enqueues an asynchronous evaluation request. It never
// evaluates synchronously; the worker picks the request up from the bus.
func (o *Orchestrator) QueueEvaluation(ctx context.Context, req domain.EvaluationRequest) error {
	if o.bus == nil {
		return fmt.Errorf("event bus not configured")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	if req.TraceID == "" {
		req.TraceID = uuid.New().String()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation request: %w", err)
	}

	if err := o.bus.Publish(ctx, req.TenantID, domain.TopicEvaluationRequested, payload); err != nil {
		return fmt.Errorf("failed to enqueue evaluation: %w", err)
	}

	slog.Debug("evaluation queued",
		"tenant_id", req.TenantID,
		"opportunity_id", req.OpportunityID,
		"priority", req.Priority,
		"trigger", req.Trigger,
	)

	return nil
}

// RiskEvolution returns the opportunity's score trajectory, oldest
// first.
func (o *Orchestrator) RiskEvolution(ctx context.Context, tenantID, oppID string, from, to time.Time, limit int) ([]domain.RiskEvolutionPoint, error) {
	if to.IsZero() {
		to = o.now().UTC()
	}

	evals, err := o.repo.ListEvaluations(ctx, tenantID, oppID, from, to, limit)
	if err != nil {
		return nil, err
	}

	points := make([]domain.RiskEvolutionPoint, 0, len(evals))
	for _, e := range evals {
		point := domain.RiskEvolutionPoint{
			EvaluationDate: e.EvaluationDate,
			RiskScore:      e.RiskScore,
			TrustLevel:     e.TrustLevel,
		}
		if len(e.CategoryScores) > 0 {
			point.CategoryScores = make(map[domain.RiskCategory]float64, len(e.CategoryScores))
			for cat, cs := range e.CategoryScores {
				point.CategoryScores[cat] = cs.Score
			}
		}
		points = append(points, point)
	}

	return points, nil
}

// RisksWithHistory pairs the latest evaluation with its predecessors.
// A stale latest evaluation is still returned; freshness only matters
// for evaluation reuse, not for display.
func (o *Orchestrator) RisksWithHistory(ctx context.Context, tenantID, oppID string) (*domain.RisksWithHistory, error) {
	current, err := o.repo.LatestEvaluation(ctx, tenantID, oppID)
	if err != nil {
		return nil, err
	}

	history, err := o.repo.ListEvaluations(ctx, tenantID, oppID, time.Time{}, o.now().UTC(), 20)
	if err != nil {
		return nil, err
	}

	// Drop the current evaluation from the history list.
	trimmed := make([]*domain.RiskEvaluation, 0, len(history))
	for _, e := range history {
		if e.ID == current.ID {
			continue
		}
		trimmed = append(trimmed, e)
	}

	return &domain.RisksWithHistory{
		Current: current,
		History: trimmed,
	}, nil
}

// HistoricalPatterns mines the opportunity's evaluation history for
// recurring-risk patterns without running a full evaluation.
func (o *Orchestrator) HistoricalPatterns(ctx context.Context, tenantID, oppID string) ([]detect.Pattern, error) {
	if _, err := o.repo.GetOpportunity(ctx, tenantID, oppID); err != nil {
		return nil, err
	}

	history, err := o.repo.ListEvaluations(ctx, tenantID, oppID, time.Time{}, o.now().UTC(), 50)
	if err != nil {
		return nil, err
	}

	detector := o.historical
	if detector == nil {
		detector = detect.NewHistoricalPatternDetector()
	}

	patterns := detector.Patterns(&detect.Input{History: history})
	if patterns == nil {
		patterns = []detect.Pattern{}
	}
	return patterns, nil
}

// ScoreBreakdown returns the audit trail for an opportunity's score
// derivations, newest first. The audit log is the sole source for this
// query; no evaluation is run and ErrNotFound is returned when no trail
// exists.
func (o *Orchestrator) ScoreBreakdown(ctx context.Context, tenantID, oppID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := o.repo.QueryAudit(ctx, domain.AuditQuery{
		TenantID:       tenantID,
		TargetID:       oppID,
		TargetType:     domain.TargetTypeOpportunity,
		Operation:      domain.OperationRiskEvaluation,
		Limit:          limit,
		OrderBy:        "timestamp",
		OrderDirection: "desc",
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrNotFound
	}
	return entries, nil
}

// freshEvaluation returns a prior evaluation still inside the freshness
// window, consulting the cache before the repository. Errors here never
// fail the evaluation; they just force a recompute.
func (o *Orchestrator) freshEvaluation(ctx context.Context, tenantID, oppID string, now time.Time) *domain.RiskEvaluation {
	if o.cache != nil {
		if eval, err := o.cache.GetEvaluation(ctx, tenantID, oppID); err == nil && eval != nil {
			if eval.IsFresh(now, o.cfg.FreshnessWindow) {
				return eval
			}
		}
	}

	eval, err := o.repo.LatestEvaluation(ctx, tenantID, oppID)
	if err != nil {
		return nil
	}
	if !eval.IsFresh(now, o.cfg.FreshnessWindow) {
		return nil
	}

	if o.cache != nil {
		_ = o.cache.SetEvaluation(ctx, tenantID, oppID, eval, o.cfg.FreshnessWindow)
	}
	return eval
}

// runDetectors fans out to the enabled detectors and merges their
// output. Detector failure degrades the evaluation instead of failing
// it: the finding source is marked unavailable and aggregation lowers
// trust accordingly.
func (o *Orchestrator) runDetectors(ctx context.Context, in *detect.Input, opts domain.EvaluateOptions) ([]domain.Finding, domain.Assumptions) {
	assumptions := domain.Assumptions{
		ServiceAvailability: domain.ServiceAvailability{
			RuleEngine:         true,
			HistoricalPatterns: true,
			ScoringOracle:      true,
			VectorSearch:       true,
		},
	}

	var findings []domain.Finding

	run := func(d detect.Detector, available *bool) {
		result, err := d.Detect(ctx, in)
		if err != nil {
			*available = false
			o.tracker.Event(ctx, "detector_unavailable", map[string]interface{}{
				"method": string(d.Method()),
				"error":  err.Error(),
			})
			return
		}
		findings = append(findings, result.Findings...)
		assumptions.Notes = append(assumptions.Notes, result.Notes...)
		for _, note := range result.Notes {
			if note == "semantic context truncated" {
				assumptions.ContextTruncated = true
			}
		}
	}

	// A detector that is requested but not wired is just as absent as one
	// that errored; the assumptions must say so either way.
	unwired := func(available *bool, name string) {
		*available = false
		assumptions.Notes = append(assumptions.Notes, name+" not configured")
	}

	run(o.rule, &assumptions.ServiceAvailability.RuleEngine)

	if opts.IncludeHistorical {
		if o.historical != nil {
			run(o.historical, &assumptions.ServiceAvailability.HistoricalPatterns)
		} else {
			unwired(&assumptions.ServiceAvailability.HistoricalPatterns, "historical pattern detector")
		}
	}
	if opts.IncludeAI {
		if o.ai != nil {
			run(o.ai, &assumptions.ServiceAvailability.ScoringOracle)
		} else {
			unwired(&assumptions.ServiceAvailability.ScoringOracle, "scoring oracle")
		}
	}
	if opts.IncludeSemanticDiscovery {
		if o.semantic != nil {
			run(o.semantic, &assumptions.ServiceAvailability.VectorSearch)
		} else {
			unwired(&assumptions.ServiceAvailability.VectorSearch, "vector search")
		}
	}

	return findings, assumptions
}

func (o *Orchestrator) publishCompleted(ctx context.Context, eval *domain.RiskEvaluation) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(eval)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, eval.TenantID, domain.TopicEvaluationCompleted, payload); err != nil {
		slog.Warn("failed to publish evaluation completed",
			"tenant_id", eval.TenantID,
			"opportunity_id", eval.OpportunityID,
			"error", err,
		)
	}
}

// missingFields lists opportunity fields the detectors rely on that are
// absent. Recorded in the evaluation's assumptions.
func missingFields(opp *domain.Opportunity) []string {
	var missing []string
	if opp.ExpectedCloseDate.IsZero() {
		missing = append(missing, "expectedCloseDate")
	}
	if opp.Probability == 0 {
		missing = append(missing, "probability")
	}
	if opp.StakeholderCount == 0 {
		missing = append(missing, "stakeholderCount")
	}
	if opp.LastActivityAt.IsZero() {
		missing = append(missing, "lastActivityAt")
	}
	return missing
}

// IsNotFound reports whether the error is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
