package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-crm/kestrel/internal/domain"
)

// Rolling cascade counters live in the shared cache so every node adds
// to the same daily tally.
const (
	cascadeQueuedCounter = "cascade:queued"
	cascadeErrorCounter  = "cascade:errors"
	cascadeCounterWindow = 24 * time.Hour
)

// CascadeResult summarizes one cascade pass. Items fail independently:
// one bad enqueue never aborts the rest of the fan-out.
type CascadeResult struct {
	RiskID      string `json:"riskId"`
	Scope       string `json:"scope"`
	Candidates  int    `json:"candidates"`
	QueuedCount int    `json:"queuedCount"`
	ErrorCount  int    `json:"errorCount"`
	Truncated   bool   `json:"truncated"`
}

// CascadeReevaluate queues a re-evaluation for every opportunity a
// catalog change can affect. Fan-out is bounded by
// CascadeMaxOpportunities and enqueues run on a bounded worker pool.
//
// Only tenant-scoped changes cascade today. Global and industry scopes
// would fan out across every tenant; that path is deferred and recorded
// as a telemetry event so the deferral stays visible in operations.
func (o *Orchestrator) CascadeReevaluate(ctx context.Context, entry *domain.RiskCatalogEntry, trigger domain.EvaluationTrigger) (*CascadeResult, error) {
	result := &CascadeResult{
		RiskID: entry.RiskID,
		Scope:  string(entry.Scope),
	}

	switch entry.Scope {
	case domain.ScopeTenant:
		// Cascades below.
	case domain.ScopeGlobal, domain.ScopeIndustry:
		o.tracker.Event(ctx, "cascade_deferred", map[string]interface{}{
			"risk_id": entry.RiskID,
			"scope":   string(entry.Scope),
			"reason":  "cross-tenant cascade not implemented",
		})
		return result, nil
	default:
		return nil, fmt.Errorf("%w: unknown catalog scope %q", domain.ErrValidation, entry.Scope)
	}

	tenantID := entry.TenantID

	max := o.cfg.CascadeMaxOpportunities
	if max <= 0 {
		max = 1000
	}

	// Fetch one extra to detect truncation.
	opps, err := o.repo.ListOpportunities(ctx, tenantID, domain.ListFilter{Limit: max + 1})
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities for cascade: %w", err)
	}
	if len(opps) > max {
		opps = opps[:max]
		result.Truncated = true
	}
	result.Candidates = len(opps)

	workers := o.cfg.CascadeWorkers
	if workers <= 0 {
		workers = 8
	}

	traceID := uuid.New().String()
	var queued, failed int
	var queued24h, errors24h int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for _, opp := range opps {
		wg.Add(1)
		go func(opp *domain.Opportunity) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			err := o.QueueEvaluation(ctx, domain.EvaluationRequest{
				OpportunityID: opp.ID,
				TenantID:      tenantID,
				CallerID:      "cascade",
				Trigger:       trigger,
				Priority:      domain.PriorityLow,
				Options:       domain.DefaultEvaluateOptions(),
				TraceID:       traceID,
			})

			counter := cascadeQueuedCounter
			if err != nil {
				counter = cascadeErrorCounter
			}
			total := o.bumpCascadeCounter(ctx, tenantID, counter)

			mu.Lock()
			if err != nil {
				failed++
				if total > errors24h {
					errors24h = total
				}
			} else {
				queued++
				if total > queued24h {
					queued24h = total
				}
			}
			mu.Unlock()

			if err != nil {
				slog.Warn("cascade enqueue failed",
					"tenant_id", tenantID,
					"opportunity_id", opp.ID,
					"risk_id", entry.RiskID,
					"error", err,
				)
			}
		}(opp)
	}

	wg.Wait()

	result.QueuedCount = queued
	result.ErrorCount = failed

	event := map[string]interface{}{
		"tenant_id":    tenantID,
		"risk_id":      entry.RiskID,
		"trigger":      string(trigger),
		"candidates":   result.Candidates,
		"queued_count": result.QueuedCount,
		"error_count":  result.ErrorCount,
		"truncated":    result.Truncated,
	}
	if queued24h > 0 || errors24h > 0 {
		event["queued_24h"] = queued24h
		event["errors_24h"] = errors24h
	}
	o.tracker.Event(ctx, "cascade_completed", event)
	o.publishCascadeCompleted(ctx, tenantID, result)

	return result, nil
}

// bumpCascadeCounter adds one enqueue outcome to the tenant's rolling
// tally. Accounting is best effort: no cache or a failed increment
// returns 0 and never blocks the cascade.
func (o *Orchestrator) bumpCascadeCounter(ctx context.Context, tenantID, key string) int64 {
	if o.cache == nil {
		return 0
	}
	n, err := o.cache.IncrementCounter(ctx, tenantID, key, cascadeCounterWindow)
	if err != nil {
		return 0
	}
	return n
}

func (o *Orchestrator) publishCascadeCompleted(ctx context.Context, tenantID string, result *CascadeResult) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, tenantID, domain.TopicCascadeCompleted, payload); err != nil {
		slog.Warn("failed to publish cascade completed",
			"tenant_id", tenantID,
			"risk_id", result.RiskID,
			"error", err,
		)
	}
}
