// Package worker consumes queued evaluation requests from the event
// bus. Delivery is at-least-once, so processing leans on the
// orchestrator's freshness reuse: a redelivered request inside the
// freshness window is a cheap read, not a duplicate evaluation.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-crm/kestrel/internal/domain"
	"github.com/opensource-crm/kestrel/internal/engine"
)

// Worker processes evaluation requests asynchronously from the EventBus.
type Worker struct {
	bus          domain.EventBus
	orchestrator *engine.Orchestrator

	subscriptions []domain.Subscription

	// wg tracks in-flight message handling so Stop drains before returning.
	wg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via a
	// global subscription).
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, orchestrator *engine.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		orchestrator: orchestrator,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicEvaluationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEvaluationRequested, func(ctx context.Context, msg *domain.Message) error {
		w.wg.Add(1)
		defer w.wg.Done()
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicEvaluationRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()
	return w.processRequest(ctx, msg.TenantID, msg)
}

// processRequest evaluates one queued request through the pipeline.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.EvaluationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse evaluation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	slog.Debug("processing evaluation request",
		"opportunity_id", req.OpportunityID,
		"tenant_id", tenantID,
		"trace_id", req.TraceID,
		"priority", req.Priority,
	)

	eval, err := w.orchestrator.EvaluateOpportunity(ctx, tenantID, req.OpportunityID, req.CallerID, trigger, req.Options)
	if err != nil {
		if engine.IsNotFound(err) {
			// The opportunity vanished between enqueue and processing.
			// Redelivery cannot fix that, so drop the message.
			slog.Warn("queued opportunity not found",
				"opportunity_id", req.OpportunityID,
				"tenant_id", tenantID,
			)
			return nil
		}
		slog.Error("queued evaluation failed",
			"opportunity_id", req.OpportunityID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("queued evaluation processed",
		"opportunity_id", req.OpportunityID,
		"tenant_id", tenantID,
		"risk_score", eval.RiskScore,
		"trust_level", eval.TrustLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
