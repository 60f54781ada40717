// Package warning detects early-warning signals over an opportunity's
// evaluation history and related records. Signals are derived per call;
// nothing here is persisted.
package warning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-crm/kestrel/internal/domain"
)

// Detector derives early-warning signals for opportunities.
type Detector struct {
	repo domain.Repository
	bus  domain.EventBus
	cfg  domain.EngineConfig

	now func() time.Time
}

// NewDetector creates an early-warning detector. The bus is optional;
// when present, detected signals are also published.
func NewDetector(repo domain.Repository, bus domain.EventBus, cfg domain.EngineConfig) *Detector {
	return &Detector{
		repo: repo,
		bus:  bus,
		cfg:  cfg,
		now:  time.Now,
	}
}

// ForOpportunity derives all current signals for one opportunity.
func (d *Detector) ForOpportunity(ctx context.Context, tenantID, oppID string) ([]domain.EarlyWarningSignal, error) {
	opp, err := d.repo.GetOpportunity(ctx, tenantID, oppID)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()

	shards, err := d.repo.ListShards(ctx, tenantID, oppID, now.AddDate(0, 0, -90))
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	evals, err := d.repo.ListEvaluations(ctx, tenantID, oppID, time.Time{}, now, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}

	signals := d.derive(opp, shards, evals, now)
	d.publish(ctx, tenantID, signals)
	return signals, nil
}

// derive runs every signal rule. Rules are independent; an opportunity
// can trip several at once.
func (d *Detector) derive(opp *domain.Opportunity, shards []*domain.Shard, evals []*domain.RiskEvaluation, now time.Time) []domain.EarlyWarningSignal {
	signals := []domain.EarlyWarningSignal{}

	emit := func(t domain.SignalType, sev domain.Severity, confidence float64, message string) {
		signals = append(signals, domain.EarlyWarningSignal{
			SignalID:      uuid.New().String(),
			OpportunityID: opp.ID,
			TenantID:      opp.TenantID,
			Type:          t,
			Severity:      sev,
			Message:       message,
			Confidence:    confidence,
			DetectedAt:    now,
		})
	}

	// Risk increase: latest score jumped past the configured threshold
	// relative to the previous evaluation.
	if len(evals) >= 2 {
		latest, previous := evals[len(evals)-1], evals[len(evals)-2]
		delta := latest.RiskScore - previous.RiskScore
		if delta >= d.cfg.RiskIncreaseThreshold {
			sev := domain.SeverityHigh
			if latest.RiskScore >= 0.8 {
				sev = domain.SeverityCritical
			}
			emit(domain.SignalRiskIncrease, sev, 0.9,
				fmt.Sprintf("risk score rose from %.2f to %.2f", previous.RiskScore, latest.RiskScore))
		}
	}

	// Stale opportunity: no activity inside the staleness window.
	idle := opp.DaysSinceLastActivity(now)
	staleDays := d.cfg.StaleAfter.Hours() / 24
	if staleDays > 0 && idle > staleDays {
		sev := domain.SeverityMedium
		if idle > 2*staleDays {
			sev = domain.SeverityHigh
		}
		emit(domain.SignalStaleOpportunity, sev, 0.8,
			fmt.Sprintf("no activity for %.0f days", idle))
	}

	// Missing followup: the close date is near but nothing happened
	// inside the followup window.
	followupDays := d.cfg.FollowupAfter.Hours() / 24
	if followupDays > 0 && idle > followupDays {
		daysToClose := opp.DaysToClose(now)
		if daysToClose > 0 && daysToClose <= 30 {
			emit(domain.SignalMissingFollowup, domain.SeverityHigh, 0.85,
				fmt.Sprintf("closes in %.0f days with no followup for %.0f days", daysToClose, idle))
		}
	}

	// Relationship cooling: contact activity is declining month over
	// month.
	recent := countShards(shards, domain.ShardActivity, now.AddDate(0, 0, -30), now)
	prior := countShards(shards, domain.ShardActivity, now.AddDate(0, 0, -60), now.AddDate(0, 0, -30))
	if prior >= 2 && recent*2 < prior {
		emit(domain.SignalRelationshipCooling, domain.SeverityMedium, 0.7,
			fmt.Sprintf("activity dropped from %d to %d over the last month", prior, recent))
	}

	// Competitor activity: competitor mentions in the last two weeks.
	competitors := countShards(shards, domain.ShardCompetitor, now.AddDate(0, 0, -14), now)
	if competitors > 0 {
		sev := domain.SeverityMedium
		if competitors >= 3 {
			sev = domain.SeverityHigh
		}
		emit(domain.SignalCompetitorActivity, sev, 0.75,
			fmt.Sprintf("%d competitor mentions in the last 14 days", competitors))
	}

	return signals
}

func (d *Detector) publish(ctx context.Context, tenantID string, signals []domain.EarlyWarningSignal) {
	if d.bus == nil || len(signals) == 0 {
		return
	}
	for i := range signals {
		payload, err := json.Marshal(&signals[i])
		if err != nil {
			continue
		}
		if err := d.bus.Publish(ctx, tenantID, domain.TopicEarlyWarning, payload); err != nil {
			slog.Warn("failed to publish early warning",
				"tenant_id", tenantID,
				"signal_type", signals[i].Type,
				"error", err,
			)
		}
	}
}

func countShards(shards []*domain.Shard, kind domain.ShardKind, from, to time.Time) int {
	n := 0
	for _, s := range shards {
		if s.Kind != kind {
			continue
		}
		if s.OccurredAt.Before(from) || !s.OccurredAt.Before(to) {
			continue
		}
		n++
	}
	return n
}
