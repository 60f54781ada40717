package warning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// stubRepo serves one opportunity with fixed shards and evaluations.
type stubRepo struct {
	domain.Repository

	opp    *domain.Opportunity
	shards []*domain.Shard
	evals  []*domain.RiskEvaluation
}

func (r *stubRepo) GetOpportunity(ctx context.Context, tenantID string, oppID string) (*domain.Opportunity, error) {
	if r.opp == nil || r.opp.ID != oppID {
		return nil, domain.ErrNotFound
	}
	return r.opp, nil
}

func (r *stubRepo) ListShards(ctx context.Context, tenantID string, oppID string, since time.Time) ([]*domain.Shard, error) {
	return r.shards, nil
}

func (r *stubRepo) ListEvaluations(ctx context.Context, tenantID string, oppID string, from, to time.Time, limit int) ([]*domain.RiskEvaluation, error) {
	evals := r.evals
	if limit > 0 && len(evals) > limit {
		evals = evals[len(evals)-limit:]
	}
	return evals, nil
}

var clock = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// healthyOpportunity trips no signal on its own.
func healthyOpportunity() *domain.Opportunity {
	return &domain.Opportunity{
		ID:                "opp-001",
		TenantID:          "tenant-001",
		Name:              "Healthy deal",
		Amount:            100000,
		Currency:          "EUR",
		Probability:       0.6,
		ExpectedCloseDate: clock.AddDate(0, 3, 0),
		OwnerID:           "owner-001",
		StakeholderCount:  3,
		LastActivityAt:    clock.AddDate(0, 0, -2),
		UpdatedAt:         clock,
	}
}

func testDetector(repo *stubRepo) *Detector {
	d := NewDetector(repo, nil, domain.DefaultEngineConfig())
	d.now = func() time.Time { return clock }
	return d
}

func evalAt(daysAgo int, score float64) *domain.RiskEvaluation {
	return &domain.RiskEvaluation{
		ID:             "eval",
		RiskScore:      score,
		EvaluationDate: clock.AddDate(0, 0, -daysAgo),
	}
}

func activityShard(daysAgo int) *domain.Shard {
	return &domain.Shard{Kind: domain.ShardActivity, OccurredAt: clock.AddDate(0, 0, -daysAgo)}
}

func competitorShard(daysAgo int) *domain.Shard {
	return &domain.Shard{Kind: domain.ShardCompetitor, OccurredAt: clock.AddDate(0, 0, -daysAgo)}
}

func signalTypes(signals []domain.EarlyWarningSignal) map[domain.SignalType]domain.EarlyWarningSignal {
	out := make(map[domain.SignalType]domain.EarlyWarningSignal, len(signals))
	for _, s := range signals {
		out[s.Type] = s
	}
	return out
}

func TestForOpportunity(t *testing.T) {
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		d := testDetector(&stubRepo{})

		_, err := d.ForOpportunity(ctx, "tenant-001", "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("HealthyIsQuiet", func(t *testing.T) {
		d := testDetector(&stubRepo{opp: healthyOpportunity()})

		signals, err := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if err != nil {
			t.Fatalf("ForOpportunity failed: %v", err)
		}
		if len(signals) != 0 {
			t.Errorf("expected no signals, got %d: %v", len(signals), signalTypes(signals))
		}
	})

	t.Run("RiskIncrease", func(t *testing.T) {
		repo := &stubRepo{
			opp:   healthyOpportunity(),
			evals: []*domain.RiskEvaluation{evalAt(10, 0.3), evalAt(1, 0.5)},
		}
		d := testDetector(repo)

		signals, err := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if err != nil {
			t.Fatalf("ForOpportunity failed: %v", err)
		}
		s, ok := signalTypes(signals)[domain.SignalRiskIncrease]
		if !ok {
			t.Fatalf("expected risk_increase signal, got %v", signalTypes(signals))
		}
		if s.Severity != domain.SeverityHigh {
			t.Errorf("expected high severity, got %s", s.Severity)
		}
	})

	t.Run("RiskIncreaseCritical", func(t *testing.T) {
		repo := &stubRepo{
			opp:   healthyOpportunity(),
			evals: []*domain.RiskEvaluation{evalAt(10, 0.6), evalAt(1, 0.85)},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		s, ok := signalTypes(signals)[domain.SignalRiskIncrease]
		if !ok {
			t.Fatalf("expected risk_increase signal")
		}
		if s.Severity != domain.SeverityCritical {
			t.Errorf("expected critical severity at 0.85, got %s", s.Severity)
		}
	})

	t.Run("RiskIncreaseWithLongHistory", func(t *testing.T) {
		// The jump sits at the very end of a history longer than the
		// query limit; it must still be the pair that gets compared.
		var evals []*domain.RiskEvaluation
		for daysAgo := 12; daysAgo >= 2; daysAgo-- {
			evals = append(evals, evalAt(daysAgo, 0.2))
		}
		evals = append(evals, evalAt(1, 0.6))

		repo := &stubRepo{opp: healthyOpportunity(), evals: evals}
		d := testDetector(repo)

		signals, err := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if err != nil {
			t.Fatalf("ForOpportunity failed: %v", err)
		}
		s, ok := signalTypes(signals)[domain.SignalRiskIncrease]
		if !ok {
			t.Fatalf("jump at the end of a long history was missed, got %v", signalTypes(signals))
		}
		if s.Severity != domain.SeverityHigh {
			t.Errorf("expected high severity, got %s", s.Severity)
		}
	})

	t.Run("SmallIncreaseIgnored", func(t *testing.T) {
		repo := &stubRepo{
			opp:   healthyOpportunity(),
			evals: []*domain.RiskEvaluation{evalAt(10, 0.3), evalAt(1, 0.35)},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if _, ok := signalTypes(signals)[domain.SignalRiskIncrease]; ok {
			t.Errorf("delta below threshold still signalled")
		}
	})

	t.Run("StaleOpportunity", func(t *testing.T) {
		opp := healthyOpportunity()
		opp.LastActivityAt = clock.AddDate(0, 0, -20)
		d := testDetector(&stubRepo{opp: opp})

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		s, ok := signalTypes(signals)[domain.SignalStaleOpportunity]
		if !ok {
			t.Fatalf("expected stale_opportunity signal")
		}
		if s.Severity != domain.SeverityMedium {
			t.Errorf("expected medium severity at 20 days, got %s", s.Severity)
		}
	})

	t.Run("StaleEscalates", func(t *testing.T) {
		opp := healthyOpportunity()
		opp.LastActivityAt = clock.AddDate(0, 0, -40)
		d := testDetector(&stubRepo{opp: opp})

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		s, ok := signalTypes(signals)[domain.SignalStaleOpportunity]
		if !ok {
			t.Fatalf("expected stale_opportunity signal")
		}
		if s.Severity != domain.SeverityHigh {
			t.Errorf("expected high severity past twice the window, got %s", s.Severity)
		}
	})

	t.Run("MissingFollowup", func(t *testing.T) {
		opp := healthyOpportunity()
		opp.LastActivityAt = clock.AddDate(0, 0, -10)
		opp.ExpectedCloseDate = clock.AddDate(0, 0, 15)
		d := testDetector(&stubRepo{opp: opp})

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if _, ok := signalTypes(signals)[domain.SignalMissingFollowup]; !ok {
			t.Errorf("expected missing_followup signal, got %v", signalTypes(signals))
		}
	})

	t.Run("FollowupIgnoredWhenCloseIsFar", func(t *testing.T) {
		opp := healthyOpportunity()
		opp.LastActivityAt = clock.AddDate(0, 0, -10)
		opp.ExpectedCloseDate = clock.AddDate(0, 6, 0)
		d := testDetector(&stubRepo{opp: opp})

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if _, ok := signalTypes(signals)[domain.SignalMissingFollowup]; ok {
			t.Errorf("far close date still signalled missing followup")
		}
	})

	t.Run("RelationshipCooling", func(t *testing.T) {
		repo := &stubRepo{
			opp: healthyOpportunity(),
			shards: []*domain.Shard{
				activityShard(55), activityShard(50), activityShard(45), activityShard(35),
				activityShard(10),
			},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if _, ok := signalTypes(signals)[domain.SignalRelationshipCooling]; !ok {
			t.Errorf("expected relationship_cooling signal, got %v", signalTypes(signals))
		}
	})

	t.Run("SteadyActivityIsNotCooling", func(t *testing.T) {
		repo := &stubRepo{
			opp: healthyOpportunity(),
			shards: []*domain.Shard{
				activityShard(45), activityShard(35),
				activityShard(20), activityShard(10),
			},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if _, ok := signalTypes(signals)[domain.SignalRelationshipCooling]; ok {
			t.Errorf("steady activity flagged as cooling")
		}
	})

	t.Run("CompetitorActivity", func(t *testing.T) {
		repo := &stubRepo{
			opp:    healthyOpportunity(),
			shards: []*domain.Shard{competitorShard(5), competitorShard(3), competitorShard(1)},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		s, ok := signalTypes(signals)[domain.SignalCompetitorActivity]
		if !ok {
			t.Fatalf("expected competitor_activity signal")
		}
		if s.Severity != domain.SeverityHigh {
			t.Errorf("expected high severity at 3 mentions, got %s", s.Severity)
		}
	})

	t.Run("OldCompetitorMentionsIgnored", func(t *testing.T) {
		repo := &stubRepo{
			opp:    healthyOpportunity(),
			shards: []*domain.Shard{competitorShard(30), competitorShard(25)},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		if _, ok := signalTypes(signals)[domain.SignalCompetitorActivity]; ok {
			t.Errorf("mentions outside the window still signalled")
		}
	})

	t.Run("MultipleSignals", func(t *testing.T) {
		opp := healthyOpportunity()
		opp.LastActivityAt = clock.AddDate(0, 0, -20)
		repo := &stubRepo{
			opp:    opp,
			shards: []*domain.Shard{competitorShard(2)},
			evals:  []*domain.RiskEvaluation{evalAt(10, 0.2), evalAt(1, 0.6)},
		}
		d := testDetector(repo)

		signals, _ := d.ForOpportunity(ctx, "tenant-001", "opp-001")
		types := signalTypes(signals)
		for _, want := range []domain.SignalType{
			domain.SignalRiskIncrease,
			domain.SignalStaleOpportunity,
			domain.SignalCompetitorActivity,
		} {
			if _, ok := types[want]; !ok {
				t.Errorf("expected %s signal, got %v", want, types)
			}
		}
	})
}
