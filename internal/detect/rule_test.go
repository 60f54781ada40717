package detect

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-crm/kestrel/internal/domain"
)

func testOpportunity() *domain.Opportunity {
	now := time.Now().UTC()
	return &domain.Opportunity{
		ID:                "opp-001",
		TenantID:          "tenant-001",
		Name:              "Enterprise expansion",
		Stage:             "negotiation",
		Amount:            250000,
		Currency:          "EUR",
		Probability:       0.6,
		ExpectedCloseDate: now.AddDate(0, 0, 20),
		OwnerID:           "owner-001",
		StakeholderCount:  2,
		LastActivityAt:    now.AddDate(0, 0, -3),
		CreatedAt:         now.AddDate(0, -2, 0),
		UpdatedAt:         now,
	}
}

func catalogEntry(riskID string, expression string) *domain.RiskCatalogEntry {
	return &domain.RiskCatalogEntry{
		RiskID:             riskID,
		Name:               riskID,
		Category:           domain.CategoryCommercial,
		Scope:              domain.ScopeTenant,
		TenantID:           "tenant-001",
		DefaultPonderation: 0.7,
		DetectionRule:      domain.DetectionRule{Expression: expression},
		Active:             true,
	}
}

func TestRuleDetector(t *testing.T) {
	det, err := NewRuleDetector(4)
	if err != nil {
		t.Fatalf("failed to create rule detector: %v", err)
	}
	ctx := context.Background()

	t.Run("Match", func(t *testing.T) {
		in := &Input{
			Opportunity: testOpportunity(),
			Entries: []*domain.RiskCatalogEntry{
				catalogEntry("big-deal", "amount > 100000.0"),
			},
			Now: time.Now().UTC(),
		}

		result, err := det.Detect(ctx, in)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(result.Findings))
		}
		f := result.Findings[0]
		if f.RiskID != "big-deal" {
			t.Errorf("expected risk big-deal, got %s", f.RiskID)
		}
		if f.Method != domain.MethodRule {
			t.Errorf("expected method rule, got %s", f.Method)
		}
		if f.Confidence != 1.0 {
			t.Errorf("expected confidence 1.0, got %v", f.Confidence)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		in := &Input{
			Opportunity: testOpportunity(),
			Entries: []*domain.RiskCatalogEntry{
				catalogEntry("tiny-deal", "amount < 1000.0"),
			},
			Now: time.Now().UTC(),
		}

		result, err := det.Detect(ctx, in)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 0 {
			t.Errorf("expected no findings, got %d", len(result.Findings))
		}
	})

	t.Run("DefaultConfidence", func(t *testing.T) {
		entry := catalogEntry("low-probability", "probability < 0.7")
		entry.DetectionRule.DefaultConfidence = 0.6

		in := &Input{
			Opportunity: testOpportunity(),
			Entries:     []*domain.RiskCatalogEntry{entry},
			Now:         time.Now().UTC(),
		}

		result, err := det.Detect(ctx, in)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(result.Findings))
		}
		if result.Findings[0].Confidence != 0.6 {
			t.Errorf("expected confidence 0.6, got %v", result.Findings[0].Confidence)
		}
	})

	t.Run("ShardCounts", func(t *testing.T) {
		now := time.Now().UTC()
		in := &Input{
			Opportunity: testOpportunity(),
			Shards: []*domain.Shard{
				{ID: "s1", Kind: domain.ShardCompetitor, OccurredAt: now.AddDate(0, 0, -5)},
				{ID: "s2", Kind: domain.ShardCompetitor, OccurredAt: now.AddDate(0, 0, -1)},
				{ID: "s3", Kind: domain.ShardActivity, OccurredAt: now.AddDate(0, 0, -2)},
			},
			Entries: []*domain.RiskCatalogEntry{
				catalogEntry("competitor-pressure", "competitor_count >= 2"),
			},
			Now: now,
		}

		result, err := det.Detect(ctx, in)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 1 {
			t.Fatalf("expected competitor rule to match, got %d findings", len(result.Findings))
		}
	})

	t.Run("InactiveSkipped", func(t *testing.T) {
		entry := catalogEntry("disabled", "amount > 0.0")
		entry.Active = false

		in := &Input{
			Opportunity: testOpportunity(),
			Entries:     []*domain.RiskCatalogEntry{entry},
			Now:         time.Now().UTC(),
		}

		result, err := det.Detect(ctx, in)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 0 {
			t.Errorf("inactive entry produced findings")
		}
	})

	t.Run("BadExpressionBecomesNote", func(t *testing.T) {
		in := &Input{
			Opportunity: testOpportunity(),
			Entries: []*domain.RiskCatalogEntry{
				catalogEntry("broken", "amount >"),
				catalogEntry("ok", "amount > 100000.0"),
			},
			Now: time.Now().UTC(),
		}

		result, err := det.Detect(ctx, in)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 1 {
			t.Errorf("expected the valid rule to still match, got %d findings", len(result.Findings))
		}
		if len(result.Notes) != 1 {
			t.Errorf("expected 1 note for the broken rule, got %d", len(result.Notes))
		}
	})

	t.Run("ValidateRule", func(t *testing.T) {
		if err := det.ValidateRule(domain.DetectionRule{Expression: "probability < 0.3 && amount > 50000.0"}); err != nil {
			t.Errorf("valid rule rejected: %v", err)
		}
		if err := det.ValidateRule(domain.DetectionRule{Expression: "amount + 1.0"}); err == nil {
			t.Errorf("non-bool rule accepted")
		}
		if err := det.ValidateRule(domain.DetectionRule{Expression: "nonsense("}); err == nil {
			t.Errorf("malformed rule accepted")
		}
	})
}
