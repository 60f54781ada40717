package aggregate

import (
	"testing"

	"github.com/opensource-crm/kestrel/internal/domain"
)

func entries() []*domain.RiskCatalogEntry {
	return []*domain.RiskCatalogEntry{
		{RiskID: "budget-cut", Name: "Budget cut", Category: domain.CategoryCommercial, Scope: domain.ScopeTenant, TenantID: "tenant-001", DefaultPonderation: 0.8, Active: true},
		{RiskID: "no-champion", Name: "No champion", Category: domain.CategoryCommercial, Scope: domain.ScopeTenant, TenantID: "tenant-001", DefaultPonderation: 0.5, Active: true},
		{RiskID: "legacy-stack", Name: "Legacy stack", Category: domain.CategoryTechnical, Scope: domain.ScopeTenant, TenantID: "tenant-001", DefaultPonderation: 0.6, Active: true},
	}
}

func fullAvailability() domain.Assumptions {
	return domain.Assumptions{
		ServiceAvailability: domain.ServiceAvailability{
			RuleEngine:         true,
			HistoricalPatterns: true,
			ScoringOracle:      true,
			VectorSearch:       true,
		},
	}
}

func TestAggregate(t *testing.T) {
	agg := New(domain.DefaultEngineConfig())

	t.Run("CategoryScore", func(t *testing.T) {
		out := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 1.0},
				{RiskID: "no-champion", Category: domain.CategoryCommercial, Method: domain.MethodAI, Confidence: 0.5},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})

		// 1.0*0.8 + 0.5*0.5 = 1.05 clamped to 1.0
		got := out.CategoryScores[domain.CategoryCommercial].Score
		if got != 1.0 {
			t.Errorf("expected commercial score 1.0, got %v", got)
		}

		// All six categories appear, untouched ones at zero.
		if len(out.CategoryScores) != len(domain.Categories) {
			t.Errorf("expected %d category scores, got %d", len(domain.Categories), len(out.CategoryScores))
		}
		if s := out.CategoryScores[domain.CategoryLegal].Score; s != 0 {
			t.Errorf("expected legal score 0, got %v", s)
		}

		// Overall = 1.0/6 with default weights of 1.0 per category.
		want := 1.0 / 6.0
		if diff := out.RiskScore - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected overall %v, got %v", want, out.RiskScore)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		in := Input{
			Findings: []domain.Finding{
				{RiskID: "legacy-stack", Category: domain.CategoryTechnical, Method: domain.MethodRule, Confidence: 0.7},
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodAI, Confidence: 0.4},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		}

		first := agg.Aggregate(in)
		second := agg.Aggregate(in)

		if first.RiskScore != second.RiskScore {
			t.Errorf("scores differ: %v vs %v", first.RiskScore, second.RiskScore)
		}
		if len(first.Steps) != len(second.Steps) {
			t.Fatalf("step counts differ: %d vs %d", len(first.Steps), len(second.Steps))
		}
		for i := range first.Steps {
			if first.Steps[i].Description != second.Steps[i].Description {
				t.Errorf("step %d differs: %q vs %q", i, first.Steps[i].Description, second.Steps[i].Description)
			}
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		base := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "no-champion", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 0.5},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})
		more := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "no-champion", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 0.5},
				{RiskID: "legacy-stack", Category: domain.CategoryTechnical, Method: domain.MethodRule, Confidence: 0.6},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})

		if more.RiskScore < base.RiskScore {
			t.Errorf("adding a finding lowered the score: %v -> %v", base.RiskScore, more.RiskScore)
		}
	})

	t.Run("Bounds", func(t *testing.T) {
		findings := make([]domain.Finding, 0, 20)
		for i := 0; i < 20; i++ {
			findings = append(findings, domain.Finding{
				RiskID:     entries()[i%3].RiskID,
				Category:   entries()[i%3].Category,
				Method:     domain.MethodRule,
				Confidence: 1.0,
			})
		}
		out := agg.Aggregate(Input{Findings: findings, Entries: entries(), Assumptions: fullAvailability()})

		if out.RiskScore < 0 || out.RiskScore > 1 {
			t.Errorf("overall score out of bounds: %v", out.RiskScore)
		}
		for cat, cs := range out.CategoryScores {
			if cs.Score < 0 || cs.Score > 1 {
				t.Errorf("%s score out of bounds: %v", cat, cs.Score)
			}
		}
	})

	t.Run("ZeroFindings", func(t *testing.T) {
		out := agg.Aggregate(Input{Entries: entries(), Assumptions: fullAvailability()})

		if out.RiskScore != 0 {
			t.Errorf("expected zero score, got %v", out.RiskScore)
		}
		// An empty result is an honest zero but trust never stays high.
		if out.TrustLevel == domain.TrustHigh {
			t.Errorf("expected trust below high for zero findings, got %s", out.TrustLevel)
		}
	})

	t.Run("Dedup", func(t *testing.T) {
		out := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodSemantic, Confidence: 0.9},
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 0.6},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})

		if len(out.Risks) != 1 {
			t.Fatalf("expected 1 deduped risk, got %d", len(out.Risks))
		}
		if out.Risks[0].Confidence != 0.9 {
			t.Errorf("expected highest confidence 0.9 to win, got %v", out.Risks[0].Confidence)
		}
		if out.Risks[0].Method != domain.MethodSemantic {
			t.Errorf("expected semantic finding to win, got %s", out.Risks[0].Method)
		}
	})

	t.Run("DedupMethodTiebreak", func(t *testing.T) {
		out := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodAI, Confidence: 0.7},
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 0.7},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})

		if len(out.Risks) != 1 {
			t.Fatalf("expected 1 deduped risk, got %d", len(out.Risks))
		}
		if out.Risks[0].Method != domain.MethodRule {
			t.Errorf("expected rule to win the tie, got %s", out.Risks[0].Method)
		}
	})

	t.Run("ConfidenceAdjustments", func(t *testing.T) {
		assumptions := fullAvailability()
		assumptions.DataStale = true
		assumptions.ServiceAvailability.ScoringOracle = false

		out := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 0.8},
			},
			Entries:     entries(),
			Assumptions: assumptions,
		})

		if len(out.Adjustments) != 2 {
			t.Fatalf("expected 2 adjustments, got %d", len(out.Adjustments))
		}
		// quality = 0.85 * 0.8
		want := 0.85 * 0.8
		if diff := out.QualityScore - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected quality %v, got %v", want, out.QualityScore)
		}
		// Two demotions from high.
		if out.TrustLevel != domain.TrustLow {
			t.Errorf("expected trust low after two adjustments, got %s", out.TrustLevel)
		}
	})

	t.Run("TrailOrder", func(t *testing.T) {
		out := agg.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 1.0},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})

		if out.Steps[0].Kind != domain.StepFetch {
			t.Errorf("expected fetch step first, got %s", out.Steps[0].Kind)
		}
		// One aggregation step per category plus the combine step.
		var aggregations int
		for _, s := range out.Steps {
			if s.Kind == domain.StepAggregation {
				aggregations++
			}
		}
		if aggregations != len(domain.Categories)+1 {
			t.Errorf("expected %d aggregation steps, got %d", len(domain.Categories)+1, aggregations)
		}
	})

	t.Run("CustomWeights", func(t *testing.T) {
		cfg := domain.DefaultEngineConfig()
		cfg.CategoryWeights = map[domain.RiskCategory]float64{
			domain.CategoryCommercial: 2.0,
		}
		weighted := New(cfg)

		out := weighted.Aggregate(Input{
			Findings: []domain.Finding{
				{RiskID: "budget-cut", Category: domain.CategoryCommercial, Method: domain.MethodRule, Confidence: 1.0},
			},
			Entries:     entries(),
			Assumptions: fullAvailability(),
		})

		// commercial 1.0*0.8 = 0.8 at weight 2; five other categories at
		// weight 1 each: 1.6 / 7.
		want := 1.6 / 7.0
		if diff := out.RiskScore - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected %v, got %v", want, out.RiskScore)
		}
	})
}
