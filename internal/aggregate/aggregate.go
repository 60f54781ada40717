// Package aggregate turns detector findings into a scored, explainable
// risk evaluation. Aggregation is pure and deterministic: the same
// findings, catalog, and configuration always produce the same scores
// and the same decision trail.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// OverallFormula is recorded verbatim in every audit entry.
const OverallFormula = "riskScore = sum(weight_c * score_c) / sum(weight_c); score_c = clamp01(sum(confidence_i * ponderation_i))"

// Input bundles one evaluation pass's raw material.
type Input struct {
	Findings    []domain.Finding
	Entries     []*domain.RiskCatalogEntry
	Assumptions domain.Assumptions
}

// Output is the scored result plus the audit trail describing how it
// was derived.
type Output struct {
	RiskScore      float64
	CategoryScores map[domain.RiskCategory]domain.CategoryScore
	Risks          []domain.RiskContribution
	TrustLevel     domain.TrustLevel
	QualityScore   float64

	Steps       []domain.CalculationStep
	Adjustments []domain.ConfidenceAdjustment
}

// Aggregator computes weighted risk scores from findings.
type Aggregator struct {
	cfg domain.EngineConfig
}

// New creates an aggregator with the given engine tunables.
func New(cfg domain.EngineConfig) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate scores one evaluation pass.
//
// Findings are first deduplicated per risk (highest confidence wins;
// detection-method priority breaks ties), then weighted by their
// catalog ponderation into per-category scores, then combined across
// all categories with the configured cross-category weights. Confidence
// adjustments never change the risk score; they lower the quality score
// and demote the trust level.
func (a *Aggregator) Aggregate(in Input) Output {
	out := Output{
		CategoryScores: make(map[domain.RiskCategory]domain.CategoryScore, len(domain.Categories)),
	}

	deduped := dedupe(in.Findings)

	out.Steps = append(out.Steps, domain.CalculationStep{
		Kind:        domain.StepFetch,
		Description: "collected detector findings",
		Inputs: map[string]interface{}{
			"findings": len(in.Findings),
			"deduped":  len(deduped),
			"catalog":  len(in.Entries),
		},
		Result: float64(len(deduped)),
	})

	byCategory := make(map[domain.RiskCategory][]domain.RiskContribution)
	for _, f := range deduped {
		entry := entryByRiskID(in.Entries, f.RiskID)
		ponderation := 1.0
		name := ""
		if entry != nil {
			ponderation = entry.DefaultPonderation
			name = entry.Name
		}
		contribution := domain.RiskContribution{
			RiskID:       f.RiskID,
			Name:         name,
			Category:     f.Category,
			Method:       f.Method,
			Confidence:   f.Confidence,
			Ponderation:  ponderation,
			Contribution: f.Confidence * ponderation,
			Explanation:  fmt.Sprintf("%.2f confidence x %.2f ponderation via %s", f.Confidence, ponderation, f.Method),
		}
		byCategory[f.Category] = append(byCategory[f.Category], contribution)
		out.Risks = append(out.Risks, contribution)
	}

	// Per-category scores, canonical category order so trails are
	// reproducible.
	var weightedSum, weightTotal float64
	for _, cat := range domain.Categories {
		contributions := byCategory[cat]
		var raw float64
		for _, c := range contributions {
			raw += c.Contribution
		}
		score := clamp01(raw)
		out.CategoryScores[cat] = domain.CategoryScore{
			Score:    score,
			Findings: contributions,
		}

		weight := a.cfg.CategoryWeight(cat)
		weightedSum += weight * score
		weightTotal += weight

		out.Steps = append(out.Steps, domain.CalculationStep{
			Kind:        domain.StepAggregation,
			Description: fmt.Sprintf("aggregated %s category", cat),
			Category:    cat,
			Inputs: map[string]interface{}{
				"findings": len(contributions),
				"raw":      raw,
				"weight":   weight,
			},
			Formula: "score_c = clamp01(sum(confidence_i * ponderation_i))",
			Result:  score,
		})
	}

	if weightTotal > 0 {
		out.RiskScore = weightedSum / weightTotal
	}

	out.Steps = append(out.Steps, domain.CalculationStep{
		Kind:        domain.StepAggregation,
		Description: "combined category scores",
		Inputs: map[string]interface{}{
			"weightedSum": weightedSum,
			"weightTotal": weightTotal,
		},
		Formula: OverallFormula,
		Result:  out.RiskScore,
	})

	out.TrustLevel, out.QualityScore, out.Adjustments = a.adjust(in.Assumptions, len(deduped))
	for _, adj := range out.Adjustments {
		out.Steps = append(out.Steps, domain.CalculationStep{
			Kind:        domain.StepConfidenceAdjustment,
			Description: adj.Reason,
			Inputs: map[string]interface{}{
				"factor": adj.Factor,
				"source": adj.Source,
			},
			Result: adj.Adjustment,
		})
	}

	return out
}

// adjust derives the trust level and quality score from the evaluation's
// assumptions. Trust starts high and drops one band per triggered
// adjustment; the quality score is the product of adjustment factors.
func (a *Aggregator) adjust(assumptions domain.Assumptions, findingCount int) (domain.TrustLevel, float64, []domain.ConfidenceAdjustment) {
	trust := domain.TrustHigh
	quality := 1.0
	var adjustments []domain.ConfidenceAdjustment

	apply := func(adj domain.ConfidenceAdjustment) {
		adjustments = append(adjustments, adj)
		quality *= adj.Adjustment
		trust = trust.Demote()
	}

	if len(assumptions.MissingFields) > 0 {
		apply(domain.ConfidenceAdjustment{
			Factor:     "missing_fields",
			Adjustment: 0.9,
			Reason:     fmt.Sprintf("%d opportunity fields missing", len(assumptions.MissingFields)),
			Source:     "assumptions",
		})
	}
	if assumptions.DataStale {
		apply(domain.ConfidenceAdjustment{
			Factor:     "data_stale",
			Adjustment: 0.85,
			Reason:     "source data older than the staleness threshold",
			Source:     "assumptions",
		})
	}
	if assumptions.ContextTruncated {
		apply(domain.ConfidenceAdjustment{
			Factor:     "context_truncated",
			Adjustment: 0.95,
			Reason:     "semantic context truncated before search",
			Source:     "assumptions",
		})
	}

	sa := assumptions.ServiceAvailability
	for _, svc := range []struct {
		name string
		up   bool
	}{
		{"rule_engine", sa.RuleEngine},
		{"historical_patterns", sa.HistoricalPatterns},
		{"scoring_oracle", sa.ScoringOracle},
		{"vector_search", sa.VectorSearch},
	} {
		if svc.up {
			continue
		}
		apply(domain.ConfidenceAdjustment{
			Factor:     "service_unavailable",
			Adjustment: 0.8,
			Reason:     fmt.Sprintf("%s unavailable during evaluation", svc.name),
			Source:     svc.name,
		})
	}

	// Nothing detected at all is its own caveat: the score is an honest
	// zero, but trust is capped at low.
	if findingCount == 0 && trustRank(trust) < trustRank(domain.TrustLow) {
		trust = domain.TrustLow
	}

	return trust, quality, adjustments
}

// dedupe keeps one finding per risk id: highest confidence wins, method
// priority breaks ties. Output order is deterministic (by risk id).
func dedupe(findings []domain.Finding) []domain.Finding {
	best := make(map[string]domain.Finding, len(findings))
	for _, f := range findings {
		current, ok := best[f.RiskID]
		if !ok {
			best[f.RiskID] = f
			continue
		}
		if f.Confidence > current.Confidence {
			best[f.RiskID] = f
			continue
		}
		if f.Confidence == current.Confidence &&
			domain.MethodPriority(f.Method) < domain.MethodPriority(current.Method) {
			best[f.RiskID] = f
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	deduped := make([]domain.Finding, 0, len(best))
	for _, id := range ids {
		deduped = append(deduped, best[id])
	}
	return deduped
}

func entryByRiskID(entries []*domain.RiskCatalogEntry, riskID string) *domain.RiskCatalogEntry {
	for _, e := range entries {
		if e.RiskID == riskID {
			return e
		}
	}
	return nil
}

func trustRank(t domain.TrustLevel) int {
	switch t {
	case domain.TrustHigh:
		return 0
	case domain.TrustMedium:
		return 1
	case domain.TrustLow:
		return 2
	}
	return 3
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
