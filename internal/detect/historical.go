package detect

import (
	"context"
	"fmt"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// HistoricalPatternDetector mines an opportunity's own evaluation history
// for persistent risks. A risk that keeps reappearing across evaluations
// is more credible than any single detection, so recurring risks are
// re-emitted with recurrence-scaled confidence even when the current pass
// has no fresh signal for them.
type HistoricalPatternDetector struct {
	// MinOccurrences is how many past evaluations must contain a risk
	// before it counts as a pattern.
	MinOccurrences int

	// BaseConfidence anchors the recurrence scale.
	BaseConfidence float64
}

// NewHistoricalPatternDetector creates the detector with default tuning.
func NewHistoricalPatternDetector() *HistoricalPatternDetector {
	return &HistoricalPatternDetector{
		MinOccurrences: 2,
		BaseConfidence: 0.4,
	}
}

// Method implements Detector.
func (d *HistoricalPatternDetector) Method() domain.DetectionMethod {
	return domain.MethodHistorical
}

// Detect implements Detector.
func (d *HistoricalPatternDetector) Detect(ctx context.Context, in *Input) (Result, error) {
	if len(in.History) == 0 {
		return Result{Notes: []string{"no evaluation history for historical patterns"}}, nil
	}

	var result Result
	for _, p := range d.Patterns(in) {
		entry := in.EntryByRiskID(p.RiskID)
		if entry == nil || !entry.Active {
			continue
		}
		result.Findings = append(result.Findings, domain.Finding{
			RiskID:     p.RiskID,
			Category:   entry.Category,
			Method:     domain.MethodHistorical,
			Confidence: p.Confidence,
			Evidence: map[string]interface{}{
				"pattern":     p.Name,
				"occurrences": p.Occurrences,
				"description": p.Description,
			},
		})
	}

	return result, nil
}

// Pattern describes one recurring behavior mined from history. Also
// served standalone through the orchestrator's historical-patterns query.
type Pattern struct {
	Name        string  `json:"name"`
	RiskID      string  `json:"riskId,omitempty"`
	Description string  `json:"description"`
	Occurrences int     `json:"occurrences"`
	Confidence  float64 `json:"confidence"`
}

// Patterns extracts recurring-risk patterns from the input's history.
func (d *HistoricalPatternDetector) Patterns(in *Input) []Pattern {
	occurrences := make(map[string]int)
	order := make([]string, 0)

	for _, eval := range in.History {
		seen := make(map[string]bool)
		for _, risk := range eval.Risks {
			if seen[risk.RiskID] {
				continue
			}
			seen[risk.RiskID] = true
			if occurrences[risk.RiskID] == 0 {
				order = append(order, risk.RiskID)
			}
			occurrences[risk.RiskID]++
		}
	}

	minOcc := d.MinOccurrences
	if minOcc <= 0 {
		minOcc = 2
	}

	var patterns []Pattern
	for _, riskID := range order {
		count := occurrences[riskID]
		if count < minOcc {
			continue
		}
		// Confidence grows with recurrence, capped at 0.8: history alone
		// never outweighs a direct rule match.
		confidence := clamp01(d.BaseConfidence + 0.1*float64(count))
		if confidence > 0.8 {
			confidence = 0.8
		}
		patterns = append(patterns, Pattern{
			Name:        "recurring_risk",
			RiskID:      riskID,
			Description: fmt.Sprintf("risk %s detected in %d of %d past evaluations", riskID, count, len(in.History)),
			Occurrences: count,
			Confidence:  confidence,
		})
	}

	return patterns
}
