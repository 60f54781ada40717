package detect

import (
	"context"
	"fmt"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// ScoringOracle is the external ML scoring service. Given a feature
// vector for an opportunity and the candidate risk ids, it returns a
// per-risk confidence in [0,1]. Implementations wrap the hosted model
// endpoint; tests supply fakes.
type ScoringOracle interface {
	ScoreRisks(ctx context.Context, tenantID string, features map[string]float64, riskIDs []string) (map[string]float64, error)
}

// AIDetector asks the scoring oracle to grade every active catalog risk
// against the opportunity's feature vector. Candidates below
// MinConfidence are dropped; the rest become findings at the oracle's
// confidence, ignoring the entry's declared ponderation until
// aggregation.
type AIDetector struct {
	oracle ScoringOracle

	// MinConfidence is the floor below which oracle scores are noise.
	MinConfidence float64
}

// NewAIDetector creates the detector around a scoring oracle.
func NewAIDetector(oracle ScoringOracle) *AIDetector {
	return &AIDetector{
		oracle:        oracle,
		MinConfidence: 0.35,
	}
}

// Method implements Detector.
func (d *AIDetector) Method() domain.DetectionMethod {
	return domain.MethodAI
}

// Detect implements Detector.
func (d *AIDetector) Detect(ctx context.Context, in *Input) (Result, error) {
	if d.oracle == nil {
		return Result{}, ErrUnavailable
	}

	entries := in.ActiveEntries()
	if len(entries) == 0 {
		return Result{}, nil
	}

	riskIDs := make([]string, len(entries))
	for i, e := range entries {
		riskIDs[i] = e.RiskID
	}

	features := Features(in)

	scores, err := d.oracle.ScoreRisks(ctx, in.Opportunity.TenantID, features, riskIDs)
	if err != nil {
		return Result{}, fmt.Errorf("scoring oracle: %w", ErrUnavailable)
	}

	var result Result
	for _, entry := range entries {
		confidence, ok := scores[entry.RiskID]
		if !ok {
			continue
		}
		confidence = clamp01(confidence)
		if confidence < d.MinConfidence {
			continue
		}
		result.Findings = append(result.Findings, domain.Finding{
			RiskID:     entry.RiskID,
			Category:   entry.Category,
			Method:     domain.MethodAI,
			Confidence: confidence,
			Evidence: map[string]interface{}{
				"model_score": confidence,
				"features":    features,
			},
		})
	}

	return result, nil
}

// Features builds the oracle's feature vector from the evaluation input.
// Feature names are part of the model contract; renaming one requires a
// model retrain.
func Features(in *Input) map[string]float64 {
	opp := in.Opportunity
	monthAgo := in.Now.AddDate(0, 0, -30)

	return map[string]float64{
		"amount":                   opp.Amount,
		"probability":              opp.Probability,
		"days_to_close":            opp.DaysToClose(in.Now),
		"days_since_last_activity": opp.DaysSinceLastActivity(in.Now),
		"activity_count_30d":       float64(in.ShardCount(domain.ShardActivity, monthAgo)),
		"stakeholder_count":        float64(opp.StakeholderCount),
	}
}
