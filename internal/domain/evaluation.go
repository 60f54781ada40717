package domain

import (
	"time"
)

// TrustLevel is a coarse confidence band summarizing evaluation
// reliability.
type TrustLevel string

const (
	TrustHigh       TrustLevel = "high"
	TrustMedium     TrustLevel = "medium"
	TrustLow        TrustLevel = "low"
	TrustUnreliable TrustLevel = "unreliable"
)

// Demote lowers the trust level by one band. Unreliable is the floor.
func (t TrustLevel) Demote() TrustLevel {
	switch t {
	case TrustHigh:
		return TrustMedium
	case TrustMedium:
		return TrustLow
	case TrustLow:
		return TrustUnreliable
	}
	return TrustUnreliable
}

// EvaluationTrigger records why an evaluation was requested.
type EvaluationTrigger string

const (
	TriggerManual             EvaluationTrigger = "manual"
	TriggerRiskCatalogCreated EvaluationTrigger = "risk_catalog_created"
	TriggerRiskCatalogUpdated EvaluationTrigger = "risk_catalog_updated"
	TriggerScheduled          EvaluationTrigger = "scheduled"
)

// QueuePriority orders queued evaluations. Delivery remains at-least-once
// with no ordering guarantee across items; priority is advisory.
type QueuePriority string

const (
	PriorityHigh   QueuePriority = "high"
	PriorityNormal QueuePriority = "normal"
	PriorityLow    QueuePriority = "low"
)

// RiskContribution is one finding's weighted contribution to the score,
// flattened into the persisted evaluation for explainability.
type RiskContribution struct {
	RiskID       string          `json:"riskId"`
	Name         string          `json:"name,omitempty"`
	Category     RiskCategory    `json:"category"`
	Method       DetectionMethod `json:"detectionMethod"`
	Confidence   float64         `json:"confidence"`
	Ponderation  float64         `json:"ponderation"`
	Contribution float64         `json:"contribution"`
	Explanation  string          `json:"explanation,omitempty"`
}

// CategoryScore is the aggregated score for one risk category.
type CategoryScore struct {
	Score    float64            `json:"score"`
	Findings []RiskContribution `json:"findings,omitempty"`
}

// RiskEvaluation is the persisted result of one evaluation pass.
// Evaluations form an append-only history per opportunity; a new
// evaluation supersedes, never mutates, its predecessors.
type RiskEvaluation struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	OpportunityID string `json:"opportunityId"`

	EvaluationDate time.Time `json:"evaluationDate"`

	// RiskScore is the overall weighted score (0-1), a deterministic
	// function of CategoryScores and the configured category weights.
	RiskScore      float64                        `json:"riskScore"`
	CategoryScores map[RiskCategory]CategoryScore `json:"categoryScores"`

	// Risks flattens all contributing findings for display.
	Risks []RiskContribution `json:"risks"`

	Assumptions  Assumptions `json:"assumptions"`
	TrustLevel   TrustLevel  `json:"trustLevel"`
	QualityScore float64     `json:"qualityScore"`

	Trigger      EvaluationTrigger `json:"trigger"`
	CalculatedAt time.Time         `json:"calculatedAt"`
	CalculatedBy string            `json:"calculatedBy"`
}

// IsFresh reports whether the evaluation is still inside the freshness
// window at the given instant.
func (e *RiskEvaluation) IsFresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.EvaluationDate) < window
}

// EvaluateOptions gates the optional detectors and the freshness cache
// for one evaluation request.
type EvaluateOptions struct {
	ForceRefresh             bool `json:"forceRefresh"`
	IncludeHistorical        bool `json:"includeHistorical"`
	IncludeAI                bool `json:"includeAI"`
	IncludeSemanticDiscovery bool `json:"includeSemanticDiscovery"`
}

// DefaultEvaluateOptions enables every optional detector.
func DefaultEvaluateOptions() EvaluateOptions {
	return EvaluateOptions{
		IncludeHistorical:        true,
		IncludeAI:                true,
		IncludeSemanticDiscovery: true,
	}
}

// RiskEvolutionPoint is one step in an opportunity's score history.
type RiskEvolutionPoint struct {
	EvaluationDate time.Time               `json:"evaluationDate"`
	RiskScore      float64                 `json:"riskScore"`
	TrustLevel     TrustLevel              `json:"trustLevel"`
	CategoryScores map[RiskCategory]float64 `json:"categoryScores,omitempty"`
}

// RisksWithHistory pairs the current findings with prior evaluations'
// findings for trend display.
type RisksWithHistory struct {
	Current *RiskEvaluation   `json:"current"`
	History []*RiskEvaluation `json:"history"`
}
