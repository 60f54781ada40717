package domain

import (
	"time"
)

// StepKind is the closed set of decision-trail step types. Serialization
// keys on this discriminator so trails stay stable across versions.
type StepKind string

const (
	StepFetch                StepKind = "fetch"
	StepAggregation          StepKind = "aggregation"
	StepConfidenceAdjustment StepKind = "confidence_adjustment"
)

// CalculationStep is one ordered step of a score computation.
type CalculationStep struct {
	Kind        StepKind               `json:"kind"`
	Description string                 `json:"description"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Formula     string                 `json:"formula,omitempty"`
	Result      float64                `json:"result"`
	Category    RiskCategory           `json:"category,omitempty"`
}

// ConfidenceAdjustment records one post-aggregation quality correction.
type ConfidenceAdjustment struct {
	Factor     string  `json:"factor"`
	Adjustment float64 `json:"adjustment"`
	Reason     string  `json:"reason"`
	Source     string  `json:"source"`
}

// OperationRiskEvaluation is the audit operation name for score
// derivations.
const OperationRiskEvaluation = "risk_evaluation"

// TargetTypeOpportunity is the audit target type for opportunity records.
const TargetTypeOpportunity = "opportunity"

// AuditEntry is the append-only record of how a score was derived. The
// engine only ever appends entries; it is the sole source of truth for the
// score breakdown query.
type AuditEntry struct {
	TraceID    string    `json:"traceId"`
	TenantID   string    `json:"tenantId"`
	TargetID   string    `json:"targetId"`
	TargetType string    `json:"targetType"`
	Operation  string    `json:"operation"`
	Timestamp  time.Time `json:"timestamp"`

	ScoreCalculation      []CalculationStep      `json:"scoreCalculation"`
	ConfidenceAdjustments []ConfidenceAdjustment `json:"confidenceAdjustments,omitempty"`
	FinalScore            float64                `json:"finalScore"`
	Formula               string                 `json:"formula"`
}

// AuditQuery filters audit entries.
type AuditQuery struct {
	TenantID       string
	TargetID       string
	TargetType     string
	Operation      string
	Limit          int
	OrderBy        string // "timestamp"
	OrderDirection string // "asc" or "desc"
}
