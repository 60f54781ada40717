package domain

import (
	"time"
)

// SignalType identifies an early-warning signal.
type SignalType string

const (
	SignalRiskIncrease        SignalType = "risk_increase"
	SignalStaleOpportunity    SignalType = "stale_opportunity"
	SignalMissingFollowup     SignalType = "missing_followup"
	SignalRelationshipCooling SignalType = "relationship_cooling"
	SignalCompetitorActivity  SignalType = "competitor_activity"
)

// Severity grades an early-warning signal.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// EarlyWarningSignal is a derived alert over an opportunity's evaluation
// history and related records. Signals are computed per call and not
// persisted by the engine.
type EarlyWarningSignal struct {
	SignalID      string     `json:"signalId"`
	OpportunityID string     `json:"opportunityId"`
	TenantID      string     `json:"tenantId"`
	Type          SignalType `json:"type"`
	Severity      Severity   `json:"severity"`
	Message       string     `json:"message"`
	Confidence    float64    `json:"confidence"`
	DetectedAt    time.Time  `json:"detectedAt"`
}
