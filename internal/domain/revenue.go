package domain

import (
	"time"
)

// RevenueAtRisk is the financial exposure derived from one evaluation.
type RevenueAtRisk struct {
	OpportunityID string  `json:"opportunityId"`
	TenantID      string  `json:"tenantId"`
	DealValue     float64 `json:"dealValue"`
	RiskScore     float64 `json:"riskScore"`

	// RevenueAtRisk = DealValue * RiskScore.
	RevenueAtRisk float64 `json:"revenueAtRisk"`

	// RiskAdjustedValue = DealValue * (1 - RiskScore).
	RiskAdjustedValue float64 `json:"riskAdjustedValue"`

	Currency     string    `json:"currency"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

// PortfolioRevenueAtRisk aggregates per-opportunity exposure across a
// portfolio, team, or tenant. TotalRevenueAtRisk is the sum of item
// values; AverageRiskScore is deal-value weighted.
type PortfolioRevenueAtRisk struct {
	TenantID string `json:"tenantId"`

	// OwnerID is set for team-level aggregates.
	OwnerID string `json:"ownerId,omitempty"`

	OpportunityCount       int     `json:"opportunityCount"`
	TotalDealValue         float64 `json:"totalDealValue"`
	TotalRevenueAtRisk     float64 `json:"totalRevenueAtRisk"`
	TotalRiskAdjustedValue float64 `json:"totalRiskAdjustedValue"`
	AverageRiskScore       float64 `json:"averageRiskScore"`

	Currency     string          `json:"currency"`
	CalculatedAt time.Time       `json:"calculatedAt"`
	Items        []RevenueAtRisk `json:"items,omitempty"`
}
