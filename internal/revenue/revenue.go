// Package revenue derives financial exposure from risk evaluations.
// Exposure is a projection over evaluations, never stored: every query
// recomputes from the latest scores so the numbers cannot drift from
// the evaluations they summarize.
package revenue

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// Evaluator is the slice of the orchestrator the calculator needs.
type Evaluator interface {
	EvaluateOpportunity(ctx context.Context, tenantID, oppID, callerID string, trigger domain.EvaluationTrigger, opts domain.EvaluateOptions) (*domain.RiskEvaluation, error)
}

// Calculator computes revenue at risk from deal values and risk scores.
type Calculator struct {
	repo      domain.Repository
	evaluator Evaluator
}

// NewCalculator creates a calculator. The evaluator supplies a fresh
// evaluation when an opportunity has none.
func NewCalculator(repo domain.Repository, evaluator Evaluator) *Calculator {
	return &Calculator{repo: repo, evaluator: evaluator}
}

// ForOpportunity computes exposure for one opportunity, evaluating it
// first when no evaluation exists yet.
func (c *Calculator) ForOpportunity(ctx context.Context, tenantID, oppID string) (*domain.RevenueAtRisk, error) {
	opp, err := c.repo.GetOpportunity(ctx, tenantID, oppID)
	if err != nil {
		return nil, err
	}

	eval, err := c.evaluation(ctx, tenantID, oppID)
	if err != nil {
		return nil, err
	}

	rar := compute(opp, eval, time.Now().UTC())
	return &rar, nil
}

// Portfolio computes tenant-wide exposure across all opportunities.
func (c *Calculator) Portfolio(ctx context.Context, tenantID string) (*domain.PortfolioRevenueAtRisk, error) {
	return c.aggregate(ctx, tenantID, domain.ListFilter{})
}

// Team computes exposure across one owner's opportunities.
func (c *Calculator) Team(ctx context.Context, tenantID, ownerID string) (*domain.PortfolioRevenueAtRisk, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", domain.ErrValidation)
	}
	portfolio, err := c.aggregate(ctx, tenantID, domain.ListFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	portfolio.OwnerID = ownerID
	return portfolio, nil
}

func (c *Calculator) aggregate(ctx context.Context, tenantID string, filter domain.ListFilter) (*domain.PortfolioRevenueAtRisk, error) {
	opps, err := c.repo.ListOpportunities(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if len(opps) == 0 {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	portfolio := &domain.PortfolioRevenueAtRisk{
		TenantID:     tenantID,
		CalculatedAt: now,
	}

	var weightedScore float64
	for _, opp := range opps {
		eval, err := c.evaluation(ctx, tenantID, opp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s: %w", opp.ID, err)
		}

		item := compute(opp, eval, now)
		portfolio.Items = append(portfolio.Items, item)
		portfolio.OpportunityCount++
		portfolio.TotalDealValue += item.DealValue
		portfolio.TotalRevenueAtRisk += item.RevenueAtRisk
		portfolio.TotalRiskAdjustedValue += item.RiskAdjustedValue
		weightedScore += item.RiskScore * item.DealValue

		if portfolio.Currency == "" {
			portfolio.Currency = item.Currency
		}
	}

	if portfolio.TotalDealValue > 0 {
		portfolio.AverageRiskScore = weightedScore / portfolio.TotalDealValue
	} else {
		// Zero-value deals still carry scores; fall back to a simple mean.
		var sum float64
		for _, item := range portfolio.Items {
			sum += item.RiskScore
		}
		portfolio.AverageRiskScore = sum / float64(len(portfolio.Items))
	}

	return portfolio, nil
}

// evaluation returns the opportunity's latest evaluation, running a
// fresh one when history is empty.
func (c *Calculator) evaluation(ctx context.Context, tenantID, oppID string) (*domain.RiskEvaluation, error) {
	eval, err := c.repo.LatestEvaluation(ctx, tenantID, oppID)
	if err == nil {
		return eval, nil
	}
	if c.evaluator == nil {
		return nil, err
	}
	return c.evaluator.EvaluateOpportunity(ctx, tenantID, oppID, "revenue-at-risk", domain.TriggerManual, domain.DefaultEvaluateOptions())
}

func compute(opp *domain.Opportunity, eval *domain.RiskEvaluation, now time.Time) domain.RevenueAtRisk {
	return domain.RevenueAtRisk{
		OpportunityID:     opp.ID,
		TenantID:          opp.TenantID,
		DealValue:         opp.Amount,
		RiskScore:         eval.RiskScore,
		RevenueAtRisk:     opp.Amount * eval.RiskScore,
		RiskAdjustedValue: opp.Amount * (1 - eval.RiskScore),
		Currency:          opp.Currency,
		CalculatedAt:      now,
	}
}
