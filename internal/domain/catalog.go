package domain

import (
	"fmt"
	"time"
)

// RiskCategory classifies a catalog risk.
type RiskCategory string

const (
	CategoryCommercial  RiskCategory = "commercial"
	CategoryTechnical   RiskCategory = "technical"
	CategoryLegal       RiskCategory = "legal"
	CategoryFinancial   RiskCategory = "financial"
	CategoryCompetitive RiskCategory = "competitive"
	CategoryOperational RiskCategory = "operational"
)

// Categories lists all risk categories in their canonical order. Score
// aggregation iterates this slice so decision trails are deterministic.
var Categories = []RiskCategory{
	CategoryCommercial,
	CategoryTechnical,
	CategoryLegal,
	CategoryFinancial,
	CategoryCompetitive,
	CategoryOperational,
}

// Valid reports whether c is a known category.
func (c RiskCategory) Valid() bool {
	switch c {
	case CategoryCommercial, CategoryTechnical, CategoryLegal,
		CategoryFinancial, CategoryCompetitive, CategoryOperational:
		return true
	}
	return false
}

// CatalogScope is the closed set of catalog entry scopes. Code switching
// on a scope must handle every constant; the deferred global/industry
// cascade is an explicit case, not a fallthrough.
type CatalogScope string

const (
	ScopeGlobal   CatalogScope = "global"
	ScopeIndustry CatalogScope = "industry"
	ScopeTenant   CatalogScope = "tenant"
)

// Valid reports whether s is a known scope.
func (s CatalogScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeIndustry, ScopeTenant:
		return true
	}
	return false
}

// DetectionRule is the structured condition evaluated by the rule
// detector. Expression is a CEL expression over the opportunity and its
// shards; a boolean result marks the risk as present.
type DetectionRule struct {
	Expression string `json:"expression"`

	// DefaultConfidence overrides the 1.0 confidence assigned to a rule
	// match. Zero means "not set" (confidence 1.0).
	DefaultConfidence float64 `json:"defaultConfidence,omitempty"`
}

// RiskCatalogEntry is a named, weighted risk definition. Exactly one entry
// may exist per (riskId, scope, industryId?, tenantId?) tuple.
type RiskCatalogEntry struct {
	RiskID      string       `json:"riskId"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    RiskCategory `json:"category"`
	Scope       CatalogScope `json:"scope"`

	// IndustryID is set for industry-scoped entries only.
	IndustryID string `json:"industryId,omitempty"`

	// TenantID is set for tenant-scoped entries only.
	TenantID string `json:"tenantId,omitempty"`

	// DefaultPonderation is the weight a finding for this risk carries
	// within its category (0-1).
	DefaultPonderation float64 `json:"defaultPonderation"`

	DetectionRule DetectionRule `json:"detectionRule"`
	Active        bool          `json:"active"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Validate checks the entry's structural invariants.
func (e *RiskCatalogEntry) Validate() error {
	if e.RiskID == "" {
		return fmt.Errorf("%w: riskId is required", ErrValidation)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, e.Category)
	}
	if !e.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrValidation, e.Scope)
	}
	if e.DefaultPonderation < 0 || e.DefaultPonderation > 1 {
		return fmt.Errorf("%w: defaultPonderation must be in [0,1], got %v", ErrValidation, e.DefaultPonderation)
	}
	if e.DetectionRule.DefaultConfidence < 0 || e.DetectionRule.DefaultConfidence > 1 {
		return fmt.Errorf("%w: defaultConfidence must be in [0,1], got %v", ErrValidation, e.DetectionRule.DefaultConfidence)
	}
	switch e.Scope {
	case ScopeIndustry:
		if e.IndustryID == "" {
			return fmt.Errorf("%w: industry-scoped entry requires industryId", ErrValidation)
		}
	case ScopeTenant:
		if e.TenantID == "" {
			return fmt.Errorf("%w: tenant-scoped entry requires tenantId", ErrValidation)
		}
	case ScopeGlobal:
		// No owner fields.
	}
	return nil
}

// MatchConfidence returns the confidence assigned to a rule match for
// this entry.
func (e *RiskCatalogEntry) MatchConfidence() float64 {
	if e.DetectionRule.DefaultConfidence > 0 {
		return e.DetectionRule.DefaultConfidence
	}
	return 1.0
}
