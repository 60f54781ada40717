package domain

import (
	"time"
)

// Opportunity represents a sales-pipeline record being risk-scored.
type Opportunity struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Name  string `json:"name"`
	Stage string `json:"stage"` // e.g. "qualification", "proposal", "negotiation"

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Win probability as reported by the pipeline (0-1)
	Probability float64 `json:"probability"`

	ExpectedCloseDate time.Time `json:"expectedCloseDate"`
	IndustryID        string    `json:"industryId,omitempty"`
	OwnerID           string    `json:"ownerId"`
	StakeholderCount  int       `json:"stakeholderCount"`

	// Temporal
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DaysToClose returns the number of days until the expected close date.
// Negative when the close date has passed.
func (o *Opportunity) DaysToClose(now time.Time) float64 {
	return o.ExpectedCloseDate.Sub(now).Hours() / 24
}

// DaysSinceLastActivity returns the number of days since the last recorded
// activity, or a large value when no activity was ever recorded.
func (o *Opportunity) DaysSinceLastActivity(now time.Time) float64 {
	if o.LastActivityAt.IsZero() {
		return now.Sub(o.CreatedAt).Hours() / 24
	}
	return now.Sub(o.LastActivityAt).Hours() / 24
}

// ShardKind identifies the type of a related record.
type ShardKind string

const (
	ShardActivity   ShardKind = "activity"
	ShardContact    ShardKind = "contact"
	ShardCompetitor ShardKind = "competitor"
	ShardRevision   ShardKind = "revision"
)

// Shard is a related record attached to an opportunity (an activity,
// contact, competitor mention, or revision). Detectors and the early
// warning detector consume shards as evidence.
type Shard struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenantId"`
	OpportunityID string                 `json:"opportunityId"`
	Kind          ShardKind              `json:"kind"`
	OccurredAt    time.Time              `json:"occurredAt"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// ListFilter narrows opportunity enumeration (used by cascade and
// portfolio queries).
type ListFilter struct {
	Stage   string
	OwnerID string
	Limit   int
}
