// Package detect provides the four signal sources consulted per
// evaluation: rule, historical-pattern, AI, and semantic-discovery
// detectors. Detectors never fail an evaluation on partial data; they
// omit findings they cannot support and report the gap as a note.
package detect

import (
	"context"
	"errors"
	"time"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// ErrUnavailable signals that a detector's dependency is down. The
// orchestrator absorbs it into the evaluation's service availability
// flags; it is never fatal.
var ErrUnavailable = errors.New("detector unavailable")

// Input bundles everything a detector may consult for one evaluation
// pass. The orchestrator fetches it once and shares it across detectors.
type Input struct {
	Opportunity *domain.Opportunity
	Shards      []*domain.Shard
	Entries     []*domain.RiskCatalogEntry

	// History holds prior evaluations, oldest first. Consumed by the
	// historical-pattern detector only.
	History []*domain.RiskEvaluation

	Now time.Time
}

// ActiveEntries filters the catalog to active entries.
func (in *Input) ActiveEntries() []*domain.RiskCatalogEntry {
	active := make([]*domain.RiskCatalogEntry, 0, len(in.Entries))
	for _, e := range in.Entries {
		if e.Active {
			active = append(active, e)
		}
	}
	return active
}

// EntryByRiskID finds a catalog entry by risk id.
func (in *Input) EntryByRiskID(riskID string) *domain.RiskCatalogEntry {
	for _, e := range in.Entries {
		if e.RiskID == riskID {
			return e
		}
	}
	return nil
}

// ShardCount counts shards of a kind observed since the cutoff.
func (in *Input) ShardCount(kind domain.ShardKind, since time.Time) int {
	n := 0
	for _, s := range in.Shards {
		if s.Kind == kind && !s.OccurredAt.Before(since) {
			n++
		}
	}
	return n
}

// Result is a detector's output for one pass.
type Result struct {
	Findings []domain.Finding

	// Notes records data gaps for the evaluation's assumptions.
	Notes []string
}

// Detector is one independent signal source.
type Detector interface {
	// Method identifies this detector's findings.
	Method() domain.DetectionMethod

	// Detect produces zero or more findings for the opportunity.
	// Returning ErrUnavailable marks the detector's dependency as down
	// for this evaluation; any other error is treated the same way.
	Detect(ctx context.Context, in *Input) (Result, error)
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
