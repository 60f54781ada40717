package detect

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// SemanticMatch is one vector-search hit: a catalog risk whose
// description is semantically close to the opportunity's recent notes.
type SemanticMatch struct {
	RiskID     string
	Similarity float64
	ShardIDs   []string
}

// VectorSearcher finds catalog risks semantically similar to free-text
// context. Implementations wrap an embedding index; tests supply fakes.
type VectorSearcher interface {
	SimilarRisks(ctx context.Context, tenantID string, query string, limit int) ([]SemanticMatch, error)
}

// SemanticDetector surfaces risks whose catalog descriptions resemble
// the opportunity's recent activity text. Similarity is discounted
// before becoming confidence: resemblance is weaker evidence than a
// matched rule.
type SemanticDetector struct {
	searcher VectorSearcher

	// MaxQueryChars truncates the context sent to the index. Truncation
	// is recorded as a note so the evaluation's assumptions reflect it.
	MaxQueryChars int

	// MinSimilarity drops weak matches.
	MinSimilarity float64

	// Limit caps matches requested per evaluation.
	Limit int
}

// NewSemanticDetector creates the detector around a vector searcher.
func NewSemanticDetector(searcher VectorSearcher) *SemanticDetector {
	return &SemanticDetector{
		searcher:      searcher,
		MaxQueryChars: 4000,
		MinSimilarity: 0.5,
		Limit:         10,
	}
}

// Method implements Detector.
func (d *SemanticDetector) Method() domain.DetectionMethod {
	return domain.MethodSemantic
}

// Detect implements Detector.
func (d *SemanticDetector) Detect(ctx context.Context, in *Input) (Result, error) {
	if d.searcher == nil {
		return Result{}, ErrUnavailable
	}

	query, truncated := d.buildQuery(in)
	if query == "" {
		return Result{Notes: []string{"no textual context for semantic discovery"}}, nil
	}

	matches, err := d.searcher.SimilarRisks(ctx, in.Opportunity.TenantID, query, d.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", ErrUnavailable)
	}

	var result Result
	if truncated {
		result.Notes = append(result.Notes, "semantic context truncated")
	}

	for _, m := range matches {
		if m.Similarity < d.MinSimilarity {
			continue
		}
		entry := in.EntryByRiskID(m.RiskID)
		if entry == nil || !entry.Active {
			continue
		}
		// Similarity is not confidence; discount it.
		confidence := clamp01(m.Similarity * 0.9)
		result.Findings = append(result.Findings, domain.Finding{
			RiskID:       m.RiskID,
			Category:     entry.Category,
			Method:       domain.MethodSemantic,
			Confidence:   confidence,
			SourceShards: m.ShardIDs,
			Evidence: map[string]interface{}{
				"similarity": m.Similarity,
			},
		})
	}

	return result, nil
}

// buildQuery concatenates the opportunity's name with its recent
// activity and revision text, newest first, up to MaxQueryChars.
func (d *SemanticDetector) buildQuery(in *Input) (string, bool) {
	var b strings.Builder
	b.WriteString(in.Opportunity.Name)

	for i := len(in.Shards) - 1; i >= 0; i-- {
		s := in.Shards[i]
		if s.Kind != domain.ShardActivity && s.Kind != domain.ShardRevision {
			continue
		}
		text := shardText(s)
		if text == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(text)
	}

	query := strings.TrimSpace(b.String())
	if d.MaxQueryChars > 0 && len(query) > d.MaxQueryChars {
		// Never cut through a multi-byte rune.
		cut := d.MaxQueryChars
		for cut > 0 && !utf8.RuneStart(query[cut]) {
			cut--
		}
		return query[:cut], true
	}
	return query, false
}

// shardText extracts the free-text portion of a shard payload.
func shardText(s *domain.Shard) string {
	for _, key := range []string{"summary", "note", "text", "description"} {
		if v, ok := s.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
