package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-crm/kestrel/internal/domain"
)

// RuleDetector evaluates each active catalog entry's detection rule
// against the opportunity and its shards. Rules are CEL expressions that
// must produce a bool; a match yields a finding with the entry's declared
// confidence (1.0 unless the rule lowers it). Deterministic by design.
type RuleDetector struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program // keyed by expression
	workers  int
}

// NewRuleDetector creates a rule detector with a bounded evaluation pool.
func NewRuleDetector(workers int) (*RuleDetector, error) {
	if workers <= 0 {
		workers = 16
	}

	// CEL environment over the opportunity feature set.
	env, err := cel.NewEnv(
		cel.Variable("opp", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("stage", cel.StringType),
		cel.Variable("industry_id", cel.StringType),
		cel.Variable("days_to_close", cel.DoubleType),
		cel.Variable("days_since_last_activity", cel.DoubleType),
		cel.Variable("activity_count_30d", cel.IntType),
		cel.Variable("stakeholder_count", cel.IntType),
		cel.Variable("competitor_count", cel.IntType),
		cel.Variable("contact_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleDetector{
		env:      env,
		programs: make(map[string]cel.Program),
		workers:  workers,
	}, nil
}

// Method implements Detector.
func (d *RuleDetector) Method() domain.DetectionMethod {
	return domain.MethodRule
}

// ValidateRule compiles a detection rule without caching it. Used by the
// catalog write path to reject malformed expressions.
func (d *RuleDetector) ValidateRule(rule domain.DetectionRule) error {
	_, err := d.compile(rule.Expression)
	return err
}

// Detect implements Detector.
func (d *RuleDetector) Detect(ctx context.Context, in *Input) (Result, error) {
	entries := in.ActiveEntries()
	if len(entries) == 0 {
		return Result{}, nil
	}

	activation := d.activation(in)

	// Parallel evaluation with a semaphore-bounded pool; results are
	// indexed so output order matches catalog order.
	findings := make([]*domain.Finding, len(entries))
	notes := make([]string, len(entries))
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.workers)

	for i, entry := range entries {
		wg.Add(1)
		go func(idx int, e *domain.RiskCatalogEntry) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			finding, note := d.evaluateEntry(e, activation)
			findings[idx] = finding
			notes[idx] = note
		}(i, entry)
	}

	wg.Wait()

	var result Result
	for i := range entries {
		if findings[i] != nil {
			result.Findings = append(result.Findings, *findings[i])
		}
		if notes[i] != "" {
			result.Notes = append(result.Notes, notes[i])
		}
	}

	return result, nil
}

// evaluateEntry runs one catalog rule. Evaluation errors become notes,
// never findings and never failures.
func (d *RuleDetector) evaluateEntry(entry *domain.RiskCatalogEntry, activation map[string]any) (*domain.Finding, string) {
	if entry.DetectionRule.Expression == "" {
		return nil, ""
	}

	program, err := d.compile(entry.DetectionRule.Expression)
	if err != nil {
		return nil, fmt.Sprintf("rule %s: %v", entry.RiskID, err)
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return nil, fmt.Sprintf("rule %s: evaluation error: %v", entry.RiskID, err)
	}

	if !toBool(out) {
		return nil, ""
	}

	return &domain.Finding{
		RiskID:     entry.RiskID,
		Category:   entry.Category,
		Method:     domain.MethodRule,
		Confidence: entry.MatchConfidence(),
		Evidence: map[string]interface{}{
			"expression": entry.DetectionRule.Expression,
			"matched":    true,
		},
	}, ""
}

func (d *RuleDetector) activation(in *Input) map[string]any {
	opp := in.Opportunity
	now := in.Now
	monthAgo := now.Add(-30 * 24 * time.Hour)

	return map[string]any{
		"opp": map[string]any{
			"id":       opp.ID,
			"name":     opp.Name,
			"stage":    opp.Stage,
			"amount":   opp.Amount,
			"owner_id": opp.OwnerID,
		},
		"amount":                   opp.Amount,
		"currency":                 opp.Currency,
		"probability":              opp.Probability,
		"stage":                    opp.Stage,
		"industry_id":              opp.IndustryID,
		"days_to_close":            opp.DaysToClose(now),
		"days_since_last_activity": opp.DaysSinceLastActivity(now),
		"activity_count_30d":       int64(in.ShardCount(domain.ShardActivity, monthAgo)),
		"stakeholder_count":        int64(opp.StakeholderCount),
		"competitor_count":         int64(in.ShardCount(domain.ShardCompetitor, time.Time{})),
		"contact_count":            int64(in.ShardCount(domain.ShardContact, time.Time{})),
	}
}

// compile returns a cached program for the expression, compiling on first
// use. Rules must produce a bool: graded confidence belongs in the
// entry's defaultConfidence, not in the expression.
func (d *RuleDetector) compile(expression string) (cel.Program, error) {
	d.mu.RLock()
	program, ok := d.programs[expression]
	d.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := d.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("detection rule must return bool, got %s", ast.OutputType())
	}

	program, err := d.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	d.mu.Lock()
	d.programs[expression] = program
	d.mu.Unlock()

	return program, nil
}

func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}
