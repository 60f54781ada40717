// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-crm/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveOpportunity stores or updates an opportunity with tenant isolation.
func (r *SQLRepository) SaveOpportunity(ctx context.Context, tenantID string, opp *domain.Opportunity) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	metadata, _ := json.Marshal(opp.Metadata)

	query := `
		INSERT INTO opportunities (
			id, tenant_id, name, stage, amount, currency, probability,
			expected_close_date, industry_id, owner_id, stakeholder_count,
			last_activity_at, created_at, updated_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			stage = excluded.stage,
			amount = excluded.amount,
			currency = excluded.currency,
			probability = excluded.probability,
			expected_close_date = excluded.expected_close_date,
			industry_id = excluded.industry_id,
			owner_id = excluded.owner_id,
			stakeholder_count = excluded.stakeholder_count,
			last_activity_at = excluded.last_activity_at,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		opp.ID, tenantID, opp.Name, opp.Stage,
		opp.Amount, opp.Currency, opp.Probability,
		opp.ExpectedCloseDate, opp.IndustryID, opp.OwnerID, opp.StakeholderCount,
		opp.LastActivityAt, opp.CreatedAt, opp.UpdatedAt,
		string(metadata),
	)
	return err
}

// GetOpportunity retrieves an opportunity by ID with tenant isolation.
func (r *SQLRepository) GetOpportunity(ctx context.Context, tenantID string, oppID string) (*domain.Opportunity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, name, stage, amount, currency, probability,
			   expected_close_date, industry_id, owner_id, stakeholder_count,
			   last_activity_at, created_at, updated_at, metadata
		FROM opportunities
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, oppID)
	opp, err := scanOpportunity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return opp, err
}

// ListOpportunities enumerates a tenant's opportunities with an optional
// stage/owner filter and limit. Used by cascade fan-out and portfolio
// aggregation.
func (r *SQLRepository) ListOpportunities(ctx context.Context, tenantID string, filter domain.ListFilter) ([]*domain.Opportunity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, name, stage, amount, currency, probability,
			   expected_close_date, industry_id, owner_id, stakeholder_count,
			   last_activity_at, created_at, updated_at, metadata
		FROM opportunities
		WHERE tenant_id = ?
	`
	args := []interface{}{tenantID}

	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []*domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, err
		}
		opps = append(opps, opp)
	}

	return opps, rows.Err()
}

func scanOpportunity(scan func(dest ...interface{}) error) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	var metadata sql.NullString
	var industryID, ownerID sql.NullString
	var closeDate, lastActivity sql.NullTime

	err := scan(
		&opp.ID, &opp.TenantID, &opp.Name, &opp.Stage,
		&opp.Amount, &opp.Currency, &opp.Probability,
		&closeDate, &industryID, &ownerID, &opp.StakeholderCount,
		&lastActivity, &opp.CreatedAt, &opp.UpdatedAt,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	opp.ExpectedCloseDate = closeDate.Time
	opp.LastActivityAt = lastActivity.Time
	opp.IndustryID = industryID.String
	opp.OwnerID = ownerID.String
	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &opp.Metadata)
	}

	return &opp, nil
}

// SaveShard stores a related record with tenant isolation.
func (r *SQLRepository) SaveShard(ctx context.Context, tenantID string, shard *domain.Shard) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	payload, _ := json.Marshal(shard.Payload)

	query := `
		INSERT INTO shards (id, tenant_id, opportunity_id, kind, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			kind = excluded.kind,
			occurred_at = excluded.occurred_at,
			payload = excluded.payload
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		shard.ID, tenantID, shard.OpportunityID, string(shard.Kind),
		shard.OccurredAt, string(payload),
	)
	return err
}

// ListShards retrieves an opportunity's related records since a timestamp.
func (r *SQLRepository) ListShards(ctx context.Context, tenantID string, oppID string, since time.Time) ([]*domain.Shard, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, opportunity_id, kind, occurred_at, payload
		FROM shards
		WHERE tenant_id = ? AND opportunity_id = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, oppID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shards []*domain.Shard
	for rows.Next() {
		var s domain.Shard
		var kind string
		var payload sql.NullString

		if err := rows.Scan(&s.ID, &s.TenantID, &s.OpportunityID, &kind, &s.OccurredAt, &payload); err != nil {
			return nil, err
		}
		s.Kind = domain.ShardKind(kind)
		if payload.String != "" {
			json.Unmarshal([]byte(payload.String), &s.Payload)
		}
		shards = append(shards, &s)
	}

	return shards, rows.Err()
}

// SaveCatalogEntry stores or updates a catalog entry. The entry is
// validated before writing; ponderation out of range is a validation
// error, not a silent clamp.
func (r *SQLRepository) SaveCatalogEntry(ctx context.Context, entry *domain.RiskCatalogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	rule, _ := json.Marshal(entry.DetectionRule)

	active := 0
	if entry.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO risk_catalog (
			risk_id, scope, industry_id, tenant_id, name, description,
			category, default_ponderation, detection_rule, active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(risk_id, scope, industry_id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			default_ponderation = excluded.default_ponderation,
			detection_rule = excluded.detection_rule,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.RiskID, string(entry.Scope), entry.IndustryID, entry.TenantID,
		entry.Name, entry.Description, string(entry.Category),
		entry.DefaultPonderation, string(rule), active,
		now, now,
	)
	return err
}

// GetCatalogEntry resolves a risk id for a tenant. Tenant-scoped entries
// shadow industry entries, which shadow global ones. Industry entries
// only resolve when the tenant has opportunities in that industry.
func (r *SQLRepository) GetCatalogEntry(ctx context.Context, tenantID string, riskID string) (*domain.RiskCatalogEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT risk_id, scope, industry_id, tenant_id, name, description,
			   category, default_ponderation, detection_rule, active,
			   created_at, updated_at
		FROM risk_catalog
		WHERE risk_id = ?
		  AND ((scope = 'tenant' AND tenant_id = ?)
		   OR  (scope = 'global')
		   OR  (scope = 'industry' AND industry_id IN (
				SELECT DISTINCT industry_id FROM opportunities WHERE tenant_id = ?)))
		ORDER BY CASE scope WHEN 'tenant' THEN 0 WHEN 'industry' THEN 1 ELSE 2 END
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), riskID, tenantID, tenantID)
	entry, err := scanCatalogEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return entry, err
}

// GetCatalog returns the merged catalog visible to a tenant: global
// entries, entries for the tenant's industry, and the tenant's own
// entries. Tenant copies shadow same-id global/industry entries, and
// per-tenant activation overrides are applied to the shared scopes.
func (r *SQLRepository) GetCatalog(ctx context.Context, tenantID string, industryID string) ([]*domain.RiskCatalogEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT risk_id, scope, industry_id, tenant_id, name, description,
			   category, default_ponderation, detection_rule, active,
			   created_at, updated_at
		FROM risk_catalog
		WHERE (scope = 'global')
		   OR (scope = 'industry' AND industry_id = ?)
		   OR (scope = 'tenant' AND tenant_id = ?)
		ORDER BY CASE scope WHEN 'tenant' THEN 0 WHEN 'industry' THEN 1 ELSE 2 END, risk_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), industryID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var entries []*domain.RiskCatalogEntry
	for rows.Next() {
		entry, err := scanCatalogEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		if seen[entry.RiskID] {
			continue // shadowed by a narrower scope
		}
		seen[entry.RiskID] = true
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.applyOverrides(ctx, tenantID, entries); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *SQLRepository) applyOverrides(ctx context.Context, tenantID string, entries []*domain.RiskCatalogEntry) error {
	query := `SELECT risk_id, active FROM catalog_overrides WHERE tenant_id = ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var riskID string
		var active int
		if err := rows.Scan(&riskID, &active); err != nil {
			return err
		}
		overrides[riskID] = active == 1
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		if e.Scope == domain.ScopeTenant {
			continue // tenant entries carry their own flag
		}
		if active, ok := overrides[e.RiskID]; ok {
			e.Active = active
		}
	}
	return nil
}

func scanCatalogEntry(scan func(dest ...interface{}) error) (*domain.RiskCatalogEntry, error) {
	var e domain.RiskCatalogEntry
	var scope, category, rule string
	var description sql.NullString
	var active int

	err := scan(
		&e.RiskID, &scope, &e.IndustryID, &e.TenantID,
		&e.Name, &description, &category,
		&e.DefaultPonderation, &rule, &active,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Scope = domain.CatalogScope(scope)
	e.Category = domain.RiskCategory(category)
	e.Description = description.String
	e.Active = active == 1
	if err := json.Unmarshal([]byte(rule), &e.DetectionRule); err != nil {
		return nil, fmt.Errorf("failed to parse detection rule for %s: %w", e.RiskID, err)
	}

	return &e, nil
}

// DeleteCatalogEntry removes a tenant-scoped entry. Global and industry
// entries are shared and cannot be deleted through a tenant.
func (r *SQLRepository) DeleteCatalogEntry(ctx context.Context, tenantID string, riskID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `DELETE FROM risk_catalog WHERE scope = 'tenant' AND tenant_id = ? AND risk_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, riskID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetCatalogEntryActive toggles an entry for a tenant. Tenant entries are
// updated in place; global/industry entries get a per-tenant override row.
func (r *SQLRepository) SetCatalogEntryActive(ctx context.Context, tenantID string, riskID string, active bool) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	entry, err := r.GetCatalogEntry(ctx, tenantID, riskID)
	if err != nil {
		return err
	}

	activeInt := 0
	if active {
		activeInt = 1
	}
	now := time.Now().UTC()

	switch entry.Scope {
	case domain.ScopeTenant:
		query := `UPDATE risk_catalog SET active = ?, updated_at = ? WHERE scope = 'tenant' AND tenant_id = ? AND risk_id = ?`
		_, err = r.db.ExecContext(ctx, r.rebind(query), activeInt, now, tenantID, riskID)
		return err
	case domain.ScopeGlobal, domain.ScopeIndustry:
		query := `
			INSERT INTO catalog_overrides (tenant_id, risk_id, active, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant_id, risk_id) DO UPDATE SET
				active = excluded.active,
				updated_at = excluded.updated_at
		`
		_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, riskID, activeInt, now)
		return err
	}
	return fmt.Errorf("%w: unknown scope %q", domain.ErrValidation, entry.Scope)
}

// AppendEvaluation stores an evaluation. The history is append-only:
// concurrent writers insert distinct rows and never overwrite.
func (r *SQLRepository) AppendEvaluation(ctx context.Context, tenantID string, eval *domain.RiskEvaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	categoryScores, _ := json.Marshal(eval.CategoryScores)
	risks, _ := json.Marshal(eval.Risks)
	assumptions, _ := json.Marshal(eval.Assumptions)

	query := `
		INSERT INTO evaluations (
			id, tenant_id, opportunity_id, evaluation_date, risk_score,
			category_scores, risks, assumptions, trust_level, quality_score,
			trigger_kind, calculated_at, calculated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.OpportunityID, eval.EvaluationDate, eval.RiskScore,
		string(categoryScores), string(risks), string(assumptions),
		string(eval.TrustLevel), eval.QualityScore,
		string(eval.Trigger), eval.CalculatedAt, eval.CalculatedBy,
	)
	return err
}

// LatestEvaluation returns the most recent evaluation for an opportunity.
func (r *SQLRepository) LatestEvaluation(ctx context.Context, tenantID string, oppID string) (*domain.RiskEvaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, opportunity_id, evaluation_date, risk_score,
			   category_scores, risks, assumptions, trust_level, quality_score,
			   trigger_kind, calculated_at, calculated_by
		FROM evaluations
		WHERE tenant_id = ? AND opportunity_id = ?
		ORDER BY evaluation_date DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, oppID)
	eval, err := scanEvaluation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return eval, err
}

// ListEvaluations returns an opportunity's evaluation history ordered by
// evaluation date ascending, optionally bounded by a date range. A
// positive limit keeps the most recent entries, not the oldest: callers
// reading evals[len-1] as the latest stay correct however long the
// history grows.
func (r *SQLRepository) ListEvaluations(ctx context.Context, tenantID string, oppID string, from, to time.Time, limit int) ([]*domain.RiskEvaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, opportunity_id, evaluation_date, risk_score,
			   category_scores, risks, assumptions, trust_level, quality_score,
			   trigger_kind, calculated_at, calculated_by
		FROM evaluations
		WHERE tenant_id = ? AND opportunity_id = ?
	`
	args := []interface{}{tenantID, oppID}

	if !from.IsZero() {
		query += " AND evaluation_date >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		query += " AND evaluation_date <= ?"
		args = append(args, to)
	}
	if limit > 0 {
		// Take the most recent N, then restore ascending order below.
		query += " ORDER BY evaluation_date DESC LIMIT ?"
		args = append(args, limit)
	} else {
		query += " ORDER BY evaluation_date ASC"
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.RiskEvaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows.Scan)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 {
		for i, j := 0, len(evals)-1; i < j; i, j = i+1, j-1 {
			evals[i], evals[j] = evals[j], evals[i]
		}
	}

	return evals, nil
}

func scanEvaluation(scan func(dest ...interface{}) error) (*domain.RiskEvaluation, error) {
	var e domain.RiskEvaluation
	var categoryScores, risks, assumptions, trustLevel, trigger string

	err := scan(
		&e.ID, &e.TenantID, &e.OpportunityID, &e.EvaluationDate, &e.RiskScore,
		&categoryScores, &risks, &assumptions, &trustLevel, &e.QualityScore,
		&trigger, &e.CalculatedAt, &e.CalculatedBy,
	)
	if err != nil {
		return nil, err
	}

	e.TrustLevel = domain.TrustLevel(trustLevel)
	e.Trigger = domain.EvaluationTrigger(trigger)
	json.Unmarshal([]byte(categoryScores), &e.CategoryScores)
	json.Unmarshal([]byte(risks), &e.Risks)
	json.Unmarshal([]byte(assumptions), &e.Assumptions)

	return &e, nil
}

// AppendAudit stores a decision-trail entry. Entries are never updated or
// deleted.
func (r *SQLRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	steps, _ := json.Marshal(entry.ScoreCalculation)
	adjustments, _ := json.Marshal(entry.ConfidenceAdjustments)

	query := `
		INSERT INTO audit_entries (
			trace_id, tenant_id, target_id, target_type, operation,
			timestamp, score_calculation, confidence_adjustments,
			final_score, formula
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.TraceID, entry.TenantID, entry.TargetID, entry.TargetType,
		entry.Operation, entry.Timestamp, string(steps), string(adjustments),
		entry.FinalScore, entry.Formula,
	)
	return err
}

// QueryAudit retrieves audit entries matching the filter.
func (r *SQLRepository) QueryAudit(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditEntry, error) {
	if q.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT trace_id, tenant_id, target_id, target_type, operation,
			   timestamp, score_calculation, confidence_adjustments,
			   final_score, formula
		FROM audit_entries
		WHERE tenant_id = ?
	`
	args := []interface{}{q.TenantID}

	if q.TargetID != "" {
		query += " AND target_id = ?"
		args = append(args, q.TargetID)
	}
	if q.TargetType != "" {
		query += " AND target_type = ?"
		args = append(args, q.TargetType)
	}
	if q.Operation != "" {
		query += " AND operation = ?"
		args = append(args, q.Operation)
	}

	direction := "DESC"
	if q.OrderDirection == "asc" {
		direction = "ASC"
	}
	query += " ORDER BY timestamp " + direction

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var steps string
		var adjustments sql.NullString

		if err := rows.Scan(
			&e.TraceID, &e.TenantID, &e.TargetID, &e.TargetType, &e.Operation,
			&e.Timestamp, &steps, &adjustments, &e.FinalScore, &e.Formula,
		); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(steps), &e.ScoreCalculation)
		if adjustments.String != "" {
			json.Unmarshal([]byte(adjustments.String), &e.ConfidenceAdjustments)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
