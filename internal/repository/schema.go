package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaOpportunities = `
CREATE TABLE IF NOT EXISTS opportunities (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    stage TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    probability REAL NOT NULL,
    expected_close_date TIMESTAMP,
    industry_id TEXT,
    owner_id TEXT,
    stakeholder_count INTEGER NOT NULL DEFAULT 0,
    last_activity_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    metadata TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_opportunities_tenant ON opportunities(tenant_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_owner ON opportunities(tenant_id, owner_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_stage ON opportunities(tenant_id, stage);
`

const schemaShards = `
CREATE TABLE IF NOT EXISTS shards (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    opportunity_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    payload TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_shards_opportunity ON shards(tenant_id, opportunity_id);
CREATE INDEX IF NOT EXISTS idx_shards_occurred ON shards(tenant_id, opportunity_id, occurred_at);
`

// Catalog entries are unique per (risk_id, scope, industry_id, tenant_id).
// Global and industry rows leave the unused owner columns empty.
const schemaCatalog = `
CREATE TABLE IF NOT EXISTS risk_catalog (
    risk_id TEXT NOT NULL,
    scope TEXT NOT NULL,
    industry_id TEXT NOT NULL DEFAULT '',
    tenant_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    description TEXT,
    category TEXT NOT NULL,
    default_ponderation REAL NOT NULL,
    detection_rule TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (risk_id, scope, industry_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_catalog_tenant ON risk_catalog(tenant_id);
CREATE INDEX IF NOT EXISTS idx_catalog_scope ON risk_catalog(scope, industry_id);
`

// Per-tenant activation overrides for global/industry entries. Tenant
// entries carry their own active flag and never appear here.
const schemaCatalogOverrides = `
CREATE TABLE IF NOT EXISTS catalog_overrides (
    tenant_id TEXT NOT NULL,
    risk_id TEXT NOT NULL,
    active INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, risk_id)
);
`

// Evaluations are append-only: one row per evaluation pass, never updated.
const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    opportunity_id TEXT NOT NULL,
    evaluation_date TIMESTAMP NOT NULL,
    risk_score REAL NOT NULL,
    category_scores TEXT NOT NULL,
    risks TEXT NOT NULL,
    assumptions TEXT NOT NULL,
    trust_level TEXT NOT NULL,
    quality_score REAL NOT NULL,
    trigger_kind TEXT NOT NULL,
    calculated_at TIMESTAMP NOT NULL,
    calculated_by TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_opportunity ON evaluations(tenant_id, opportunity_id, evaluation_date);
CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
`

// Audit entries are append-only and are the sole source for score
// breakdown queries.
const schemaAudit = `
CREATE TABLE IF NOT EXISTS audit_entries (
    trace_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    target_type TEXT NOT NULL,
    operation TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    score_calculation TEXT NOT NULL,
    confidence_adjustments TEXT,
    final_score REAL NOT NULL,
    formula TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_entries(tenant_id, target_id, operation, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOpportunities,
		schemaShards,
		schemaCatalog,
		schemaCatalogOverrides,
		schemaEvaluations,
		schemaAudit,
	}
}
