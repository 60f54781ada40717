// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Opportunity operations
	SaveOpportunity(ctx context.Context, tenantID string, opp *Opportunity) error
	GetOpportunity(ctx context.Context, tenantID string, oppID string) (*Opportunity, error)
	ListOpportunities(ctx context.Context, tenantID string, filter ListFilter) ([]*Opportunity, error)

	// Shard operations (related records: activities, contacts, competitors, revisions)
	SaveShard(ctx context.Context, tenantID string, shard *Shard) error
	ListShards(ctx context.Context, tenantID string, oppID string, since time.Time) ([]*Shard, error)

	// Catalog operations
	SaveCatalogEntry(ctx context.Context, entry *RiskCatalogEntry) error
	GetCatalogEntry(ctx context.Context, tenantID string, riskID string) (*RiskCatalogEntry, error)
	GetCatalog(ctx context.Context, tenantID string, industryID string) ([]*RiskCatalogEntry, error)
	DeleteCatalogEntry(ctx context.Context, tenantID string, riskID string) error
	SetCatalogEntryActive(ctx context.Context, tenantID string, riskID string, active bool) error

	// Evaluation history (append-only). ListEvaluations returns ascending
	// by evaluation date; a positive limit keeps the most recent entries.
	AppendEvaluation(ctx context.Context, tenantID string, eval *RiskEvaluation) error
	LatestEvaluation(ctx context.Context, tenantID string, oppID string) (*RiskEvaluation, error)
	ListEvaluations(ctx context.Context, tenantID string, oppID string, from, to time.Time, limit int) ([]*RiskEvaluation, error)

	// Audit trail (append-only)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	QueryAudit(ctx context.Context, q AuditQuery) ([]*AuditEntry, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
