// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Applicant operations
	SaveApplicant(ctx context.Context, app *Applicant) error
	GetApplicant(ctx context.Context, id string) (*Applicant, error)
	FindLatestApplicant(ctx context.Context, companyName, taxID string) (*Applicant, error)
	ListApplicants(ctx context.Context, filter ApplicantFilter) ([]*Applicant, error)

	// SaveOutcome stores the score and the decision of one attempt atomically.
	SaveOutcome(ctx context.Context, applicantID string, score *ScoreResult, decision *Decision) error

	// Decision operations
	GetDecision(ctx context.Context, id string) (*Decision, error)
	GetDecisionByApplicant(ctx context.Context, applicantID string) (*Decision, error)
	ListPendingDecisions(ctx context.Context, priority string) ([]*Decision, error)

	// ResolveDecision moves a PENDING decision to its final state.
	// Returns ErrAlreadyResolved when the decision is no longer pending.
	ResolveDecision(ctx context.Context, id string, res Resolution) (*Decision, error)

	// Policy configuration operations
	SavePolicy(ctx context.Context, policy *RiskPolicy) error
	GetPolicy(ctx context.Context, id string) (*RiskPolicy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]*RiskPolicy, error)
	SetPolicyActive(ctx context.Context, id string, active bool) error
	DeletePolicy(ctx context.Context, id string) error

	// Aggregates
	Stats(ctx context.Context) (*ScoreStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_sslmode"`

	// PostgresDSN, when set, is used as-is instead of the fields above.
	PostgresDSN string `json:"-" yaml:"postgres_dsn"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
