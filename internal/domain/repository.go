package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Deal operations
	CreateDeal(ctx context.Context, deal *Deal) error
	GetDeal(ctx context.Context, dealID string) (*Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]*Deal, error)

	// UpdateDeal writes every mutable deal column when the stored version
	// still equals expectedVersion, and bumps the version. A stale version
	// returns ErrConflict and writes nothing.
	UpdateDeal(ctx context.Context, deal *Deal, expectedVersion int64) error

	// Policy operations
	SavePolicy(ctx context.Context, policy *IncentivePolicy) error
	GetPolicy(ctx context.Context, policyID string) (*IncentivePolicy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]*IncentivePolicy, error)

	// Onboarding operations
	GetProgress(ctx context.Context, userID string) (*OnboardingProgress, error)
	SaveProgress(ctx context.Context, progress *OnboardingProgress) error

	// Collaborator records
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error)
	SaveNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string) ([]*Notification, error)

	// Risk rule configuration
	SaveRiskRule(ctx context.Context, rule *RiskRule) error
	ListRiskRules(ctx context.Context) ([]*RiskRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
