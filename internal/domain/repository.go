// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// Account history aggregates consumed by the history provider
	CountTransactionsSince(ctx context.Context, tenantID, accountID string, since time.Time) (int64, error)
	AmountStats(ctx context.Context, tenantID, accountID string, since time.Time) (avg, std float64, n int64, err error)
	LastTransaction(ctx context.Context, tenantID, accountID string) (*Transaction, error)

	// Prediction results
	SavePrediction(ctx context.Context, tenantID string, pred *Prediction) error
	GetPrediction(ctx context.Context, tenantID string, predID string) (*Prediction, error)

	// Custom overlay rule operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Versioned model configuration operations
	SaveModelConfig(ctx context.Context, tenantID string, cfg *ModelConfig) error
	GetModelConfig(ctx context.Context, tenantID string, version string) (*ModelConfig, error)

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
