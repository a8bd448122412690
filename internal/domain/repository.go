// Package domain defines the core interfaces and types for FraudGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Transaction, assessment and account methods require tenantID for isolation.
// Model artifacts are process-wide.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *StoredTransaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*StoredTransaction, error)
	ListTransactions(ctx context.Context, tenantID string, limit, offset int) ([]*StoredTransaction, error)
	UpdateTransactionStatus(ctx context.Context, tenantID string, txID string, status string) error

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, rec *AssessmentRecord) error
	GetAssessmentByTx(ctx context.Context, tenantID string, txID string) (*AssessmentRecord, error)

	// Model artifacts
	SaveModelArtifact(ctx context.Context, artifact *ModelArtifact) error
	GetLatestModelArtifact(ctx context.Context) (*ModelArtifact, error)

	// Blocked accounts
	BlockAccount(ctx context.Context, tenantID string, acct *BlockedAccount) error
	IsAccountBlocked(ctx context.Context, tenantID string, phoneHash string) (bool, error)
	ListBlockedAccounts(ctx context.Context, tenantID string) ([]*BlockedAccount, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific. PostgresURL takes precedence over the discrete fields.
	PostgresURL      string `mapstructure:"postgres_url"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
