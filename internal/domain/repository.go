// Package domain defines the core interfaces and types for Fraudgate.
package domain

import (
	"context"
	"time"
)

// RuleRepository persists fraud rules.
type RuleRepository interface {
	// CreateRule inserts rule and sets its ID and timestamps.
	CreateRule(ctx context.Context, rule *FraudRule) error

	// UpdateRule overwrites an existing rule and bumps UpdatedAt.
	// Returns ErrNotFound if rule.ID does not exist.
	UpdateRule(ctx context.Context, rule *FraudRule) error

	// ToggleRule flips enabled without touching any other column.
	ToggleRule(ctx context.Context, id int64) (*FraudRule, error)

	GetRule(ctx context.Context, id int64) (*FraudRule, error)
	ListRules(ctx context.Context) ([]*FraudRule, error)
	DeleteRule(ctx context.Context, id int64) error
}

// AuditRepository persists audit logs. Logs are append-only.
type AuditRepository interface {
	SaveAuditLog(ctx context.Context, log *AuditLog) error
	ListAuditLogs(ctx context.Context, offset, limit int) ([]*AuditLog, int64, error)

	// CountAudits aggregates logs processed at or after since (all logs
	// when since is zero). Last24Hours counts logs at or after dayStart.
	CountAudits(ctx context.Context, since, dayStart time.Time) (Stats, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	RuleRepository
	AuditRepository

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific. PostgresURL overrides the discrete fields.
	PostgresURL      string `yaml:"postgresUrl" json:"-"`
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}
