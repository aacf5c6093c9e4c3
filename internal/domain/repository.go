// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// GlobalTenantID scopes records that belong to the process rather than a tenant,
// such as metric samples and the alerts raised from them.
const GlobalTenantID = "*"

// Repository defines the interface for data persistence.
// All tenant-scoped methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Scored results
	SaveResult(ctx context.Context, tenantID string, result *EnsembleResult) error
	GetResult(ctx context.Context, tenantID string, resultID string) (*EnsembleResult, error)
	ListResultsBySubject(ctx context.Context, tenantID string, subjectID string) ([]*EnsembleResult, error)

	// Alerts
	SaveAlert(ctx context.Context, tenantID string, alert *Alert) error
	GetAlert(ctx context.Context, tenantID string, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, tenantID string, status AlertStatus, limit int) ([]*Alert, error)
	UpdateAlertStatus(ctx context.Context, tenantID string, alertID string, status AlertStatus) error

	// Metric samples (process-wide)
	SaveMetricSample(ctx context.Context, sample *MetricSample) error
	ListMetricSamples(ctx context.Context, metricType MetricType, since time.Time, limit int) ([]*MetricSample, error)

	// Operator factor rules
	SaveFactorRule(ctx context.Context, tenantID string, rule *FactorRule) error
	ListFactorRules(ctx context.Context, tenantID string) ([]*FactorRule, error)
	DeleteFactorRule(ctx context.Context, tenantID string, ruleID string) error
	// ListAllFactorRules returns every tenant's rules for a full engine reload.
	ListAllFactorRules(ctx context.Context) ([]*FactorRule, error)

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
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}

// MaxTenantIDLength bounds tenant identifiers.
const MaxTenantIDLength = 64

// ValidateTenantID rejects identifiers that could not be used as a single
// bus subject token or cache key segment. GlobalTenantID is reserved.
func ValidateTenantID(id string) error {
	if id == "" {
		return &ValidationError{Field: "tenant", Reason: "is required"}
	}
	if len(id) > MaxTenantIDLength {
		return &ValidationError{Field: "tenant", Reason: "must be at most 64 characters"}
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return &ValidationError{Field: "tenant", Reason: "may contain only letters, digits, '-' and '_'"}
		}
	}
	return nil
}
