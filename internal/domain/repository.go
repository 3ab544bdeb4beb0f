// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Rule operations
	SaveRule(ctx context.Context, rule *FraudRule) error
	GetRule(ctx context.Context, ruleID uuid.UUID) (*FraudRule, error)
	GetRuleByCode(ctx context.Context, ruleCode string) (*FraudRule, error)
	ListRules(ctx context.Context) ([]*FraudRule, error)
	ListActiveRules(ctx context.Context) ([]*FraudRule, error)
	DeleteRule(ctx context.Context, ruleID uuid.UUID) error

	// Blacklist operations
	SaveBlacklistItem(ctx context.Context, item *BlacklistItem) error
	GetBlacklistItem(ctx context.Context, itemType BlacklistType, value string) (*BlacklistItem, error)
	ListBlacklistItems(ctx context.Context, itemType BlacklistType) ([]*BlacklistItem, error)
	DeleteExpiredBlacklistItems(ctx context.Context, before time.Time) (int64, error)

	// Rule event audit trail
	SaveRuleEvent(ctx context.Context, event *FraudRuleEvent) error
	GetRuleEvent(ctx context.Context, eventID uuid.UUID) (*FraudRuleEvent, error)
	ListRuleEventsByAccount(ctx context.Context, accountID uuid.UUID, since time.Time) ([]*FraudRuleEvent, error)
	ListUnresolvedRuleEvents(ctx context.Context) ([]*FraudRuleEvent, error)

	// Analysis results
	SaveAnalysisResult(ctx context.Context, result *AnalysisResult) error
	GetAnalysisResult(ctx context.Context, resultID uuid.UUID) (*AnalysisResult, error)
	GetAnalysisResultByTransaction(ctx context.Context, transactionID uuid.UUID) (*AnalysisResult, error)

	// Risk evaluations
	SaveRiskEvaluation(ctx context.Context, eval *RiskEvaluation) error
	GetRiskEvaluation(ctx context.Context, evalID uuid.UUID) (*RiskEvaluation, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	ListActiveAlerts(ctx context.Context) ([]*FraudAlert, error)

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
