// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Listing operations
	SaveListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	ListListings(ctx context.Context) ([]*Listing, error)

	// Valuation cache: the breakdown is persisted as a denormalized cache
	// on the listing for fast redisplay, never as the source of truth.
	SaveValuation(ctx context.Context, val *Valuation) error
	GetValuation(ctx context.Context, listingID string) (*Valuation, error)

	// Rule-set operations
	SaveRuleSet(ctx context.Context, rs *RuleSet) error
	GetRuleSet(ctx context.Context, rulesetID string) (*RuleSet, error)
	ListRuleSets(ctx context.Context) ([]*RuleSet, error)
	ListActiveRuleSets(ctx context.Context) ([]*RuleSet, error)
	FindRuleSetByHash(ctx context.Context, hash string) (*RuleSet, error)
	ActiveBaseline(ctx context.Context, maxPriority int) (*RuleSet, error)

	// AdoptRuleSet activates newSet and deactivates priorID in one
	// transaction. priorID may be empty for the first version.
	AdoptRuleSet(ctx context.Context, newSet *RuleSet, priorID string) error

	// Rule operations. SaveRule is the user write path and rejects writes
	// into basic-managed groups; SaveRuleSystem is the engine-owned path
	// used by hydration and adoption.
	SaveRule(ctx context.Context, rule *Rule) error
	SaveRuleSystem(ctx context.Context, rule *Rule) error
	DeactivateRule(ctx context.Context, ruleID string) error
	RulesBySource(ctx context.Context, sourceRuleID string) ([]*Rule, error)

	// Analytics
	SavePriceTarget(ctx context.Context, pt *PriceTarget) error
	GetPriceTarget(ctx context.Context, entityType, entityID string) (*PriceTarget, error)
	SavePerformanceValue(ctx context.Context, pv *PerformanceValue) error
	ListPerformanceValues(ctx context.Context, entityType string) ([]*PerformanceValue, error)

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
