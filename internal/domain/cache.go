package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Used to serve computed valuations without re-running the engine.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetValuation retrieves a cached valuation breakdown for a listing.
	GetValuation(ctx context.Context, listingID string) (*Valuation, error)

	// SetValuation caches a valuation breakdown for fast redisplay.
	SetValuation(ctx context.Context, listingID string, val *Valuation, ttl time.Duration) error

	// InvalidateValuations drops all cached valuations. Called when the
	// active rule-set population changes (adoption, hydration, import).
	InvalidateValuations(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
