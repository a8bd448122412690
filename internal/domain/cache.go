package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetAssessment retrieves a cached assessment for a transaction.
	// Returns nil, nil on a miss.
	GetAssessment(ctx context.Context, tenantID string, txID string) (*AssessmentRecord, error)

	// SetAssessment caches the assessment of a transaction.
	SetAssessment(ctx context.Context, tenantID string, txID string, rec *AssessmentRecord, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int `mapstructure:"local_max_size"`

	// TTL of cached assessments, in seconds
	TTL int `mapstructure:"ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis
}

// TTLDuration returns the configured TTL, defaulting to five minutes.
func (c CacheConfig) TTLDuration() time.Duration {
	if c.TTL <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTL) * time.Second
}
