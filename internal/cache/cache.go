package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.TTLDuration()
	if l1TTL > time.Minute {
		l1TTL = time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetAssessment retrieves a cached assessment from L1, then L2.
func (c *TwoPhaseCache) GetAssessment(ctx context.Context, tenantID string, txID string) (*domain.AssessmentRecord, error) {
	return getAssessment(ctx, c, tenantID, txID)
}

// SetAssessment caches an assessment in both L1 and L2.
func (c *TwoPhaseCache) SetAssessment(ctx context.Context, tenantID string, txID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	return setAssessment(ctx, c, tenantID, txID, rec, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// ErrTenantRequired is returned for operations without a tenant.
var ErrTenantRequired = errors.New("tenantID is required")

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

// byteStore is the raw key/value surface every cache tier exposes.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func getAssessment(ctx context.Context, s byteStore, tenantID, txID string) (*domain.AssessmentRecord, error) {
	data, err := s.Get(ctx, tenantID, assessmentKey(txID))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeAssessment(data)
}

func setAssessment(ctx context.Context, s byteStore, tenantID, txID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	data, err := encodeAssessment(rec)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, assessmentKey(txID), data, ttl)
}

func assessmentKey(txID string) string {
	return "assessment:" + txID
}

func encodeAssessment(rec *domain.AssessmentRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("assessment is required")
	}
	return json.Marshal(rec)
}

func decodeAssessment(data []byte) (*domain.AssessmentRecord, error) {
	var rec domain.AssessmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached assessment: %w", err)
	}
	return &rec, nil
}
