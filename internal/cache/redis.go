package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in Redis under "fraudguard:{tenant}:key".
// The braces are a cluster hash tag, so one tenant's keys share a slot.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis named by cfg and verifies it answers.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisCache{client: client}, nil
}

// redisOptions accepts either host:port or a redis:// or rediss:// URL.
// Explicit password and DB settings win over the URL's.
func redisOptions(cfg domain.CacheConfig) (*redis.Options, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return opts, nil
}

func (c *RedisCache) key(tenantID, key string) (string, error) {
	if err := requireTenant(tenantID); err != nil {
		return "", err
	}
	if strings.ContainsAny(tenantID, "{}") {
		return "", fmt.Errorf("tenantID %q contains a hash tag brace", tenantID)
	}
	return "fraudguard:{" + tenantID + "}:" + key, nil
}

// Get returns the value under key, or nil when Redis has none.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := c.key(tenantID, key)
	if err != nil {
		return nil, err
	}
	val, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores value with ttl. A non-positive ttl removes the key, matching
// the memory cache where such entries are already expired.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := c.key(tenantID, key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return c.client.Unlink(ctx, k).Err()
	}
	return c.client.Set(ctx, k, value, ttl).Err()
}

// Delete unlinks key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := c.key(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Unlink(ctx, k).Err()
}

// GetAssessment returns the cached assessment for txID, or nil on a miss.
func (c *RedisCache) GetAssessment(ctx context.Context, tenantID string, txID string) (*domain.AssessmentRecord, error) {
	return getAssessment(ctx, c, tenantID, txID)
}

// SetAssessment caches rec under txID.
func (c *RedisCache) SetAssessment(ctx context.Context, tenantID string, txID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	return setAssessment(ctx, c, tenantID, txID, rec, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
