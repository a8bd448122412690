package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tenant1 := "tenant-001"
		tenant2 := "tenant-002"

		_ = cache.Set(ctx, tenant1, "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, tenant2, "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, tenant1, "shared-key")
		val2, _ := cache.Get(ctx, tenant2, "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("AssessmentCache", func(t *testing.T) {
		rec := &domain.AssessmentRecord{
			ID:       "assess-001",
			TenantID: tenantID,
			RiskAssessment: domain.RiskAssessment{
				TxID:               "tx-001",
				RiskScore:          0.82,
				RiskLabel:          domain.RiskHigh,
				Action:             domain.ActionBlock,
				Explanation:        "high amount (60,000.00), new account",
				FeatureImportances: map[string]float64{"amount": 0.6, "account_age_days": 0.4},
				ModelVersion:       "v1",
			},
			LedgerTxHash: "0xabc",
		}

		err := cache.SetAssessment(ctx, tenantID, "tx-001", rec, time.Minute)
		if err != nil {
			t.Fatalf("SetAssessment failed: %v", err)
		}

		retrieved, err := cache.GetAssessment(ctx, tenantID, "tx-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		if retrieved.ID != rec.ID {
			t.Errorf("expected ID %s, got %s", rec.ID, retrieved.ID)
		}
		if retrieved.RiskScore != rec.RiskScore {
			t.Errorf("expected RiskScore %.2f, got %.2f", rec.RiskScore, retrieved.RiskScore)
		}
		if retrieved.Action != rec.Action || retrieved.ModelVersion != rec.ModelVersion {
			t.Errorf("unexpected assessment %+v", retrieved)
		}
		if retrieved.LedgerTxHash != rec.LedgerTxHash {
			t.Errorf("expected ledger hash %s, got %s", rec.LedgerTxHash, retrieved.LedgerTxHash)
		}

		miss, err := cache.GetAssessment(ctx, tenantID, "tx-unknown")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if miss != nil {
			t.Error("expected nil on cache miss")
		}

		if err := cache.SetAssessment(ctx, tenantID, "tx-nil", nil, time.Minute); err == nil {
			t.Error("expected error for nil assessment")
		}
	})

	t.Run("CorruptAssessment", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, assessmentKey("tx-bad"), []byte("{not json"), time.Minute)

		if _, err := cache.GetAssessment(ctx, tenantID, "tx-bad"); err == nil {
			t.Error("expected error for corrupt cached assessment")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisUnavailable", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:           "redis",
			RedisAddr:      "127.0.0.1:1",
			EnableTwoPhase: true,
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error when redis is unreachable")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestLRUCacheBookkeeping(t *testing.T) {
	ctx := context.Background()

	t.Run("SeparatorsDoNotCollide", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, "a:b", "c", []byte("first"), time.Minute)
		_ = c.Set(ctx, "a", "b:c", []byte("second"), time.Minute)

		val, _ := c.Get(ctx, "a:b", "c")
		if string(val) != "first" {
			t.Errorf("expected 'first', got %q", val)
		}
		if size, _ := c.Stats(); size != 2 {
			t.Errorf("expected 2 entries, got %d", size)
		}
	})

	t.Run("EvictionsCounted", func(t *testing.T) {
		c := NewLRUCache(2)
		for _, k := range []string{"a", "b", "c", "d"} {
			_ = c.Set(ctx, "tenant-001", k, []byte(k), time.Minute)
		}
		_ = c.Set(ctx, "tenant-001", "d", []byte("d2"), time.Minute)

		if got := c.Evictions(); got != 2 {
			t.Errorf("expected 2 evictions, got %d", got)
		}
		if size, _ := c.Stats(); size != 2 {
			t.Errorf("expected 2 entries, got %d", size)
		}
	})

	t.Run("ExpiryIsNotEviction", func(t *testing.T) {
		c := NewLRUCache(2)
		now := time.Now()
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "tenant-001", "k", []byte("v"), time.Second)
		now = now.Add(time.Second)

		if val, _ := c.Get(ctx, "tenant-001", "k"); val != nil {
			t.Errorf("expected expiry at the deadline, got %q", val)
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry dropped, got size %d", size)
		}
		if got := c.Evictions(); got != 0 {
			t.Errorf("expected no evictions, got %d", got)
		}
	})

	t.Run("ReuseAfterClose", func(t *testing.T) {
		c := NewLRUCache(2)
		_ = c.Set(ctx, "tenant-001", "k", []byte("v"), time.Minute)
		_ = c.Close()
		_ = c.Set(ctx, "tenant-001", "k2", []byte("v2"), time.Minute)

		if val, _ := c.Get(ctx, "tenant-001", "k2"); string(val) != "v2" {
			t.Errorf("expected 'v2', got %q", val)
		}
	})

	t.Run("DeleteRequiresTenant", func(t *testing.T) {
		if err := NewLRUCache(1).Delete(ctx, "", "k"); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})
}

func TestRedisOptions(t *testing.T) {
	t.Run("HostPort", func(t *testing.T) {
		opts, err := redisOptions(domain.CacheConfig{RedisPassword: "secret", RedisDB: 2})
		if err != nil {
			t.Fatalf("redisOptions failed: %v", err)
		}
		if opts.Addr != "localhost:6379" || opts.Password != "secret" || opts.DB != 2 {
			t.Errorf("unexpected options %+v", opts)
		}
	})

	t.Run("URL", func(t *testing.T) {
		opts, err := redisOptions(domain.CacheConfig{RedisAddr: "redis://:urlpass@cache:6380/3"})
		if err != nil {
			t.Fatalf("redisOptions failed: %v", err)
		}
		if opts.Addr != "cache:6380" || opts.Password != "urlpass" || opts.DB != 3 {
			t.Errorf("unexpected options %+v", opts)
		}
	})

	t.Run("ExplicitSettingsWin", func(t *testing.T) {
		opts, err := redisOptions(domain.CacheConfig{RedisAddr: "redis://:urlpass@cache:6380/3", RedisPassword: "cfg", RedisDB: 5})
		if err != nil {
			t.Fatalf("redisOptions failed: %v", err)
		}
		if opts.Password != "cfg" || opts.DB != 5 {
			t.Errorf("unexpected options %+v", opts)
		}
	})

	t.Run("BadURL", func(t *testing.T) {
		if _, err := redisOptions(domain.CacheConfig{RedisAddr: "redis://cache:6379/notadb"}); err == nil {
			t.Error("expected error for invalid redis url")
		}
	})
}

func TestRedisKey(t *testing.T) {
	c := &RedisCache{}

	k, err := c.key("tenant-001", assessmentKey("tx-1"))
	if err != nil {
		t.Fatalf("key failed: %v", err)
	}
	if k != "fraudguard:{tenant-001}:assessment:tx-1" {
		t.Errorf("unexpected key %q", k)
	}

	for _, tenant := range []string{"", "a{b", "a}"} {
		if _, err := c.key(tenant, "k"); err == nil {
			t.Errorf("expected error for tenant %q", tenant)
		}
	}
}
