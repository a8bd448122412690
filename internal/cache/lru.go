// Package cache provides caching implementations for FraudGuard.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// tenantKey scopes a key to its tenant without string concatenation, so
// tenant IDs containing separators cannot collide.
type tenantKey struct {
	tenant string
	key    string
}

// node is an entry in the recency ring. The sentinel's next is the most
// recently used entry and its prev the least.
type node struct {
	k          tenantKey
	value      []byte
	expiresAt  time.Time
	prev, next *node
}

// LRUCache is an in-process, size-bounded cache with per-entry TTL.
// It serves as the memory cache and as L1 of the two-phase cache.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	index    map[tenantKey]*node
	ring     node
	evicted  uint64
	now      func() time.Time
}

// NewLRUCache returns a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	c := &LRUCache{
		capacity: capacity,
		index:    make(map[tenantKey]*node, capacity),
		now:      time.Now,
	}
	c.ring.next, c.ring.prev = &c.ring, &c.ring
	return c
}

// Get returns the value stored under key, or nil on a miss or expiry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.index[tenantKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(n.expiresAt) {
		c.drop(n)
		return nil, nil
	}
	c.touch(n)
	return n.value, nil
}

// Set stores value under key until ttl elapses, evicting the least
// recently used entries past capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	k := tenantKey{tenantID, key}
	expires := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.index[k]; ok {
		n.value, n.expiresAt = value, expires
		c.touch(n)
		return nil
	}

	n := &node{k: k, value: value, expiresAt: expires}
	c.index[k] = n
	c.link(n)

	for len(c.index) > c.capacity {
		c.drop(c.ring.prev)
		c.evicted++
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.index[tenantKey{tenantID, key}]; ok {
		c.drop(n)
	}
	return nil
}

// GetAssessment returns the cached assessment for txID, or nil on a miss.
func (c *LRUCache) GetAssessment(ctx context.Context, tenantID string, txID string) (*domain.AssessmentRecord, error) {
	return getAssessment(ctx, c, tenantID, txID)
}

// SetAssessment caches rec under txID.
func (c *LRUCache) SetAssessment(ctx context.Context, tenantID string, txID string, rec *domain.AssessmentRecord, ttl time.Duration) error {
	return setAssessment(ctx, c, tenantID, txID, rec, ttl)
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.index)
	c.ring.next, c.ring.prev = &c.ring, &c.ring
	return nil
}

// Stats reports the live entry count and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index), c.capacity
}

// Evictions counts entries pushed out by capacity, not by expiry.
func (c *LRUCache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *LRUCache) link(n *node) {
	n.prev, n.next = &c.ring, c.ring.next
	c.ring.next.prev = n
	c.ring.next = n
}

func (c *LRUCache) unlink(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *LRUCache) touch(n *node) {
	if c.ring.next == n {
		return
	}
	c.unlink(n)
	c.link(n)
}

func (c *LRUCache) drop(n *node) {
	c.unlink(n)
	delete(c.index, n.k)
}
