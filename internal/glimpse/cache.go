package glimpse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/rlmd/internal/observability"
)

// Entry is the cached excerpt: extraction metadata plus the extracted text.
type Entry struct {
	Meta map[string]any `json:"meta"`
	Text string         `json:"text"`
}

// Cache stores glimpse entries keyed by (run, glimpse id). Lookups that fail
// for infrastructure reasons report a miss; the cache is never load-bearing.
type Cache interface {
	Get(ctx context.Context, runID, glimpseID string) (*Entry, bool)
	Set(ctx context.Context, runID, glimpseID string, entry Entry)
}

// RedisCache backs the cache with Redis. TTL zero means entries never expire.
// A nil client degrades to a pass-through that always misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewRedisCache creates a Redis-backed cache. ttlSec <= 0 disables expiry.
func NewRedisCache(client *redis.Client, ttlSec int, logger *observability.Logger) *RedisCache {
	if logger == nil {
		logger = observability.Nop()
	}
	ttl := time.Duration(0)
	if ttlSec > 0 {
		ttl = time.Duration(ttlSec) * time.Second
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, runID, glimpseID string) (*Entry, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, Key(runID, glimpseID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "glimpse cache get failed", "error", err)
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn(ctx, "glimpse cache entry corrupt", "error", err)
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Set(ctx context.Context, runID, glimpseID string, entry Entry) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, Key(runID, glimpseID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "glimpse cache set failed", "error", err)
	}
}

// MemoryCache is an in-process cache for tests and cacheless deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(ctx context.Context, runID, glimpseID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[Key(runID, glimpseID)]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (c *MemoryCache) Set(ctx context.Context, runID, glimpseID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(runID, glimpseID)] = entry
}

// Len reports the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// NopCache always misses and drops writes.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, runID, glimpseID string) (*Entry, bool) { return nil, false }
func (NopCache) Set(ctx context.Context, runID, glimpseID string, entry Entry)   {}
