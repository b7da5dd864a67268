package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig sizes the quote cache
type CacheConfig struct {
	MaxEntries int64
	TTL        time.Duration
}

// DefaultCacheConfig returns defaults for a single worker
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 50000,
		TTL:        15 * time.Minute,
	}
}

// CachedResolver memoizes successful quotes. Misses and errors are never cached so a
// newly added fee schedule entry is picked up on the next batch.
type CachedResolver struct {
	next  Resolver
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedResolver wraps next with a bounded in-memory cache
func NewCachedResolver(next Resolver, cfg CacheConfig) (*CachedResolver, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}
	return &CachedResolver{next: next, cache: cache, ttl: cfg.TTL}, nil
}

func (c *CachedResolver) Resolve(ctx context.Context, organizationID, providerID, procedureCode string) (Quote, error) {
	key := organizationID + "|" + providerID + "|" + procedureCode
	if v, ok := c.cache.Get(key); ok {
		return v.(Quote), nil
	}

	quote, err := c.next.Resolve(ctx, organizationID, providerID, procedureCode)
	if err != nil || !quote.Success {
		return quote, err
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, quote, 1, c.ttl)
	} else {
		c.cache.Set(key, quote, 1)
	}
	return quote, nil
}

// Wait blocks until buffered cache writes are applied
func (c *CachedResolver) Wait() {
	c.cache.Wait()
}

// Close releases the cache
func (c *CachedResolver) Close() {
	c.cache.Close()
}
