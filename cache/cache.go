// Package cache holds recent search results keyed by query fingerprint.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lucidmem/recall/core"
)

// Config configures the result cache.
type Config struct {
	// MaxEntries bounds the number of cached results. Default: 4096.
	MaxEntries int64

	// DefaultTTL applies when Set receives no TTL. Default: 5m.
	DefaultTTL time.Duration
}

// ResultCache is a TTL-bound cache of search results. Entries never
// outlive their TTL; ristretto expires them proactively and Get checks
// lazily on read.
type ResultCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a result cache.
func New(cfg Config) (*ResultCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &ResultCache{cache: c, ttl: cfg.DefaultTTL}, nil
}

// Get returns the cached result for a query fingerprint. The returned
// copy is flagged as a cache hit; the stored entry stays unflagged.
func (rc *ResultCache) Get(key string) (*core.SearchResult, bool) {
	v, ok := rc.cache.Get(key)
	if !ok {
		rc.misses.Add(1)
		return nil, false
	}
	res, ok := v.(*core.SearchResult)
	if !ok {
		rc.misses.Add(1)
		return nil, false
	}
	rc.hits.Add(1)

	hit := *res
	hit.CacheHit = true
	return &hit, true
}

// Set stores a result under a query fingerprint. A non-positive TTL uses
// the configured default. Admission is normally asynchronous; Set waits
// for it so a stored entry is visible to the next Get.
func (rc *ResultCache) Set(key string, res *core.SearchResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = rc.ttl
	}
	stored := *res
	stored.CacheHit = false
	rc.cache.SetWithTTL(key, &stored, 1, ttl)
	rc.cache.Wait()
}

// HitRate returns the fraction of lookups served from the cache.
func (rc *ResultCache) HitRate() float64 {
	hits, misses := rc.hits.Load(), rc.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Close releases the cache's internal goroutines.
func (rc *ResultCache) Close() {
	rc.cache.Close()
}
