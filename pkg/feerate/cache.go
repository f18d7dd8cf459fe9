package feerate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/allegro/bigcache/v3"
)

const quoteKey = "feerate:quote"

// CacheStats counts cache outcomes for observability.
type CacheStats interface {
	IncFeeQuoteCacheHit()
	IncFeeQuoteCacheMiss()
}

type noopStats struct{}

func (noopStats) IncFeeQuoteCacheHit()  {}
func (noopStats) IncFeeQuoteCacheMiss() {}

// Cached wraps a Source with a short-TTL cache, so a batch of operations does
// not hammer the upstream quote provider once per operation.
type Cached struct {
	inner Source
	cache *bigcache.BigCache
	stats CacheStats
}

// NewCached builds a caching source. ttl should be in the order of a block
// time; stats may be nil.
func NewCached(inner Source, ttl time.Duration, stats CacheStats) (*Cached, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(ttl))
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = noopStats{}
	}
	return &Cached{inner: inner, cache: cache, stats: stats}, nil
}

func (c *Cached) Current(ctx context.Context) (*Quote, error) {
	if raw, err := c.cache.Get(quoteKey); err == nil {
		var q Quote
		if err := json.Unmarshal(raw, &q); err == nil {
			c.stats.IncFeeQuoteCacheHit()
			return &q, nil
		}
	}
	c.stats.IncFeeQuoteCacheMiss()

	q, err := c.inner.Current(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(q); err == nil {
		_ = c.cache.Set(quoteKey, raw)
	}
	return q, nil
}

func (c *Cached) Close() error {
	return c.cache.Close()
}
