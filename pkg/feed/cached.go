package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matzehuels/masonry/pkg/cache"
	"github.com/matzehuels/masonry/pkg/observability"
)

// CachedProvider serves pages from a cache before asking the wrapped
// provider. Only successful responses are cached.
type CachedProvider struct {
	next   Provider
	cache  cache.Cache
	keyer  cache.Keyer
	source string
	ttl    time.Duration

	// Refresh bypasses cache reads; fresh responses are still written.
	Refresh bool
}

// NewCachedProvider wraps next. source namespaces the cache keys so
// different upstreams never share entries. A nil keyer uses the default
// scheme; ttl <= 0 uses [cache.TTLPage].
func NewCachedProvider(next Provider, c cache.Cache, keyer cache.Keyer, source string, ttl time.Duration) *CachedProvider {
	if c == nil {
		c = cache.NewNullCache()
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if ttl <= 0 {
		ttl = cache.TTLPage
	}
	return &CachedProvider{next: next, cache: c, keyer: keyer, source: source, ttl: ttl}
}

// Fetch implements [Provider].
func (p *CachedProvider) Fetch(ctx context.Context, req Request) (*Response, error) {
	key := p.keyer.PageKey(p.source, cache.PageKeyOpts{Page: req.Page, Limit: req.Limit, Filters: req.Filters})
	hooks := observability.Cache()

	if !p.Refresh {
		if data, ok, _ := p.cache.Get(ctx, key); ok {
			var resp Response
			if json.Unmarshal(data, &resp) == nil {
				hooks.OnCacheHit(ctx, "page")
				return &resp, nil
			}
		}
		hooks.OnCacheMiss(ctx, "page")
	}

	resp, err := p.next.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(resp); err == nil {
		if p.cache.Set(ctx, key, data, p.ttl) == nil {
			hooks.OnCacheSet(ctx, "page", len(data))
		}
	}
	return resp, nil
}
