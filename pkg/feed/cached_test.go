package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/matzehuels/masonry/pkg/cache"
)

func TestCachedProvider(t *testing.T) {
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	up := &upstream{total: 30}
	p := NewCachedProvider(up, fc, nil, "projects", 0)
	ctx := context.Background()

	first, err := p.Fetch(ctx, Request{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	second, err := p.Fetch(ctx, Request{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if up.callsFor(1) != 1 {
		t.Errorf("upstream called %d times, want 1", up.callsFor(1))
	}
	if len(second.Items) != len(first.Items) || *second.Total != 30 {
		t.Errorf("cached response = %d items, total %v", len(second.Items), second.Total)
	}
	if second.Items[0]["id"] != "item-0" {
		t.Errorf("cached item = %v", second.Items[0])
	}

	// Filters are part of the key.
	if _, err := p.Fetch(ctx, Request{Page: 1, Limit: 10, Filters: map[string]string{"tag": "go"}}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if up.callsFor(1) != 2 {
		t.Errorf("filtered request should miss the cache")
	}

	p.Refresh = true
	if _, err := p.Fetch(ctx, Request{Page: 1, Limit: 10}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if up.callsFor(1) != 3 {
		t.Errorf("refresh should bypass the cache")
	}
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	up := &upstream{total: 30}
	up.setFail(1, errors.New("boom"))
	fc, _ := cache.NewFileCache(t.TempDir())
	p := NewCachedProvider(up, fc, cache.NewScopedKeyer(nil, "t:"), "projects", 0)
	ctx := context.Background()

	if _, err := p.Fetch(ctx, Request{Page: 1, Limit: 10}); err == nil {
		t.Fatal("expected error")
	}
	up.setFail(1, nil)
	if _, err := p.Fetch(ctx, Request{Page: 1, Limit: 10}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if up.callsFor(1) != 2 {
		t.Errorf("upstream called %d times, want 2", up.callsFor(1))
	}
}

func TestCachedProviderFeedsSource(t *testing.T) {
	up := &upstream{total: 30}
	fc, _ := cache.NewFileCache(t.TempDir())
	src := newTestSource(t, NewCachedProvider(up, fc, nil, "projects", 0), Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Applied)(src.FetchInitial(ctx, 1))
	if up.callsFor(1) != 1 {
		t.Errorf("second initial fetch should be served from cache")
	}
	if n := len(src.Snapshot().Items); n != 10 {
		t.Errorf("items = %d", n)
	}
}
