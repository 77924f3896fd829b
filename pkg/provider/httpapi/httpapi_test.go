package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/httputil"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, opts Options) *Provider {
	t.Helper()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	p, err := New(opts, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{}, nil); err == nil {
		t.Error("missing URL should fail")
	}
	if _, err := New(Options{URL: "ftp://x"}, nil); err == nil {
		t.Error("non-http URL should fail")
	}
	if _, err := New(Options{URL: "http://x", ItemsPath: "a..b"}, nil); err == nil {
		t.Error("invalid items path should fail")
	}
	if _, err := New(Options{URL: "http://x"}, httputil.NewClient(nil)); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestFetchQuery(t *testing.T) {
	var query string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`{"items": []}`))
	})

	p := newProvider(t, Options{URL: srv.URL + "/api/projects?sort=new", PageParam: "p", LimitParam: "per_page"})
	_, err := p.Fetch(context.Background(), feed.Request{Page: 3, Limit: 12, Filters: map[string]string{"tag": "go", "owner": "ana"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := "owner=ana&p=3&per_page=12&sort=new&tag=go"; query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
}

func TestFetchShapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		opts     Options
		items    int
		wantMeta feed.Meta
	}{
		{
			name:     "pagination object",
			body:     `{"items":[{"id":1},{"id":2}],"pagination":{"page":2,"totalPages":4,"hasNextPage":true,"hasPrevPage":true}}`,
			items:    2,
			wantMeta: feed.Meta{Page: 2, TotalPages: 4, HasNextPage: true, HasPrevPage: true},
		},
		{
			name:     "raw total under data",
			body:     `{"data":[{"id":1},{"id":2}],"total":5}`,
			items:    2,
			wantMeta: feed.Meta{Page: 2, TotalPages: 3, TotalItems: 5, HasNextPage: true, HasPrevPage: true},
		},
		{
			name:     "meta object under results",
			body:     `{"results":[{"id":1}],"meta":{"totalCount":3,"lastPage":3}}`,
			items:    1,
			wantMeta: feed.Meta{Page: 2, TotalPages: 3, TotalItems: 3, HasNextPage: true, HasPrevPage: true},
		},
		{
			name:     "custom paths",
			body:     `{"payload":{"rows":[{"id":1},{"id":2}]},"stats":{"count":2}}`,
			opts:     Options{ItemsPath: "payload.rows", TotalPath: "stats.count"},
			items:    2,
			wantMeta: feed.Meta{Page: 2, TotalPages: 1, TotalItems: 2, HasPrevPage: true},
		},
		{
			name:     "bare array uses heuristic",
			body:     `[{"id":1},{"id":2}]`,
			items:    2,
			wantMeta: feed.Meta{Page: 2, HasNextPage: true, HasPrevPage: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			opts := tt.opts
			opts.URL = srv.URL
			p := newProvider(t, opts)

			resp, err := p.Fetch(context.Background(), feed.Request{Page: 2, Limit: 2})
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if len(resp.Items) != tt.items {
				t.Errorf("items = %d, want %d", len(resp.Items), tt.items)
			}
			meta, err := feed.DeriveMeta(resp, 2, 2)
			if err != nil {
				t.Fatalf("DeriveMeta: %v", err)
			}
			if meta != tt.wantMeta {
				t.Errorf("meta = %+v, want %+v", meta, tt.wantMeta)
			}
		})
	}
}

func TestFetchInvalidBodies(t *testing.T) {
	bodies := map[string]string{
		"not json":       `{`,
		"scalar":         `42`,
		"items not list": `{"items": {"id": 1}}`,
		"item not obj":   `{"items": [1, 2]}`,
		"bad total":      `{"items": [], "total": "many"}`,
		"bad pagination": `{"items": [], "pagination": {"page": "two"}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})
			p := newProvider(t, Options{URL: srv.URL})
			_, err := p.Fetch(context.Background(), feed.Request{Page: 1, Limit: 10})
			if !errors.Is(err, errors.ErrCodeInvalidPagination) {
				t.Errorf("Fetch error = %v, want INVALID_PAGINATION", err)
			}
		})
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"items":[{"id":"a"}]}`))
	})

	p := newProvider(t, Options{URL: srv.URL})
	resp, err := p.Fetch(context.Background(), feed.Request{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 3 || len(resp.Items) != 1 {
		t.Errorf("calls = %d, items = %d", calls.Load(), len(resp.Items))
	}
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	p := newProvider(t, Options{URL: srv.URL})
	_, err := p.Fetch(context.Background(), feed.Request{Page: 1, Limit: 10})
	if err == nil || calls.Load() != 1 {
		t.Errorf("err = %v, calls = %d", err, calls.Load())
	}
}

func TestProviderFeedsSource(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"items":[{"id":"a","title":"A"},{"id":"b","title":"B"}],"total":3}`))
		default:
			w.Write([]byte(`{"items":[{"id":"c","title":"C"}],"total":3}`))
		}
	})
	p := newProvider(t, Options{URL: srv.URL, Headers: map[string]string{"Accept": "application/json"}})

	src, err := feed.NewSource(p, feed.Options{PageSize: 2})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Dispose()
	ctx := context.Background()

	if o, err := src.FetchInitial(ctx, 1); o != feed.Applied {
		t.Fatalf("FetchInitial = %s, %v", o, err)
	}
	if o, err := src.FetchForward(ctx); o != feed.Applied {
		t.Fatalf("FetchForward = %s, %v", o, err)
	}
	snap := src.Snapshot()
	if len(snap.Items) != 3 || snap.Items[2].Title != "C" || snap.Meta.HasNextPage {
		t.Errorf("snapshot = %d items, meta %+v", len(snap.Items), snap.Meta)
	}
}
