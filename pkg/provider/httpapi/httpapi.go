// Package httpapi implements a feed provider backed by a paginated REST
// endpoint.
//
// The provider issues
//
//	GET <url>?page=<n>&limit=<size>&<filters...>
//
// and decodes a JSON object. Items are read from a configurable dot path;
// the pagination fields (an explicit pagination object, a total count or a
// meta object) are copied into [feed.Response] so that [feed.DeriveMeta]
// can pick the most authoritative one. A bare JSON array is accepted as the
// items of a response without pagination.
//
// Transient failures (network errors, 5xx responses) are retried with
// exponential backoff before being reported.
package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/httputil"
)

// Options configures a [Provider].
type Options struct {
	// URL is the collection endpoint.
	URL string `toml:"url" json:"url"`

	// ItemsPath locates the item array. Empty tries "items", "data" and
	// "results" in that order.
	ItemsPath string `toml:"items_path" json:"items_path,omitempty"`

	// PaginationPath locates an explicit pagination object (default "pagination").
	PaginationPath string `toml:"pagination_path" json:"pagination_path,omitempty"`

	// TotalPath locates a raw total count. Empty tries "total",
	// "total_count" and "totalCount".
	TotalPath string `toml:"total_path" json:"total_path,omitempty"`

	// MetaPath locates a meta object (default "meta").
	MetaPath string `toml:"meta_path" json:"meta_path,omitempty"`

	PageParam  string `toml:"page_param" json:"page_param,omitempty"`
	LimitParam string `toml:"limit_param" json:"limit_param,omitempty"`

	Headers map[string]string `toml:"headers" json:"-"`

	// Attempts bounds retries of transient failures (default 3).
	Attempts int `toml:"attempts" json:"attempts,omitempty"`

	// RetryDelay is the initial backoff (default 500ms).
	RetryDelay time.Duration `toml:"retry_delay" json:"retry_delay,omitempty"`
}

// SetDefaults fills zero-valued fields.
func (o *Options) SetDefaults() {
	if o.PaginationPath == "" {
		o.PaginationPath = "pagination"
	}
	if o.MetaPath == "" {
		o.MetaPath = "meta"
	}
	if o.PageParam == "" {
		o.PageParam = "page"
	}
	if o.LimitParam == "" {
		o.LimitParam = "limit"
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
}

// Validate checks the URL and the configured paths.
func (o Options) Validate() error {
	if err := errors.ValidateURL(o.URL); err != nil {
		return err
	}
	for _, p := range []string{o.ItemsPath, o.PaginationPath, o.TotalPath, o.MetaPath} {
		if err := errors.ValidateFieldPath(p); err != nil {
			return err
		}
	}
	return nil
}

var (
	defaultItemsPaths = []string{"items", "data", "results"}
	defaultTotalPaths = []string{"total", "total_count", "totalCount"}
)

// Provider fetches pages from a REST endpoint.
type Provider struct {
	opts   Options
	base   *url.URL
	client *httputil.Client
}

// New creates a Provider. A nil client uses [httputil.NewClient] with the
// configured headers.
func New(opts Options, client *httputil.Client) (*Provider, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse upstream url")
	}
	if client == nil {
		client = httputil.NewClient(opts.Headers)
	}
	return &Provider{opts: opts, base: base, client: client}, nil
}

// Fetch implements [feed.Provider].
func (p *Provider) Fetch(ctx context.Context, req feed.Request) (*feed.Response, error) {
	target := p.pageURL(req)

	var body json.RawMessage
	err := httputil.Retry(ctx, p.opts.Attempts, p.opts.RetryDelay, func() error {
		return p.client.Get(ctx, target, &body)
	})
	if err != nil {
		var syntax *json.SyntaxError
		if stderrors.As(err, &syntax) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrap(errors.ErrCodeInvalidPagination, err, "decode response")
		}
		return nil, err
	}
	return p.decode(body)
}

// pageURL merges page, limit and filters into the base query. Keys are
// encoded in sorted order so identical requests produce identical URLs.
func (p *Provider) pageURL(req feed.Request) string {
	u := *p.base
	q := u.Query()
	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, req.Filters[k])
	}
	q.Set(p.opts.PageParam, strconv.Itoa(req.Page))
	if req.Limit > 0 {
		q.Set(p.opts.LimitParam, strconv.Itoa(req.Limit))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Provider) decode(body json.RawMessage) (*feed.Response, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPagination, err, "decode response")
	}

	if arr, ok := root.([]any); ok {
		items, err := toItems(arr)
		if err != nil {
			return nil, err
		}
		return &feed.Response{Items: items}, nil
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidPagination, "response is neither an object nor an array")
	}

	resp := &feed.Response{}
	itemsPaths := defaultItemsPaths
	if p.opts.ItemsPath != "" {
		itemsPaths = []string{p.opts.ItemsPath}
	}
	for _, path := range itemsPaths {
		if v, ok := feed.Resolve(obj, path); ok {
			arr, isArr := v.([]any)
			if !isArr {
				return nil, errors.New(errors.ErrCodeInvalidPagination, "%s is not an array", path)
			}
			items, err := toItems(arr)
			if err != nil {
				return nil, err
			}
			resp.Items = items
			break
		}
	}

	if v, ok := feed.Resolve(obj, p.opts.PaginationPath); ok {
		pagination, err := toMeta(v)
		if err != nil {
			return nil, err
		}
		resp.Pagination = pagination
	}

	totalPaths := defaultTotalPaths
	if p.opts.TotalPath != "" {
		totalPaths = []string{p.opts.TotalPath}
	}
	for _, path := range totalPaths {
		if v, ok := feed.Resolve(obj, path); ok {
			n, isNum := v.(float64)
			if !isNum || n < 0 || n != float64(int(n)) {
				return nil, errors.New(errors.ErrCodeInvalidPagination, "%s is not a count", path)
			}
			total := int(n)
			resp.Total = &total
			break
		}
	}

	if v, ok := feed.Resolve(obj, p.opts.MetaPath); ok {
		if m, isObj := v.(map[string]any); isObj {
			resp.Meta = m
		}
	}
	return resp, nil
}

func toItems(arr []any) ([]map[string]any, error) {
	items := make([]map[string]any, 0, len(arr))
	for i, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidPagination, "item %d is not an object", i)
		}
		items = append(items, m)
	}
	return items, nil
}

// toMeta decodes an explicit pagination object.
func toMeta(v any) (*feed.Meta, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPagination, err, "encode pagination")
	}
	var m feed.Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPagination, err, "decode pagination")
	}
	return &m, nil
}
