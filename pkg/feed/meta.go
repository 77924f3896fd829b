package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/matzehuels/masonry/pkg/errors"
)

// Meta is pagination metadata derived from an upstream response.
// Zero TotalPages or TotalItems means unknown.
type Meta struct {
	Page        int  `json:"page"`
	TotalPages  int  `json:"totalPages,omitempty"`
	TotalItems  int  `json:"totalItems,omitempty"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// PageRange is the contiguous window of loaded pages. The zero value means
// nothing is loaded.
type PageRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Empty reports whether no page is loaded.
func (r PageRange) Empty() bool { return r.Min <= 0 || r.Max < r.Min }

// Span returns Max - Min, the quantity bounded by the page gap.
func (r PageRange) Span() int {
	if r.Empty() {
		return 0
	}
	return r.Max - r.Min
}

// Contains reports whether page is inside the window.
func (r PageRange) Contains(page int) bool {
	return !r.Empty() && page >= r.Min && page <= r.Max
}

func (r PageRange) String() string {
	if r.Empty() {
		return "[]"
	}
	return fmt.Sprintf("[%d..%d]", r.Min, r.Max)
}

// Request asks a provider for one page.
type Request struct {
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Response is the loosely shaped result of a provider fetch. Providers fill
// whichever pagination fields their upstream reports; [DeriveMeta] decides
// which one wins.
type Response struct {
	Items      []map[string]any `json:"items"`
	Pagination *Meta            `json:"pagination,omitempty"`
	Total      *int             `json:"total,omitempty"`
	Meta       map[string]any   `json:"meta,omitempty"`
}

// DeriveMeta computes pagination metadata for page of a response requested
// with limit. The first available source wins:
//
//  1. an explicit pagination object, used verbatim
//  2. a raw total count
//  3. a meta object (total/totalCount, totalPages/lastPage,
//     hasNextPage/hasPrevPage)
//  4. a heuristic: a full page implies a next page
//
// In every case HasPrevPage defaults to page > 1. A meta object whose
// fields have the wrong type yields an [errors.ErrCodeInvalidPagination] error.
func DeriveMeta(resp *Response, page, limit int) (Meta, error) {
	if resp == nil {
		return Meta{}, errors.New(errors.ErrCodeInvalidPagination, "nil response for page %d", page)
	}

	switch {
	case resp.Pagination != nil:
		m := *resp.Pagination
		if m.Page == 0 {
			m.Page = page
		}
		return m, nil

	case resp.Total != nil:
		if *resp.Total < 0 {
			return Meta{}, errors.New(errors.ErrCodeInvalidPagination, "negative total %d", *resp.Total)
		}
		return fromTotal(page, limit, *resp.Total), nil

	case hasMetaFields(resp.Meta):
		return fromMetaObject(resp.Meta, page, limit, len(resp.Items))

	default:
		return heuristic(page, limit, len(resp.Items)), nil
	}
}

func fromTotal(page, limit, total int) Meta {
	pages := totalPages(total, limit)
	return Meta{
		Page:        page,
		TotalPages:  pages,
		TotalItems:  total,
		HasNextPage: page < pages,
		HasPrevPage: page > 1,
	}
}

func heuristic(page, limit, count int) Meta {
	return Meta{
		Page:        page,
		HasNextPage: limit > 0 && count == limit,
		HasPrevPage: page > 1,
	}
}

func totalPages(total, limit int) int {
	if total <= 0 {
		return 0
	}
	if limit <= 0 {
		return 1
	}
	return int(math.Ceil(float64(total) / float64(limit)))
}

var (
	metaTotalKeys      = []string{"total", "totalCount", "total_count", "totalItems"}
	metaTotalPagesKeys = []string{"totalPages", "lastPage", "total_pages", "last_page"}
	metaPageKeys       = []string{"page", "currentPage", "current_page"}
	metaHasNextKeys    = []string{"hasNextPage", "has_next_page"}
	metaHasPrevKeys    = []string{"hasPrevPage", "hasPreviousPage", "has_prev_page"}
)

func hasMetaFields(meta map[string]any) bool {
	for _, keys := range [][]string{metaTotalKeys, metaTotalPagesKeys, metaHasNextKeys, metaHasPrevKeys} {
		if _, ok := lookup(meta, keys); ok {
			return true
		}
	}
	return false
}

func fromMetaObject(meta map[string]any, page, limit, count int) (Meta, error) {
	m := Meta{Page: page}

	if v, ok := lookup(meta, metaPageKeys); ok {
		if p, ok := toInt(v); ok && p > 0 {
			m.Page = p
		}
	}
	if v, ok := lookup(meta, metaTotalKeys); ok {
		n, ok := toInt(v)
		if !ok || n < 0 {
			return Meta{}, errors.New(errors.ErrCodeInvalidPagination, "meta total %v is not a count", v)
		}
		m.TotalItems = n
	}
	if v, ok := lookup(meta, metaTotalPagesKeys); ok {
		n, ok := toInt(v)
		if !ok || n < 0 {
			return Meta{}, errors.New(errors.ErrCodeInvalidPagination, "meta page count %v is not a count", v)
		}
		m.TotalPages = n
	}
	if m.TotalPages == 0 && m.TotalItems > 0 {
		m.TotalPages = totalPages(m.TotalItems, limit)
	}

	switch v, ok := lookup(meta, metaHasNextKeys); {
	case ok:
		b, isBool := v.(bool)
		if !isBool {
			return Meta{}, errors.New(errors.ErrCodeInvalidPagination, "meta hasNextPage %v is not a boolean", v)
		}
		m.HasNextPage = b
	case m.TotalPages > 0:
		m.HasNextPage = m.Page < m.TotalPages
	default:
		m.HasNextPage = limit > 0 && count == limit
	}

	if v, ok := lookup(meta, metaHasPrevKeys); ok {
		b, isBool := v.(bool)
		if !isBool {
			return Meta{}, errors.New(errors.ErrCodeInvalidPagination, "meta hasPrevPage %v is not a boolean", v)
		}
		m.HasPrevPage = b
	} else {
		m.HasPrevPage = m.Page > 1
	}
	return m, nil
}

func lookup(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
