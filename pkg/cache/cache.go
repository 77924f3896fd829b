// Package cache provides pluggable byte caches for fetched pages and HTTP
// responses.
//
// Backends:
//   - [FileCache]: JSON entry files under a directory (CLI default)
//   - [RedisCache]: shared cache for multi-instance API deployments
//   - [MongoCache]: document-backed cache with a TTL index
//   - [NullCache]: caching disabled
//
// Keys are produced by a [Keyer] so every component hashes request options
// the same way. [ScopedKeyer] prefixes keys for per-tenant isolation.
package cache

import (
	"context"
	"time"
)

// Default time-to-live values per entry type.
const (
	// TTLPage is how long a fetched upstream page stays fresh.
	TTLPage = 5 * time.Minute

	// TTLHTTP is the lifetime of raw HTTP responses.
	TTLHTTP = time.Hour
)

// Cache stores opaque byte payloads under string keys.
//
// Get reports (data, true, nil) on a hit and (nil, false, nil) on a miss.
// Expired entries are reported as misses. A ttl of 0 passed to Set means the
// entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// PageKeyOpts identifies one upstream page request.
type PageKeyOpts struct {
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Keyer generates cache keys.
type Keyer interface {
	// HTTPKey generates a key for a raw HTTP response.
	HTTPKey(namespace, key string) string

	// PageKey generates a key for one page of an upstream source.
	PageKey(source string, opts PageKeyOpts) string
}

// DefaultKeyer is the standard key scheme.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the standard keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// HTTPKey returns "http:<namespace>:<key>".
func (DefaultKeyer) HTTPKey(namespace, key string) string {
	return "http:" + namespace + ":" + key
}

// PageKey returns "page:<sha256(source, opts)>". Filter maps are marshaled
// with sorted keys, so equal filters hash equally.
func (DefaultKeyer) PageKey(source string, opts PageKeyOpts) string {
	return hashKey("page", source, opts)
}

// Ensure DefaultKeyer implements Keyer.
var _ Keyer = DefaultKeyer{}
