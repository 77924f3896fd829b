package cache

// ScopedKeyer wraps a Keyer with a prefix for multi-tenant isolation.
// The portfolio API uses it to keep pages of different upstream owners apart
// when they share one Redis or Mongo backend.
//
// Example usage:
//
//	// Owner-specific keys
//	ownerKeyer := NewScopedKeyer(NewDefaultKeyer(), "owner:abc123:")
//
//	// Global keys for public feeds
//	globalKeyer := NewDefaultKeyer()
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// HTTPKey generates a prefixed key for HTTP response caching.
func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}

// PageKey generates a prefixed key for page caching.
func (k *ScopedKeyer) PageKey(source string, opts PageKeyOpts) string {
	return k.prefix + k.inner.PageKey(source, opts)
}
