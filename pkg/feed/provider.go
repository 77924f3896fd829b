package feed

import "context"

// Provider fetches one page from an upstream collection.
// Implementations must honor ctx cancellation.
type Provider interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to [Provider].
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
