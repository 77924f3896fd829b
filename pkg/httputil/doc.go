// Package httputil provides the HTTP plumbing shared by upstream data
// providers.
//
// # Overview
//
//   - [Client]: JSON GET client with default headers, status mapping and
//     optional response caching through a [cache.Cache]
//   - [Retry]: automatic retry with exponential backoff
//
// # Retry
//
// Only errors wrapped in [RetryableError] are retried. The client wraps
// network failures and 5xx responses that way; 4xx responses fail
// immediately:
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    return client.Get(ctx, url, &out)
//	})
//
// # Status mapping
//
//   - 200: success
//   - 404: [ErrNotFound]
//   - 429: *errors.RateLimitedError (Retry-After honored by the caller)
//   - 5xx: retryable [ErrNetwork]
//   - other: [ErrNetwork]
package httputil
