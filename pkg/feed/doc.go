// Package feed loads an item stream page by page in both directions.
//
// # Overview
//
// A [Source] owns the materialized window of an upstream collection: the
// items of every loaded page, the derived pagination [Meta] and the
// contiguous [PageRange] those pages cover. It exposes forward and backward
// fetches that grow the window by one page at a time while keeping
//
//	Range.Max - Range.Min <= MaxPageGap
//
// Fetches that would break the gap are rejected as no-ops and only logged.
//
// # Providers
//
// The upstream is any [Provider]. It receives a [Request] (page, limit,
// filters) and returns a loosely shaped [Response]; [DeriveMeta] turns that
// shape into [Meta] using, in order of precedence, an explicit pagination
// object, a raw total count, a meta object with alternate field names, or a
// heuristic based on whether a full page came back.
//
// [CachedProvider] decorates a provider with a [cache.Cache].
//
// # Items
//
// Raw items are mapped to [Item] values through a [FieldMapping] of dot
// paths ("media.cover.url", "tags.0"). Items are deduplicated by ID when
// pages are merged; items without an ID are keyed by a hash of their
// content.
//
// # Concurrency
//
// A Source is safe for concurrent use. At most one forward and one backward
// fetch are in flight at a time, each result is applied under a single lock,
// and [Source.Dispose] cancels in-flight requests. A result that arrives after
// Dispose (or after a reset by [Source.FetchInitial]) is discarded.
package feed
