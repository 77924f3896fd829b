// Package columns computes a responsive column count from a container width.
//
// # Overview
//
// The planner is a pure function: given the measured container width, a
// column [Spec] and a few layout [Options], [Plan] returns how many columns
// the masonry grid should render. It holds no state and is recomputed on
// every (debounced) resize.
//
// # Min-Width Mode
//
// When [Options.MinColumnWidth] is positive the spec is ignored and the
// count is derived from the space that is actually available:
//
//	available = width - PaddingLeft - PaddingRight
//	count     = clamp(floor(available / (MinColumnWidth + GapX)), 1, MaxColumns)
//
// # Breakpoint Mode
//
// Otherwise the spec is either a fixed count or a [Breakpoints] map keyed by
// tier. The tier with the largest threshold not exceeding the width is
// selected; if that tier has no value the planner falls back downward
// (2xl, xl, lg, md, sm, base) and finally to a single column:
//
//	Tier   Threshold
//	base   0
//	sm     640
//	md     768
//	lg     1024
//	xl     1280
//	2xl    1536
//
// A width of zero (not yet measured), a negative width or NaN selects the
// base tier, so the planner never divides by zero.
//
// # Malformed Specs
//
// Unknown tier names and non-positive counts are configuration errors. They
// are reported by [ParseSpec] and [Spec.Validate] so callers can log them,
// but [Plan] never fails: invalid entries are skipped and the fallback chain
// takes over. The result is always at least 1.
package columns
