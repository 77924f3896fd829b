package feed

import (
	"cmp"
	"context"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/observability"
)

// Default source options.
const (
	DefaultPageSize   = 20
	DefaultMaxPageGap = 10
)

// Direction identifies what kind of fetch produced a change.
type Direction string

const (
	DirInitial  Direction = "initial"
	DirForward  Direction = "forward"
	DirBackward Direction = "backward"
	DirReload   Direction = "reload"
)

// Outcome reports what a fetch operation did to the source.
type Outcome int

const (
	// Applied means the fetched page was merged into the window.
	Applied Outcome = iota
	// Skipped means a guard rejected the call before any request was made.
	Skipped
	// GapRejected means the fetch would have widened the window past MaxPageGap.
	GapRejected
	// Discarded means the result arrived after Dispose or a reset and was dropped.
	Discarded
	// Failed means the provider (or pagination parsing) failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case GapRejected:
		return "gap-rejected"
	case Discarded:
		return "discarded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ChangeKind classifies a [Change].
type ChangeKind int

const (
	ChangeStarted ChangeKind = iota
	ChangeApplied
	ChangeFailed
	ChangeDisposed
)

// Change is delivered to [Options.OnChange] after every state transition.
type Change struct {
	Kind      ChangeKind
	Direction Direction
	Page      int
	Err       error
	Snapshot  Snapshot
}

// Options configures a [Source].
type Options struct {
	// PageSize is the limit sent with every request (default 20).
	PageSize int

	// MaxPageGap bounds Range.Max - Range.Min. Zero or negative is unset and
	// uses DefaultMaxPageGap, so the smallest gap is 1. A source that should
	// never leave its first page simply never calls the edge fetches.
	MaxPageGap int

	// Filters are forwarded to the provider unchanged.
	Filters map[string]string

	// Mapping converts raw items. The zero value uses DefaultFieldMapping.
	Mapping FieldMapping

	// Logger receives debug output for skipped and rejected fetches.
	Logger *log.Logger

	// OnChange, if set, is called after every state transition. It runs on
	// the goroutine that performed the fetch and must not block.
	OnChange func(Change)
}

// SetDefaults fills zero-valued fields.
func (o *Options) SetDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPageGap <= 0 {
		o.MaxPageGap = DefaultMaxPageGap
	}
	if o.Mapping.isZero() {
		o.Mapping = DefaultFieldMapping()
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// Validate checks filters and the field mapping.
func (o Options) Validate() error {
	for k := range o.Filters {
		if err := errors.ValidateFilterKey(k); err != nil {
			return err
		}
	}
	return o.Mapping.Validate()
}

func (m FieldMapping) isZero() bool {
	return m.ID == "" && m.Title == "" && m.Description == "" && m.ImageURL == "" && m.Height == "" && len(m.Extra) == 0
}

// Snapshot is an immutable view of a [Source]. Items is shared with the
// source and must not be modified.
//
// Err is the most recent failure still awaiting [Source.Retry].
// ForwardErr and BackwardErr hold the failure of that edge only; an edge
// is blocked by its own failure and never by the other one.
type Snapshot struct {
	Items            []Item
	Meta             Meta
	Range            PageRange
	Loading          bool
	FetchingForward  bool
	FetchingBackward bool
	Err              error
	ForwardErr       error
	BackwardErr      error
	Disposed         bool
	Generation       uint64
}

// ForwardBlocker returns why a forward fetch may not start, or "" if it may.
// The page gap is checked separately by [Source.FetchForward].
func (s Snapshot) ForwardBlocker() string {
	switch {
	case s.Disposed:
		return "disposed"
	case s.Loading:
		return "loading"
	case s.FetchingForward:
		return "in flight"
	case s.ForwardErr != nil:
		return "awaiting retry"
	case len(s.Items) == 0:
		return "no items"
	case !s.Meta.HasNextPage:
		return "no next page"
	case s.Meta.TotalPages > 0 && s.Range.Max >= s.Meta.TotalPages:
		return "last page loaded"
	}
	return ""
}

// BackwardBlocker is the backward counterpart of [Snapshot.ForwardBlocker].
func (s Snapshot) BackwardBlocker() string {
	switch {
	case s.Disposed:
		return "disposed"
	case s.Loading:
		return "loading"
	case s.FetchingBackward:
		return "in flight"
	case s.BackwardErr != nil:
		return "awaiting retry"
	case len(s.Items) == 0:
		return "no items"
	case !s.Meta.HasPrevPage:
		return "no previous page"
	case s.Range.Min <= 1:
		return "first page loaded"
	}
	return ""
}

// Source materializes a contiguous window of pages from a [Provider].
type Source struct {
	provider Provider
	opts     Options
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	pages            map[int][]Item
	items            []Item
	meta             Meta
	window           PageRange
	loading          bool
	fetchingForward  bool
	fetchingBackward bool
	failures         map[Direction]failure
	failSeq          uint64
	disposed         bool
	generation       uint64
}

// failure is an unresolved fetch error. At most one is kept per direction.
type failure struct {
	err   error
	retry func(context.Context) (Outcome, error)
	seq   uint64
}

// NewSource creates a Source. Nothing is fetched until [Source.FetchInitial].
func NewSource(p Provider, opts Options) (*Source, error) {
	if p == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "provider is required")
	}
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		provider: p,
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		pages:    make(map[int][]Item),
		failures: make(map[Direction]failure),
	}, nil
}

// Options returns the effective options.
func (s *Source) Options() Options { return s.opts }

// Snapshot returns the current state.
func (s *Source) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Source) snapshotLocked() Snapshot {
	return Snapshot{
		Items:            s.items,
		Meta:             s.meta,
		Range:            s.window,
		Loading:          s.loading,
		FetchingForward:  s.fetchingForward,
		FetchingBackward: s.fetchingBackward,
		Err:              s.latestErrLocked(),
		ForwardErr:       s.failures[DirForward].err,
		BackwardErr:      s.failures[DirBackward].err,
		Disposed:         s.disposed,
		Generation:       s.generation,
	}
}

func (s *Source) latestErrLocked() error {
	var latest failure
	for _, f := range s.failures {
		if f.seq > latest.seq {
			latest = f
		}
	}
	return latest.err
}

// FetchInitial discards all loaded pages and loads page (1 if page < 1).
// Any fetch still in flight is discarded when it completes.
func (s *Source) FetchInitial(ctx context.Context, page int) (Outcome, error) {
	page = max(page, 1)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Skipped, nil
	}
	s.generation++
	gen := s.generation
	s.pages = make(map[int][]Item)
	s.items = nil
	s.meta = Meta{}
	s.window = PageRange{}
	s.loading = true
	s.fetchingForward = false
	s.fetchingBackward = false
	clear(s.failures)
	started := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeStarted, Direction: DirInitial, Page: page, Snapshot: started})
	meta, items, err := s.fetch(ctx, DirInitial, page)

	s.mu.Lock()
	if gen != s.generation || s.disposed {
		s.mu.Unlock()
		s.logger.Debug("discarding stale result", "direction", DirInitial, "page", page)
		return Discarded, nil
	}
	s.loading = false
	if err != nil {
		return s.failLocked(DirInitial, page, err, func(ctx context.Context) (Outcome, error) {
			return s.FetchInitial(ctx, page)
		})
	}
	s.pages[page] = items
	s.window = PageRange{Min: page, Max: page}
	s.meta = meta
	return s.applyLocked(DirInitial, page)
}

// FetchForward loads the page after the window and appends its items.
func (s *Source) FetchForward(ctx context.Context) (Outcome, error) {
	return s.fetchEdge(ctx, DirForward)
}

// FetchBackward loads the page before the window and prepends its items.
func (s *Source) FetchBackward(ctx context.Context) (Outcome, error) {
	return s.fetchEdge(ctx, DirBackward)
}

func (s *Source) fetchEdge(ctx context.Context, dir Direction) (Outcome, error) {
	forward := dir == DirForward

	s.mu.Lock()
	snap := s.snapshotLocked()
	reason, page := snap.BackwardBlocker(), s.window.Min-1
	if forward {
		reason, page = snap.ForwardBlocker(), s.window.Max+1
	}
	if reason != "" {
		s.mu.Unlock()
		s.logger.Debug("fetch skipped", "direction", dir, "page", page, "reason", reason)
		observability.Fetch().OnFetchRejected(ctx, string(dir), page, reason)
		return Skipped, nil
	}
	// A fetch in flight on the other edge will widen the window when it
	// lands, so its page counts toward the span.
	lo, hi := s.window.Min, s.window.Max
	if s.fetchingBackward {
		lo--
	}
	if s.fetchingForward {
		hi++
	}
	if span := max(hi, page) - min(lo, page); span > s.opts.MaxPageGap {
		window := s.window
		s.mu.Unlock()
		err := errors.New(errors.ErrCodeGapViolation, "page %d would widen %s past the page gap", page, window)
		s.logger.Debug("fetch rejected", "direction", dir, "page", page, "range", window, "max_gap", s.opts.MaxPageGap, "err", err)
		observability.Fetch().OnFetchRejected(ctx, string(dir), page, "page gap")
		return GapRejected, nil
	}
	if forward {
		s.fetchingForward = true
	} else {
		s.fetchingBackward = true
	}
	gen := s.generation
	started := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeStarted, Direction: dir, Page: page, Snapshot: started})
	meta, items, err := s.fetch(ctx, dir, page)

	s.mu.Lock()
	if gen != s.generation || s.disposed {
		s.mu.Unlock()
		s.logger.Debug("discarding stale result", "direction", dir, "page", page)
		return Discarded, nil
	}
	if forward {
		s.fetchingForward = false
	} else {
		s.fetchingBackward = false
	}
	if err != nil {
		retry := s.FetchBackward
		if forward {
			retry = s.FetchForward
		}
		return s.failLocked(dir, page, err, retry)
	}
	s.pages[page] = items
	if forward {
		s.window.Max = page
	} else {
		s.window.Min = page
	}
	s.meta = mergeMeta(s.meta, meta, page, s.window)
	return s.applyLocked(dir, page)
}

// Reload refetches an already loaded page and merges it back in place.
// Reloading an unchanged page leaves the item set unchanged.
func (s *Source) Reload(ctx context.Context, page int) (Outcome, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Skipped, nil
	}
	if !s.window.Contains(page) {
		window := s.window
		s.mu.Unlock()
		return Skipped, errors.New(errors.ErrCodeInvalidInput, "page %d is not loaded (window %s)", page, window)
	}
	gen := s.generation
	started := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeStarted, Direction: DirReload, Page: page, Snapshot: started})
	meta, items, err := s.fetch(ctx, DirReload, page)

	s.mu.Lock()
	if gen != s.generation || s.disposed {
		s.mu.Unlock()
		return Discarded, nil
	}
	if err != nil {
		return s.failLocked(DirReload, page, err, func(ctx context.Context) (Outcome, error) {
			return s.Reload(ctx, page)
		})
	}
	s.pages[page] = items
	s.meta = mergeMeta(s.meta, meta, page, s.window)
	return s.applyLocked(DirReload, page)
}

// Retry re-issues every failed operation, oldest first. It is the only way
// to recover from a fetch error; nothing is retried automatically.
//
// The result is that of the first retry that fails again, otherwise Applied
// if any retry applied a page.
func (s *Source) Retry(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.disposed || len(s.failures) == 0 {
		s.mu.Unlock()
		return Skipped, nil
	}
	pending := slices.SortedFunc(maps.Values(s.failures), func(a, b failure) int {
		return cmp.Compare(a.seq, b.seq)
	})
	clear(s.failures)
	s.mu.Unlock()

	outcome := Skipped
	var firstErr error
	for _, f := range pending {
		o, err := f.retry(ctx)
		switch {
		case err != nil && firstErr == nil:
			outcome, firstErr = o, err
		case firstErr == nil && o == Applied:
			outcome = Applied
		}
	}
	return outcome, firstErr
}

// Dispose tears the source down. In-flight requests are cancelled and their
// results discarded; every later call is a no-op. Dispose is idempotent.
func (s *Source) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.generation++
	s.loading = false
	s.fetchingForward = false
	s.fetchingBackward = false
	clear(s.failures)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.cancel()
	s.emit(Change{Kind: ChangeDisposed, Snapshot: snap})
}

func (s *Source) fetch(ctx context.Context, dir Direction, page int) (Meta, []Item, error) {
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	hooks := observability.Fetch()
	hooks.OnFetchStart(fctx, string(dir), page)
	start := time.Now()

	req := Request{Page: page, Limit: s.opts.PageSize, Filters: maps.Clone(s.opts.Filters)}
	resp, err := s.provider.Fetch(fctx, req)
	var meta Meta
	if err == nil {
		meta, err = DeriveMeta(resp, page, req.Limit)
	}
	if err != nil {
		if !errors.Is(err, errors.ErrCodeInvalidPagination) {
			err = errors.Wrap(errors.ErrCodeFetchFailed, err, "fetch page %d", page)
		}
		hooks.OnFetchComplete(fctx, string(dir), page, 0, time.Since(start), err)
		return Meta{}, nil, err
	}

	items := s.opts.Mapping.MapAll(resp.Items)
	hooks.OnFetchComplete(fctx, string(dir), page, len(items), time.Since(start), nil)
	s.logger.Debug("fetched page", "direction", dir, "page", page, "items", len(items), "duration", time.Since(start))
	return meta, items, nil
}

// applyLocked rebuilds the item set, unlocks and notifies.
func (s *Source) applyLocked(dir Direction, page int) (Outcome, error) {
	s.rebuildLocked()
	delete(s.failures, dir)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeApplied, Direction: dir, Page: page, Snapshot: snap})
	return Applied, nil
}

// failLocked records err against dir, unlocks and notifies.
func (s *Source) failLocked(dir Direction, page int, err error, retry func(context.Context) (Outcome, error)) (Outcome, error) {
	s.failSeq++
	s.failures[dir] = failure{err: err, retry: retry, seq: s.failSeq}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.logger.Warn("fetch failed", "direction", dir, "page", page, "err", err)
	s.emit(Change{Kind: ChangeFailed, Direction: dir, Page: page, Err: err, Snapshot: snap})
	return Failed, err
}

// rebuildLocked flattens the window into a fresh item slice. The first
// occurrence of an ID wins.
func (s *Source) rebuildLocked() {
	seen := make(map[string]struct{}, len(s.items))
	items := make([]Item, 0, len(s.items)+s.opts.PageSize)
	for p := s.window.Min; p <= s.window.Max; p++ {
		for _, it := range s.pages[p] {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			items = append(items, it)
		}
	}
	s.items = items
}

func (s *Source) emit(c Change) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(c)
	}
}

// mergeMeta folds the metadata of a freshly fetched page into cur. Edge
// flags only change when page sits on the matching edge of window.
func mergeMeta(cur, next Meta, page int, window PageRange) Meta {
	out := cur
	out.Page = page
	if next.TotalPages > 0 {
		out.TotalPages = next.TotalPages
	}
	if next.TotalItems > 0 {
		out.TotalItems = next.TotalItems
	}
	if page == window.Max {
		out.HasNextPage = next.HasNextPage
	}
	if page == window.Min {
		out.HasPrevPage = next.HasPrevPage
	}
	return out
}
