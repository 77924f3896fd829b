package feed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/masonry/pkg/errors"
)

// upstream serves total items in pages and records every request.
type upstream struct {
	mu    sync.Mutex
	total int
	fail  map[int]error
	calls []Request
}

func (u *upstream) Fetch(ctx context.Context, req Request) (*Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, req)
	if err := u.fail[req.Page]; err != nil {
		return nil, err
	}
	start := (req.Page - 1) * req.Limit
	end := min(start+req.Limit, u.total)
	var items []map[string]any
	for i := start; i < end; i++ {
		items = append(items, map[string]any{"id": fmt.Sprintf("item-%d", i), "title": fmt.Sprintf("Item %d", i)})
	}
	total := u.total
	return &Response{Items: items, Total: &total}, nil
}

func (u *upstream) callsFor(page int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.calls {
		if c.Page == page {
			n++
		}
	}
	return n
}

func (u *upstream) setFail(page int, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail == nil {
		u.fail = map[int]error{}
	}
	if err == nil {
		delete(u.fail, page)
		return
	}
	u.fail[page] = err
}

// gate blocks fetches of selected pages until released. It ignores ctx so a
// cancelled request still resolves late, like a provider that does not
// observe cancellation.
type gate struct {
	next    Provider
	page    atomic.Int64
	entered chan int
	release chan struct{}
}

func newGate(next Provider, page int) *gate {
	g := &gate{next: next, entered: make(chan int, 4), release: make(chan struct{})}
	g.page.Store(int64(page))
	return g
}

func (g *gate) Fetch(ctx context.Context, req Request) (*Response, error) {
	if int64(req.Page) == g.page.Load() {
		g.entered <- req.Page
		<-g.release
	}
	return g.next.Fetch(context.Background(), req)
}

func newTestSource(t *testing.T, p Provider, opts Options) *Source {
	t.Helper()
	src, err := NewSource(p, opts)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	t.Cleanup(src.Dispose)
	return src
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// expect returns a checker for the (Outcome, error) pair of a source call.
func expect(t *testing.T, want Outcome) func(Outcome, error) {
	t.Helper()
	return func(got Outcome, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("outcome = %s, want %s", got, want)
		}
	}
}

func TestNewSourceValidation(t *testing.T) {
	if _, err := NewSource(nil, Options{}); err == nil {
		t.Error("nil provider should fail")
	}
	if _, err := NewSource(&upstream{}, Options{Filters: map[string]string{"page": "2"}}); err == nil {
		t.Error("reserved filter key should fail")
	}
	src, err := NewSource(&upstream{}, Options{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	opts := src.Options()
	if opts.PageSize != DefaultPageSize || opts.MaxPageGap != DefaultMaxPageGap || opts.Mapping.ID != "id" {
		t.Errorf("defaults not applied: %+v", opts)
	}
}

func TestFetchInitial(t *testing.T) {
	up := &upstream{total: 25}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	o, err := src.FetchInitial(ctx, 0)
	expect(t, Applied)(o, err)

	snap := src.Snapshot()
	if snap.Range != (PageRange{Min: 1, Max: 1}) {
		t.Errorf("Range = %v, want [1..1]", snap.Range)
	}
	if len(snap.Items) != 10 || snap.Items[0].ID != "item-0" {
		t.Errorf("Items = %v", ids(snap.Items))
	}
	if snap.Loading || snap.Err != nil {
		t.Errorf("Loading = %v, Err = %v", snap.Loading, snap.Err)
	}
	want := Meta{Page: 1, TotalPages: 3, TotalItems: 25, HasNextPage: true}
	if snap.Meta != want {
		t.Errorf("Meta = %+v, want %+v", snap.Meta, want)
	}
}

func TestFetchForwardAppends(t *testing.T) {
	up := &upstream{total: 25}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Applied)(src.FetchForward(ctx))
	expect(t, Applied)(src.FetchForward(ctx))

	snap := src.Snapshot()
	if snap.Range != (PageRange{Min: 1, Max: 3}) {
		t.Errorf("Range = %v", snap.Range)
	}
	if len(snap.Items) != 25 || snap.Items[24].ID != "item-24" {
		t.Errorf("Items = %v", ids(snap.Items))
	}
	if snap.Meta.HasNextPage {
		t.Error("HasNextPage should be false after the last page")
	}

	// Last page loaded: further forward fetches are guarded.
	o, err := src.FetchForward(ctx)
	expect(t, Skipped)(o, err)
	if up.callsFor(4) != 0 {
		t.Error("page 4 should never be requested")
	}
}

func TestFetchBackwardPrepends(t *testing.T) {
	up := &upstream{total: 50}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 3))
	snap := src.Snapshot()
	if !snap.Meta.HasPrevPage {
		t.Fatal("page 3 should have a previous page")
	}

	expect(t, Applied)(src.FetchBackward(ctx))
	snap = src.Snapshot()
	if snap.Range != (PageRange{Min: 2, Max: 3}) {
		t.Errorf("Range = %v", snap.Range)
	}
	if snap.Items[0].ID != "item-10" || snap.Items[10].ID != "item-20" {
		t.Errorf("backward page should be prepended: %v", ids(snap.Items))
	}

	expect(t, Applied)(src.FetchBackward(ctx))
	snap = src.Snapshot()
	if snap.Meta.HasPrevPage || snap.Range.Min != 1 {
		t.Errorf("after page 1: Meta = %+v, Range = %v", snap.Meta, snap.Range)
	}
	if !snap.Meta.HasNextPage {
		t.Error("backward fetches must not clear HasNextPage")
	}

	o, err := src.FetchBackward(ctx)
	expect(t, Skipped)(o, err)
}

func TestGuardsWithoutItems(t *testing.T) {
	up := &upstream{total: 0}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Skipped)(src.FetchForward(ctx))
	expect(t, Skipped)(src.FetchBackward(ctx))
}

func TestGuardsBeforeInitial(t *testing.T) {
	src := newTestSource(t, &upstream{total: 100}, Options{})
	expect(t, Skipped)(src.FetchForward(context.Background()))
	expect(t, Skipped)(src.FetchBackward(context.Background()))
}

func TestGapRejection(t *testing.T) {
	up := &upstream{total: 1000}
	src := newTestSource(t, up, Options{PageSize: 10, MaxPageGap: 2})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Applied)(src.FetchForward(ctx))
	expect(t, Applied)(src.FetchForward(ctx))
	expect(t, GapRejected)(src.FetchForward(ctx))

	snap := src.Snapshot()
	if snap.Range != (PageRange{Min: 1, Max: 3}) || snap.Err != nil {
		t.Errorf("Range = %v, Err = %v", snap.Range, snap.Err)
	}
	if up.callsFor(4) != 0 {
		t.Error("gap-rejected page must not be requested")
	}
}

func TestGapInvariantHoldsForAnySequence(t *testing.T) {
	const gap = 3
	up := &upstream{total: 500}
	src := newTestSource(t, up, Options{PageSize: 5, MaxPageGap: gap})
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	expect(t, Applied)(src.FetchInitial(ctx, 50))
	for step := range 400 {
		switch rng.IntN(5) {
		case 0, 1:
			_, _ = src.FetchForward(ctx)
		case 2, 3:
			_, _ = src.FetchBackward(ctx)
		case 4:
			if rng.IntN(10) == 0 {
				_, _ = src.FetchInitial(ctx, 1+rng.IntN(100))
			} else {
				snap := src.Snapshot()
				_, _ = src.Reload(ctx, snap.Range.Min+rng.IntN(snap.Range.Span()+1))
			}
		}

		snap := src.Snapshot()
		if snap.Range.Span() > gap {
			t.Fatalf("step %d: range %v exceeds gap %d", step, snap.Range, gap)
		}
		pages := snap.Range.Max - snap.Range.Min + 1
		if len(snap.Items) != pages*5 {
			t.Fatalf("step %d: %d items for %d pages", step, len(snap.Items), pages)
		}
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	up := &upstream{total: 100}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Applied)(src.FetchForward(ctx))
	before := ids(src.Snapshot().Items)

	for _, page := range []int{1, 2, 2, 1} {
		expect(t, Applied)(src.Reload(ctx, page))
	}
	if after := ids(src.Snapshot().Items); !slices.Equal(before, after) {
		t.Errorf("reload changed items:\n before %v\n after  %v", before, after)
	}

	o, err := src.Reload(ctx, 7)
	if o != Skipped || !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Reload(unloaded) = %s, %v", o, err)
	}
}

func TestDedupAcrossOverlappingPages(t *testing.T) {
	// Page 2 repeats the last item of page 1, as happens when an item is
	// inserted upstream between two fetches.
	p := ProviderFunc(func(ctx context.Context, req Request) (*Response, error) {
		pages := map[int][]map[string]any{
			1: {{"id": "a"}, {"id": "b"}},
			2: {{"id": "b"}, {"id": "c"}},
		}
		return &Response{Items: pages[req.Page], Pagination: &Meta{HasNextPage: req.Page < 2, HasPrevPage: req.Page > 1}}, nil
	})
	src := newTestSource(t, p, Options{PageSize: 2})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Applied)(src.FetchForward(ctx))

	if got := ids(src.Snapshot().Items); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Items = %v, want [a b c]", got)
	}
}

func TestSingleForwardFetchInFlight(t *testing.T) {
	up := &upstream{total: 100}
	g := newGate(up, 2)
	src := newTestSource(t, g, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))

	done := make(chan Outcome, 1)
	go func() {
		o, _ := src.FetchForward(ctx)
		done <- o
	}()
	<-g.entered

	if !src.Snapshot().FetchingForward {
		t.Error("FetchingForward should be set while the request is in flight")
	}
	for range 3 {
		expect(t, Skipped)(src.FetchForward(ctx))
	}

	close(g.release)
	if o := <-done; o != Applied {
		t.Fatalf("forward outcome = %s", o)
	}
	if n := up.callsFor(2); n != 1 {
		t.Errorf("page 2 requested %d times, want 1", n)
	}
	if src.Snapshot().FetchingForward {
		t.Error("FetchingForward should be cleared")
	}
}

func TestForwardAndBackwardRunConcurrently(t *testing.T) {
	up := &upstream{total: 100}
	g := newGate(up, 6)
	src := newTestSource(t, g, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 5))

	done := make(chan Outcome, 1)
	go func() {
		o, _ := src.FetchForward(ctx)
		done <- o
	}()
	<-g.entered

	// Backward proceeds while forward is blocked.
	expect(t, Applied)(src.FetchBackward(ctx))
	snap := src.Snapshot()
	if !snap.FetchingForward || snap.FetchingBackward {
		t.Errorf("flags = fwd %v bwd %v", snap.FetchingForward, snap.FetchingBackward)
	}

	close(g.release)
	if o := <-done; o != Applied {
		t.Fatalf("forward outcome = %s", o)
	}
	if r := src.Snapshot().Range; r != (PageRange{Min: 4, Max: 6}) {
		t.Errorf("Range = %v, want [4..6]", r)
	}
}

func TestGapCountsInFlightFetch(t *testing.T) {
	up := &upstream{total: 100}
	g := newGate(up, 6)
	src := newTestSource(t, g, Options{PageSize: 10, MaxPageGap: 1})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 5))

	done := make(chan Outcome, 1)
	go func() {
		o, _ := src.FetchForward(ctx)
		done <- o
	}()
	<-g.entered

	// Page 4 fits the committed window [5..5] but not [5..6] once the
	// forward request lands.
	expect(t, GapRejected)(src.FetchBackward(ctx))
	if n := up.callsFor(4); n != 0 {
		t.Errorf("page 4 requested %d times, want 0", n)
	}

	close(g.release)
	if o := <-done; o != Applied {
		t.Fatalf("forward outcome = %s", o)
	}
	r := src.Snapshot().Range
	if r != (PageRange{Min: 5, Max: 6}) {
		t.Errorf("Range = %v, want [5..6]", r)
	}
	if r.Span() > 1 {
		t.Errorf("span of %v exceeds the page gap", r)
	}
	expect(t, GapRejected)(src.FetchBackward(ctx))
}

func TestEdgeFailuresAreIndependent(t *testing.T) {
	up := &upstream{total: 100}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 5))
	up.setFail(4, fmt.Errorf("upstream 503"))

	if o, err := src.FetchBackward(ctx); o != Failed || err == nil {
		t.Fatalf("FetchBackward = %s, %v; want failed", o, err)
	}
	expect(t, Applied)(src.FetchForward(ctx))
	if n := up.callsFor(6); n != 1 {
		t.Errorf("page 6 requested %d times, want 1", n)
	}

	snap := src.Snapshot()
	if snap.BackwardErr == nil || snap.ForwardErr != nil || snap.Err == nil {
		t.Errorf("errors: backward = %v, forward = %v, latest = %v", snap.BackwardErr, snap.ForwardErr, snap.Err)
	}
	if snap.Range != (PageRange{Min: 5, Max: 6}) {
		t.Errorf("Range = %v, want [5..6]", snap.Range)
	}
	expect(t, Skipped)(src.FetchBackward(ctx))

	up.setFail(4, nil)
	expect(t, Applied)(src.Retry(ctx))
	snap = src.Snapshot()
	if snap.Err != nil || snap.BackwardErr != nil || snap.Range != (PageRange{Min: 4, Max: 6}) {
		t.Errorf("after retry: err = %v, range = %v", snap.Err, snap.Range)
	}
}

func TestReloadFailureDoesNotBlockEdges(t *testing.T) {
	up := &upstream{total: 100}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 2))
	up.setFail(2, fmt.Errorf("upstream 503"))
	if o, _ := src.Reload(ctx, 2); o != Failed {
		t.Fatalf("Reload = %s, want failed", o)
	}

	expect(t, Applied)(src.FetchForward(ctx))
	expect(t, Applied)(src.FetchBackward(ctx))
	if src.Snapshot().Err == nil {
		t.Error("the reload failure should still await retry")
	}

	up.setFail(2, nil)
	expect(t, Applied)(src.Retry(ctx))
	if snap := src.Snapshot(); snap.Err != nil || snap.Range != (PageRange{Min: 1, Max: 3}) || len(snap.Items) != 30 {
		t.Errorf("after retry: err = %v, range = %v, items = %d", snap.Err, snap.Range, len(snap.Items))
	}
}

func TestRetryReissuesEveryFailure(t *testing.T) {
	up := &upstream{total: 100}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 5))
	up.setFail(4, fmt.Errorf("upstream 503"))
	up.setFail(6, fmt.Errorf("upstream 503"))
	src.FetchBackward(ctx)
	src.FetchForward(ctx)

	// Page 6 keeps failing: Retry reports it and keeps only that failure.
	up.setFail(4, nil)
	if o, err := src.Retry(ctx); o != Failed || err == nil {
		t.Fatalf("Retry = %s, %v; want failed", o, err)
	}
	snap := src.Snapshot()
	if snap.Range != (PageRange{Min: 4, Max: 5}) || snap.BackwardErr != nil || snap.ForwardErr == nil {
		t.Errorf("range = %v, backward = %v, forward = %v", snap.Range, snap.BackwardErr, snap.ForwardErr)
	}

	up.setFail(6, nil)
	expect(t, Applied)(src.Retry(ctx))
	if r := src.Snapshot().Range; r != (PageRange{Min: 4, Max: 6}) {
		t.Errorf("Range = %v, want [4..6]", r)
	}
}

func TestDisposeDiscardsLateResult(t *testing.T) {
	up := &upstream{total: 100}
	g := newGate(up, 2)
	src := newTestSource(t, g, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	before := src.Snapshot()

	done := make(chan Outcome, 1)
	go func() {
		o, _ := src.FetchForward(ctx)
		done <- o
	}()
	<-g.entered

	src.Dispose()
	close(g.release)

	if o := <-done; o != Discarded {
		t.Errorf("late outcome = %s, want discarded", o)
	}
	if up.callsFor(2) != 1 {
		t.Fatal("spy provider should have resolved the late request")
	}

	after := src.Snapshot()
	if !after.Disposed {
		t.Error("Disposed should be set")
	}
	if !slices.Equal(ids(before.Items), ids(after.Items)) || after.Range != before.Range || after.Meta != before.Meta {
		t.Errorf("disposed source mutated: %v -> %v", before.Range, after.Range)
	}

	// Every later call is a no-op.
	expect(t, Skipped)(src.FetchInitial(ctx, 1))
	expect(t, Skipped)(src.FetchForward(ctx))
	expect(t, Skipped)(src.Retry(ctx))
	src.Dispose()
}

func TestDisposeCancelsContext(t *testing.T) {
	entered := make(chan struct{})
	p := ProviderFunc(func(ctx context.Context, req Request) (*Response, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	src := newTestSource(t, p, Options{})

	done := make(chan Outcome, 1)
	go func() {
		o, _ := src.FetchInitial(context.Background(), 1)
		done <- o
	}()
	<-entered
	src.Dispose()

	select {
	case o := <-done:
		if o != Discarded {
			t.Errorf("outcome = %s, want discarded", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose did not cancel the in-flight request")
	}
}

func TestResetDiscardsInFlightFetch(t *testing.T) {
	up := &upstream{total: 100}
	g := newGate(up, 2)
	src := newTestSource(t, g, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	done := make(chan Outcome, 1)
	go func() {
		o, _ := src.FetchForward(ctx)
		done <- o
	}()
	<-g.entered

	expect(t, Applied)(src.FetchInitial(ctx, 5))
	close(g.release)

	if o := <-done; o != Discarded {
		t.Errorf("outcome = %s, want discarded", o)
	}
	if r := src.Snapshot().Range; r != (PageRange{Min: 5, Max: 5}) {
		t.Errorf("Range = %v, want [5..5]", r)
	}
}

func TestFailureAndExplicitRetry(t *testing.T) {
	up := &upstream{total: 100}
	src := newTestSource(t, up, Options{PageSize: 10})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	up.setFail(2, fmt.Errorf("upstream 503"))

	o, err := src.FetchForward(ctx)
	if o != Failed || !errors.Is(err, errors.ErrCodeFetchFailed) {
		t.Fatalf("FetchForward = %s, %v", o, err)
	}
	snap := src.Snapshot()
	if snap.Err == nil || len(snap.Items) != 10 || snap.FetchingForward {
		t.Errorf("after failure: err=%v items=%d fetching=%v", snap.Err, len(snap.Items), snap.FetchingForward)
	}

	// No automatic retry: further forward fetches are held until Retry.
	expect(t, Skipped)(src.FetchForward(ctx))
	if up.callsFor(2) != 1 {
		t.Errorf("page 2 requested %d times before Retry", up.callsFor(2))
	}

	up.setFail(2, nil)
	expect(t, Applied)(src.Retry(ctx))
	snap = src.Snapshot()
	if snap.Err != nil || snap.Range.Max != 2 {
		t.Errorf("after retry: err=%v range=%v", snap.Err, snap.Range)
	}
	expect(t, Skipped)(src.Retry(ctx))
}

func TestInvalidPaginationIsFetchError(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Meta: map[string]any{"total": "lots"}}, nil
	})
	src := newTestSource(t, p, Options{})

	o, err := src.FetchInitial(context.Background(), 1)
	if o != Failed || !errors.Is(err, errors.ErrCodeInvalidPagination) {
		t.Errorf("FetchInitial = %s, %v", o, err)
	}
	if src.Snapshot().Loading {
		t.Error("Loading should be cleared after failure")
	}
}

func TestOnChange(t *testing.T) {
	var mu sync.Mutex
	var kinds []ChangeKind
	up := &upstream{total: 30}
	src := newTestSource(t, up, Options{PageSize: 10, OnChange: func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, c.Kind)
		if c.Kind == ChangeStarted && c.Direction == DirInitial && !c.Snapshot.Loading {
			t.Error("initial start snapshot should be loading")
		}
	}})
	ctx := context.Background()

	expect(t, Applied)(src.FetchInitial(ctx, 1))
	expect(t, Applied)(src.FetchForward(ctx))
	expect(t, Skipped)(src.FetchBackward(ctx))
	src.Dispose()

	mu.Lock()
	defer mu.Unlock()
	want := []ChangeKind{ChangeStarted, ChangeApplied, ChangeStarted, ChangeApplied, ChangeDisposed}
	if !slices.Equal(kinds, want) {
		t.Errorf("changes = %v, want %v", kinds, want)
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{
		Applied: "applied", Skipped: "skipped", GapRejected: "gap-rejected",
		Discarded: "discarded", Failed: "failed", Outcome(99): "unknown",
	} {
		if o.String() != want {
			t.Errorf("%d.String() = %q, want %q", o, o.String(), want)
		}
	}
}
