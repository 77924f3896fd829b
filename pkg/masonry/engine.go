package masonry

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/notify"
	"github.com/matzehuels/masonry/pkg/observability"
	"github.com/matzehuels/masonry/pkg/scroll"
)

// eventBuffer bounds the number of queued events before posters block.
const eventBuffer = 64

// EngineOptions are the collaborators of an [Engine].
type EngineOptions struct {
	// Provider supplies pages. Required.
	Provider feed.Provider

	// Viewport reports container resizes. Optional; see [Engine.Resize].
	Viewport notify.ViewportNotifier

	// Visibility reports sentinel distances. Optional; see [Engine.Signal].
	Visibility notify.VisibilityNotifier

	// Width is the container width used before the first resize report.
	Width float64

	Logger *log.Logger
}

// Engine runs one layout instance. Every state change goes through
// [Reduce] on a single goroutine; subscribers are called on that goroutine
// with each new State.
type Engine struct {
	cfg    Config
	opts   EngineOptions
	logger *log.Logger

	source  *feed.Source
	trigger *scroll.Trigger
	resize  *notify.Debouncer[notify.Size]

	events  chan envelope
	done    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	state     State
	subs      map[int]func(State)
	nextSub   int
	started   bool
	closed    bool
	vpHandle  notify.Handle
	visHandle notify.Handle
	vpOK      bool
	visOK     bool
	closeOnce sync.Once
}

type envelope struct {
	ev     Event
	change *feed.Change
	ack    chan struct{}
}

// barrier is posted by Flush; it reaches the loop after everything queued
// before it.
type barrier struct{}

func (barrier) Name() string { return "barrier" }

// NewEngine creates an engine and starts its event loop. Nothing is
// fetched until [Engine.Start].
func NewEngine(cfg Config, opts EngineOptions) (*Engine, error) {
	if opts.Provider == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "provider is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if err := cfg.Prepare(opts.Logger); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Logger,
		events:  make(chan envelope, eventBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		state:   NewState(),
		subs:    make(map[int]func(State)),
	}

	srcOpts := cfg.SourceOptions()
	srcOpts.Logger = opts.Logger
	srcOpts.OnChange = func(c feed.Change) { e.post(envelope{change: &c}) }
	src, err := feed.NewSource(opts.Provider, srcOpts)
	if err != nil {
		return nil, err
	}
	e.source = src

	if cfg.EnablePagination && cfg.InfiniteScroll {
		e.trigger = scroll.New(src, scroll.Options{
			Threshold:  cfg.InfiniteScrollThreshold,
			Continuous: true,
			Logger:     opts.Logger,
		})
	}
	e.resize = notify.NewDebouncer(cfg.ResizeDebounce, func(sz notify.Size) {
		e.post(envelope{ev: ResizeEvent{Size: sz}})
	})

	go e.loop()
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Source returns the underlying data source.
func (e *Engine) Source() *feed.Source { return e.source }

// State returns the latest published state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers fn for every new State and returns a function that
// removes it. fn runs on the engine goroutine and must not call
// [Engine.Close] or [Engine.Flush].
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Start registers with the notifiers and loads the initial page in the
// background. It can be called once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New(errors.ErrCodeDisposed, "engine is closed")
	}
	if e.started {
		e.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidInput, "engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.attach(); err != nil {
		return err
	}
	if e.opts.Width > 0 {
		e.post(envelope{ev: ResizeEvent{Size: notify.Size{Width: e.opts.Width}}})
	}

	e.logger.Debug("starting layout", "config", e.cfg.String(), "page", e.cfg.InitialPage)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.source.FetchInitial(ctx, e.cfg.InitialPage)
	}()
	return nil
}

func (e *Engine) attach() error {
	if vp := e.opts.Viewport; vp != nil {
		h, err := vp.Register(e.Resize)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.vpHandle, e.vpOK = h, true
		e.mu.Unlock()
	}
	if vis := e.opts.Visibility; vis != nil {
		h, err := vis.Register(e.Signal)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.visHandle, e.visOK = h, true
		e.mu.Unlock()
	}
	return nil
}

// Resize reports a container size. Bursts are debounced.
func (e *Engine) Resize(sz notify.Size) {
	e.resize.Push(sz)
}

// Signal reports a sentinel distance. With infinite scroll enabled a near
// sentinel loads the adjacent page.
func (e *Engine) Signal(b notify.Boundary) {
	e.post(envelope{ev: BoundaryEvent{Boundary: b}})
}

// LoadMore fetches the next page and blocks until it is applied.
func (e *Engine) LoadMore(ctx context.Context) (feed.Outcome, error) {
	if !e.cfg.EnablePagination {
		e.logger.Debug("load more ignored", "reason", "pagination disabled")
		return feed.Skipped, nil
	}
	return e.source.FetchForward(ctx)
}

// LoadPrevious fetches the page before the loaded window.
func (e *Engine) LoadPrevious(ctx context.Context) (feed.Outcome, error) {
	if !e.cfg.EnablePagination {
		e.logger.Debug("load previous ignored", "reason", "pagination disabled")
		return feed.Skipped, nil
	}
	return e.source.FetchBackward(ctx)
}

// Retry re-issues every failed fetch. See [feed.Source.Retry].
func (e *Engine) Retry(ctx context.Context) (feed.Outcome, error) {
	outcome, err := e.source.Retry(ctx)
	if outcome == feed.Applied && e.trigger != nil {
		e.trigger.Recheck()
	}
	return outcome, err
}

// Reload refetches a loaded page in place.
func (e *Engine) Reload(ctx context.Context, page int) (feed.Outcome, error) {
	return e.source.Reload(ctx, page)
}

// Flush delivers a pending resize and waits until every event queued so
// far has been reduced and published.
func (e *Engine) Flush() {
	e.resize.Flush()
	ack := make(chan struct{})
	if !e.post(envelope{ev: barrier{}, ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-e.stopped:
	}
}

// Close tears the layout down: notifier registrations are dropped,
// in-flight fetches are cancelled and their results discarded, and a
// final disposed State is published. Close is idempotent and waits for
// every goroutine the engine started.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		vpHandle, vpOK := e.vpHandle, e.vpOK
		visHandle, visOK := e.visHandle, e.visOK
		e.vpOK, e.visOK = false, false
		e.mu.Unlock()

		if vpOK {
			e.opts.Viewport.Unregister(vpHandle)
		}
		if visOK {
			e.opts.Visibility.Unregister(visHandle)
		}
		e.resize.Stop()
		if e.trigger != nil {
			e.trigger.Dispose()
		}
		e.source.Dispose()
		e.Flush()

		close(e.done)
		<-e.stopped
		if e.trigger != nil {
			e.trigger.Wait()
		}
		e.wg.Wait()
	})
}

// post queues env. It reports false once the loop has stopped.
func (e *Engine) post(env envelope) bool {
	select {
	case e.events <- env:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case env := <-e.events:
			e.handle(env)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) handle(env envelope) {
	defer func() {
		if env.ack != nil {
			close(env.ack)
		}
	}()

	ev := env.ev
	if env.change != nil {
		ev = e.eventFor(*env.change)
	}
	if _, ok := ev.(barrier); ok {
		return
	}

	start := time.Now()
	prev := e.State()
	next := Reduce(e.cfg, prev, ev)
	if prev.Disposed {
		return
	}

	e.mu.Lock()
	e.state = next
	subs := make([]func(State), 0, len(e.subs))
	for id := 1; id <= e.nextSub; id++ {
		if fn, ok := e.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	e.mu.Unlock()

	if next.Pass != prev.Pass {
		d := time.Since(start)
		observability.Layout().OnLayout(context.Background(), next.ColumnCount, len(next.Items), string(e.cfg.DistributionStrategy), d)
		e.logger.Debug("layout pass", "event", ev.Name(), "pass", next.Pass, "columns", next.ColumnCount, "items", len(next.Items), "duration", d)
	}
	if b, ok := ev.(BoundaryEvent); ok && e.trigger != nil {
		e.trigger.Signal(b.Boundary)
	}
	for _, fn := range subs {
		fn(next)
	}
}

// eventFor converts a data source change. Changes are posted from fetch
// goroutines and may arrive out of order, so the latest snapshot is used
// instead of the one carried by the change.
func (e *Engine) eventFor(c feed.Change) Event {
	snap := e.source.Snapshot()
	switch c.Kind {
	case feed.ChangeStarted:
		return FetchStartedEvent{Direction: c.Direction, Page: c.Page, Snapshot: snap}
	case feed.ChangeApplied:
		return FetchSucceededEvent{Direction: c.Direction, Page: c.Page, Snapshot: snap}
	case feed.ChangeFailed:
		return FetchFailedEvent{Direction: c.Direction, Page: c.Page, Err: c.Err, Snapshot: snap}
	default:
		return DisposeEvent{}
	}
}
