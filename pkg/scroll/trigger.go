package scroll

import (
	"context"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/notify"
)

// DefaultThreshold is the prefetch distance in px-equivalent units.
const DefaultThreshold = 200

// Phase is the state of one fetch direction.
type Phase int

const (
	Idle Phase = iota
	Fetching
	Disposed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// Source is the part of [feed.Source] the trigger drives.
type Source interface {
	Snapshot() feed.Snapshot
	FetchForward(ctx context.Context) (feed.Outcome, error)
	FetchBackward(ctx context.Context) (feed.Outcome, error)
}

// Result describes a completed fetch.
type Result struct {
	Edge    notify.Edge
	Outcome feed.Outcome
	Err     error
}

// Options configures a [Trigger].
type Options struct {
	// Threshold is the distance at which a sentinel counts as near.
	// Zero is unset and uses DefaultThreshold, so touching-only detection
	// is not expressible; negative values require actual overlap.
	Threshold float64

	// Continuous re-evaluates the last near signal after every applied
	// fetch. Use it with hosts that only report crossings, where a sentinel
	// that stays in view would otherwise never fire again.
	Continuous bool

	// OnResult is called after each fetch the trigger started, unless the
	// trigger was disposed in the meantime.
	OnResult func(Result)

	Logger *log.Logger
}

// Trigger starts forward and backward fetches from boundary signals.
type Trigger struct {
	src    Source
	opts   Options
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	phases   [2]Phase
	last     [2]notify.Boundary
	seen     [2]bool
	notifier notify.VisibilityNotifier
	handle   notify.Handle
	attached bool
}

// New creates an idle trigger for src.
func New(src Source, opts Options) *Trigger {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		src:    src,
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Attach registers the trigger with a visibility notifier. A trigger can be
// attached to one notifier at a time.
func (t *Trigger) Attach(n notify.VisibilityNotifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phases[notify.Bottom] == Disposed {
		return errors.New(errors.ErrCodeObserverDisposed, "trigger is disposed")
	}
	if t.attached {
		return errors.New(errors.ErrCodeInvalidInput, "trigger is already attached")
	}
	h, err := n.Register(func(b notify.Boundary) { t.Signal(b) })
	if err != nil {
		return err
	}
	t.notifier, t.handle, t.attached = n, h, true
	return nil
}

// Phase returns the state of the direction served by edge.
func (t *Trigger) Phase(edge notify.Edge) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phases[edge]
}

// Signal handles one boundary event and reports whether it started a fetch.
// It never blocks on I/O.
func (t *Trigger) Signal(b notify.Boundary) bool {
	if b.Edge != notify.Top && b.Edge != notify.Bottom {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phases[b.Edge] == Disposed {
		return false
	}
	t.last[b.Edge], t.seen[b.Edge] = b, true
	return t.maybeStartLocked(b)
}

// Recheck re-evaluates the most recent signal of each edge.
func (t *Trigger) Recheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, edge := range []notify.Edge{notify.Bottom, notify.Top} {
		if t.seen[edge] && t.phases[edge] == Idle {
			t.maybeStartLocked(t.last[edge])
		}
	}
}

func (t *Trigger) maybeStartLocked(b notify.Boundary) bool {
	if b.Distance > t.opts.Threshold {
		return false
	}
	if t.phases[b.Edge] != Idle {
		return false
	}

	snap := t.src.Snapshot()
	fetch, reason := t.src.FetchForward, snap.ForwardBlocker()
	if b.Edge == notify.Top {
		fetch, reason = t.src.FetchBackward, snap.BackwardBlocker()
	}
	if reason != "" {
		t.logger.Debug("boundary ignored", "edge", b.Edge, "distance", b.Distance, "reason", reason)
		return false
	}

	t.phases[b.Edge] = Fetching
	t.wg.Add(1)
	go t.run(b.Edge, fetch)
	return true
}

func (t *Trigger) run(edge notify.Edge, fetch func(context.Context) (feed.Outcome, error)) {
	defer t.wg.Done()
	outcome, err := fetch(t.ctx)

	t.mu.Lock()
	if t.phases[edge] == Disposed {
		t.mu.Unlock()
		return
	}
	t.phases[edge] = Idle
	t.mu.Unlock()

	t.logger.Debug("fetch finished", "edge", edge, "outcome", outcome, "err", err)
	if t.opts.OnResult != nil {
		t.opts.OnResult(Result{Edge: edge, Outcome: outcome, Err: err})
	}
	if t.opts.Continuous && outcome == feed.Applied {
		t.Recheck()
	}
}

// Dispose moves both directions to Disposed, cancels in-flight fetches and
// unregisters from the notifier. It does not wait for fetch goroutines; see
// [Trigger.Wait].
func (t *Trigger) Dispose() {
	t.mu.Lock()
	if t.phases[notify.Bottom] == Disposed {
		t.mu.Unlock()
		return
	}
	t.phases = [2]Phase{Disposed, Disposed}
	n, h, attached := t.notifier, t.handle, t.attached
	t.attached = false
	t.mu.Unlock()

	t.cancel()
	if attached {
		n.Unregister(h)
	}
}

// Wait blocks until every fetch started by the trigger has returned.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
