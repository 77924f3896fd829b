package masonry

import (
	"github.com/matzehuels/masonry/pkg/columns"
	"github.com/matzehuels/masonry/pkg/distribute"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/notify"
)

// State is an immutable snapshot of a layout instance. Columns and Items
// are shared between snapshots and must not be modified.
type State struct {
	Width       float64
	ColumnCount int
	Columns     [][]feed.Item

	Items []feed.Item
	Meta  feed.Meta
	Range feed.PageRange

	Loading          bool
	FetchingForward  bool
	FetchingBackward bool
	Err              error

	// Pass counts layout passes that changed the column assignment.
	Pass uint64

	NearTop    bool
	NearBottom bool

	Disposed bool
}

// Flags is the status part of a State handed to renderers alongside the
// columns.
type Flags struct {
	Loading          bool  `json:"loading"`
	FetchingForward  bool  `json:"fetchingForward"`
	FetchingBackward bool  `json:"fetchingBackward"`
	Err              error `json:"-"`
}

// Flags returns the rendering flags of s.
func (s State) Flags() Flags {
	return Flags{
		Loading:          s.Loading,
		FetchingForward:  s.FetchingForward,
		FetchingBackward: s.FetchingBackward,
		Err:              s.Err,
	}
}

// NewState returns the state of a layout that has neither a width nor data.
func NewState() State {
	return State{}
}

// Event is an input to [Reduce].
type Event interface {
	// Name identifies the event kind in logs.
	Name() string
}

// ResizeEvent reports a new container size.
type ResizeEvent struct {
	Size notify.Size
}

// FetchStartedEvent reports that the data source began a fetch.
type FetchStartedEvent struct {
	Direction feed.Direction
	Page      int
	Snapshot  feed.Snapshot
}

// FetchSucceededEvent reports an applied page.
type FetchSucceededEvent struct {
	Direction feed.Direction
	Page      int
	Snapshot  feed.Snapshot
}

// FetchFailedEvent reports a failed fetch. Snapshot.Err holds the error.
type FetchFailedEvent struct {
	Direction feed.Direction
	Page      int
	Err       error
	Snapshot  feed.Snapshot
}

// BoundaryEvent reports the distance of a top or bottom sentinel.
type BoundaryEvent struct {
	Boundary notify.Boundary
}

// DisposeEvent tears the layout down. Every later event is ignored.
type DisposeEvent struct{}

func (ResizeEvent) Name() string         { return "resize" }
func (FetchStartedEvent) Name() string   { return "fetch-started" }
func (FetchSucceededEvent) Name() string { return "fetch-success" }
func (FetchFailedEvent) Name() string    { return "fetch-error" }
func (BoundaryEvent) Name() string       { return "boundary-crossed" }
func (DisposeEvent) Name() string        { return "dispose" }

// Reduce returns the state that follows s after ev. It is pure: the same
// inputs always produce the same output, and s is never modified.
//
// A layout pass runs when the column count changes or when the set of item
// IDs changes; each such pass increments Pass. The random strategy derives
// its seed from cfg.Seed and Pass, so it reshuffles on every pass but is
// reproducible. Items whose IDs are unchanged are redistributed with the
// current seed, which keeps their columns stable. After a DisposeEvent the
// state no longer changes.
func Reduce(cfg Config, s State, ev Event) State {
	if s.Disposed {
		return s
	}
	switch ev := ev.(type) {
	case ResizeEvent:
		s.Width = ev.Size.Width
		n := columns.Plan(ev.Size.Width, cfg.Columns, cfg.PlanOptions())
		if n != s.ColumnCount {
			s.ColumnCount = n
			return layout(cfg, s, true)
		}
		return s

	case FetchStartedEvent:
		return applySnapshot(cfg, s, ev.Snapshot)

	case FetchSucceededEvent:
		return applySnapshot(cfg, s, ev.Snapshot)

	case FetchFailedEvent:
		s = applySnapshot(cfg, s, ev.Snapshot)
		if s.Err == nil {
			s.Err = ev.Err
		}
		return s

	case BoundaryEvent:
		near := ev.Boundary.Distance <= cfg.InfiniteScrollThreshold
		switch ev.Boundary.Edge {
		case notify.Top:
			s.NearTop = near
		case notify.Bottom:
			s.NearBottom = near
		}
		return s

	case DisposeEvent:
		s.Disposed = true
		s.Loading = false
		s.FetchingForward = false
		s.FetchingBackward = false
		return s
	}
	return s
}

func applySnapshot(cfg Config, s State, snap feed.Snapshot) State {
	prev := s.Items
	s.Items = snap.Items
	s.Meta = snap.Meta
	s.Range = snap.Range
	s.Loading = snap.Loading
	s.FetchingForward = snap.FetchingForward
	s.FetchingBackward = snap.FetchingBackward
	s.Err = snap.Err

	switch {
	case sameSlice(prev, snap.Items):
		return s
	case sameIDs(prev, snap.Items):
		return layout(cfg, s, false)
	default:
		return layout(cfg, s, true)
	}
}

// layout distributes s.Items over s.ColumnCount columns. Nothing is laid
// out before the first resize.
func layout(cfg Config, s State, newPass bool) State {
	if s.ColumnCount <= 0 {
		return s
	}
	if newPass {
		s.Pass++
	}
	opts := distribute.Options{Seed: passSeed(cfg.Seed, s.Pass)}
	if cfg.BalanceHeights {
		items := s.Items
		opts.Weights = func(i int) float64 { return items[i].Height }
	}
	s.Columns = distribute.Distribute(s.Items, s.ColumnCount, cfg.DistributionStrategy, opts)
	return s
}

// passSeed spreads consecutive passes over the seed space.
func passSeed(seed, pass uint64) uint64 {
	return seed + pass*0x9e3779b97f4a7c15
}

func sameSlice(a, b []feed.Item) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

func sameIDs(a, b []feed.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// Compose lays out a data source snapshot for a container width in one
// step. It is the headless entry point used by servers and one-shot CLI
// commands.
func Compose(cfg Config, width float64, snap feed.Snapshot) State {
	s := Reduce(cfg, NewState(), ResizeEvent{Size: notify.Size{Width: width}})
	return Reduce(cfg, s, FetchSucceededEvent{Snapshot: snap})
}
