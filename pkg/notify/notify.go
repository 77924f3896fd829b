// Package notify abstracts the host events the layout engine reacts to.
//
// A [ViewportNotifier] delivers container size changes and a
// [VisibilityNotifier] delivers boundary proximity signals for the top and
// bottom sentinels. The engine only depends on these interfaces; [Hub] is an
// in-process implementation that hosts (a terminal UI, a test, a server-side
// renderer) publish into.
//
// Registering against a closed hub fails with
// [errors.ErrCodeObserverDisposed] instead of panicking.
package notify

import (
	"sync"

	"github.com/matzehuels/masonry/pkg/errors"
)

// Size is a container size in px-equivalent units.
type Size struct {
	Width  float64
	Height float64
}

// Edge identifies a scroll sentinel.
type Edge int

const (
	Bottom Edge = iota
	Top
)

func (e Edge) String() string {
	if e == Top {
		return "top"
	}
	return "bottom"
}

// Boundary reports how far the viewport is from a sentinel. A distance of
// zero or less means the sentinel is visible.
type Boundary struct {
	Edge     Edge
	Distance float64
}

// Handle identifies a registration.
type Handle uint64

// ViewportNotifier delivers container-size-changed events.
type ViewportNotifier interface {
	Register(fn func(Size)) (Handle, error)
	Unregister(h Handle)
}

// VisibilityNotifier delivers boundary-crossed events.
type VisibilityNotifier interface {
	Register(fn func(Boundary)) (Handle, error)
	Unregister(h Handle)
}

// Hub fans published values out to registered callbacks.
// Callbacks run synchronously on the publishing goroutine, outside the
// hub's lock, so they may register or unregister.
type Hub[T any] struct {
	mu     sync.RWMutex
	next   Handle
	subs   map[Handle]func(T)
	last   T
	seen   bool
	closed bool
}

// NewHub creates an open hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[Handle]func(T))}
}

// NewViewportHub creates a hub usable as a [ViewportNotifier].
func NewViewportHub() *Hub[Size] { return NewHub[Size]() }

// NewVisibilityHub creates a hub usable as a [VisibilityNotifier].
func NewVisibilityHub() *Hub[Boundary] { return NewHub[Boundary]() }

// Register adds fn. It fails if the hub is closed or fn is nil.
func (h *Hub[T]) Register(fn func(T)) (Handle, error) {
	if fn == nil {
		return 0, errors.New(errors.ErrCodeInvalidInput, "nil callback")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, errors.New(errors.ErrCodeObserverDisposed, "notifier is closed")
	}
	h.next++
	h.subs[h.next] = fn
	return h.next, nil
}

// Unregister removes a registration. Unknown handles are ignored.
func (h *Hub[T]) Unregister(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, handle)
}

// Publish delivers v to every registered callback. Publishing on a closed
// hub is a no-op.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.last, h.seen = v, true
	fns := make([]func(T), 0, len(h.subs))
	for handle := Handle(1); handle <= h.next; handle++ {
		if fn, ok := h.subs[handle]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Last returns the most recently published value.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.seen
}

// Len returns the number of registrations.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every registration. Later Register calls fail.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	clear(h.subs)
}

// Closed reports whether Close was called.
func (h *Hub[T]) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
