package notify

import (
	"sync"
	"time"
)

// DefaultDebounce is the resize debounce interval.
const DefaultDebounce = 150 * time.Millisecond

// Debouncer coalesces bursts of values and delivers only the last one once
// no new value has arrived for the configured delay.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	armed   bool
	seq     uint64
	stopped bool
}

// NewDebouncer returns a Debouncer calling fn. A non-positive delay uses
// [DefaultDebounce].
func NewDebouncer[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Push records v and restarts the quiet period.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = v
	d.armed = true
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

// Flush delivers a pending value immediately.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire(0)
}

// Stop discards any pending value. Later pushes are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// fire delivers the pending value. seq 0 fires unconditionally; otherwise
// only the timer of the latest push may deliver.
func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || !d.armed || (seq != 0 && seq != d.seq) {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.armed = false
	d.mu.Unlock()
	d.fn(v)
}
