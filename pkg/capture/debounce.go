package capture

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the scroll quiescence window
const DefaultDebounceWindow = 500 * time.Millisecond

// Debouncer is a trailing-edge debouncer. Every Feed replaces the pending
// evaluation; fn runs with the latest value once no Feed has arrived for
// the window.
type Debouncer[T any] struct {
	window time.Duration
	fn     func(T)

	mu       sync.Mutex
	timer    *time.Timer
	seq      uint64
	latest   T
	pending  bool
	lastEmit time.Time
}

// NewDebouncer creates a debouncer calling fn after window of quiescence
func NewDebouncer[T any](window time.Duration, fn func(T)) *Debouncer[T] {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer[T]{window: window, fn: fn}
}

// Feed records v and restarts the quiescence window
func (d *Debouncer[T]) Feed(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest = v
	d.pending = true
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.fire(seq) })
}

func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	// a Feed, Flush or Cancel after this timer was armed supersedes it
	if !d.pending || seq != d.seq {
		d.mu.Unlock()
		return
	}
	v := d.take()
	d.mu.Unlock()

	d.fn(v)
}

// take clears the pending evaluation; d.mu must be held
func (d *Debouncer[T]) take() T {
	v := d.latest
	var zero T
	d.latest = zero
	d.pending = false
	d.lastEmit = time.Now()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return v
}

// Flush runs a pending evaluation immediately. It reports whether one ran.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.seq++
	v := d.take()
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Cancel drops a pending evaluation without running it
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	d.pending = false
	var zero T
	d.latest = zero
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether an evaluation is scheduled
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// LastEmit returns when fn last ran, zero if never
func (d *Debouncer[T]) LastEmit() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEmit
}
