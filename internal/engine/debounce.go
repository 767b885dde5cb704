package engine

import (
	"sync"
	"time"
)

// Debouncer coalesces a burst of triggers into a single trailing-edge call.
// Each Trigger re-arms the window; fn runs once the window elapses without a
// new trigger. fn is responsible for reading the latest state itself, so only
// the final state of a burst is ever acted on.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	clock   Clock
	fn      func()
	timer   Timer
	stopped bool
}

// NewDebouncer builds a debouncer firing fn after the given quiet window.
func NewDebouncer(window time.Duration, clock Clock, fn func()) *Debouncer {
	if clock == nil {
		clock = NewClock()
	}
	return &Debouncer{
		window: window,
		clock:  clock,
		fn:     fn,
	}
}

// Trigger schedules (or re-arms) the trailing-edge call.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = d.clock.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

// Stop cancels any pending call and disables further triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	fn := d.fn
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
