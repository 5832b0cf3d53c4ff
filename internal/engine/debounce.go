package engine

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of refresh requests into a single callback
// invocation per delay window. Each call site owns its debouncer and ties its
// lifetime to the consuming view instance; there is no process-wide refresh
// guard.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

// NewDebouncer builds a debouncer invoking fn at most once per delay window.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules the callback. Triggers landing inside an already-pending
// window are absorbed.
func (d *Debouncer) Trigger() {
	if d == nil || d.fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		d.timer = nil
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fn()
		}
	})
}

// Stop cancels any pending callback and disables the debouncer. A stopped
// debouncer silently ignores further triggers.
func (d *Debouncer) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
