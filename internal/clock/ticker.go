package clock

import (
	"sync"
	"time"
)

// Ticker calls a function periodically until stopped. Calls are anchored to
// deadlines start+n*interval and never overlap: a call that overruns one or
// more deadlines skips them instead of firing a burst.
type Ticker struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   Timer
	next    time.Time
	stopped bool
}

// NewTicker starts calling fn every interval on c.
func NewTicker(c Clock, interval time.Duration, fn func()) *Ticker {
	t := &Ticker{
		clock:    c,
		interval: interval,
		fn:       fn,
	}

	t.mu.Lock()
	t.next = c.Now().Add(interval)
	t.timer = c.AfterFunc(interval, t.fire)
	t.mu.Unlock()

	return t
}

// Interval returns the ticker period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Stop cancels the ticker. After Stop returns no new call is started.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Stopped reports whether Stop has been called.
func (t *Ticker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Ticker) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	now := t.clock.Now()
	t.next = t.next.Add(t.interval)
	if !t.next.After(now) {
		missed := now.Sub(t.next)/t.interval + 1
		t.next = t.next.Add(missed * t.interval)
	}
	t.timer = t.clock.AfterFunc(t.next.Sub(now), t.fire)
}
