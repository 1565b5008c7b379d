package input

import (
	"sync"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/tracking"
)

// DefaultIdleAfter is how long input must stay unchanged to count as idle.
const DefaultIdleAfter = 60 * time.Second

// IdleDetector wraps an InputProvider and sets Idle once the wrapped state
// has not changed for IdleAfter.
type IdleDetector struct {
	inner     tracking.InputProvider
	idleAfter time.Duration
	now       tracking.Clock

	mu         sync.Mutex
	last       tracking.InputState
	lastChange time.Time
	seen       bool
}

// NewIdleDetector wraps inner. idleAfter <= 0 uses DefaultIdleAfter and a
// nil clock uses time.Now.
func NewIdleDetector(inner tracking.InputProvider, idleAfter time.Duration, now tracking.Clock) *IdleDetector {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &IdleDetector{inner: inner, idleAfter: idleAfter, now: now}
}

// InputState implements tracking.InputProvider.
func (d *IdleDetector) InputState() tracking.InputState {
	st := d.inner.InputState()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	key := st
	key.Idle = false
	if !d.seen || key != d.last {
		d.seen = true
		d.last = key
		d.lastChange = now
	}
	if st.Buttons.Moving() {
		d.lastChange = now
	}
	if now.Sub(d.lastChange) >= d.idleAfter {
		st.Idle = true
	}
	return st
}

// Touch records activity the wrapped provider cannot see, such as mouse
// movement.
func (d *IdleDetector) Touch() {
	d.mu.Lock()
	d.lastChange = d.now()
	d.mu.Unlock()
}
