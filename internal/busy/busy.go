// Package busy tracks in-flight mutations and derives a debounced busy
// indicator from them. Short operations never surface the indicator at all;
// once shown, the indicator stays up long enough not to flicker.
package busy

import (
	"sync"
	"time"
)

// Clock abstracts time for the coordinator so tests can drive timers
// deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It does not wait for a callback
	// already in flight.
	Stop() bool
}

// realClock implements Clock on top of the time package.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Coordinator counts active operations and exposes a visibility signal with
// show-delay debouncing and a minimum visible window. All methods are safe
// for concurrent use.
type Coordinator struct {
	mu sync.Mutex

	clock      Clock
	showDelay  time.Duration
	minVisible time.Duration

	count           int
	visible         bool
	minVisibleUntil time.Time

	showTimer Timer
	hideTimer Timer
	// showGen and hideGen invalidate callbacks from timers that were
	// superseded before firing. Stop alone is not enough: a callback may
	// already be running when Stop returns.
	showGen uint64
	hideGen uint64

	onChange func(visible bool)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock. Used by tests.
func WithClock(c Clock) Option {
	return func(b *Coordinator) { b.clock = c }
}

// WithMinVisible sets the default minimum visible window applied when
// BeginImmediate is called with a nonpositive duration.
func WithMinVisible(d time.Duration) Option {
	return func(b *Coordinator) { b.minVisible = d }
}

// WithOnChange registers a callback invoked after every visibility
// transition. The callback runs outside the coordinator lock; it may call
// back into the coordinator.
func WithOnChange(fn func(visible bool)) Option {
	return func(b *Coordinator) { b.onChange = fn }
}

// New creates a Coordinator with the given show delay. Operations that
// finish within the delay never make the indicator visible.
func New(showDelay time.Duration, opts ...Option) *Coordinator {
	b := &Coordinator{
		clock:      realClock{},
		showDelay:  showDelay,
		minVisible: 150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Begin registers the start of an operation. The first active operation
// arms the show timer; the indicator becomes visible only if the operation
// set stays non-empty past the show delay.
func (b *Coordinator) Begin() {
	b.mu.Lock()
	b.count++
	if b.count == 1 && !b.visible && b.showTimer == nil {
		b.armShowLocked()
	}
	// A pending hide is cancelled by new work.
	b.cancelHideLocked()
	b.mu.Unlock()
}

// BeginImmediate registers the start of an operation and makes the
// indicator visible right away, holding it visible for at least minVisible.
// A nonpositive minVisible selects the coordinator's configured default.
// Used for operations known to be slow, where the show delay would only add
// perceived latency.
func (b *Coordinator) BeginImmediate(minVisible time.Duration) {
	b.mu.Lock()
	if minVisible <= 0 {
		minVisible = b.minVisible
	}
	b.count++
	b.cancelShowLocked()
	b.cancelHideLocked()
	until := b.clock.Now().Add(minVisible)
	if until.After(b.minVisibleUntil) {
		b.minVisibleUntil = until
	}
	changed := b.setVisibleLocked(true)
	b.mu.Unlock()
	b.notify(changed, true)
}

// End registers the completion of an operation. When the last operation
// finishes, the indicator hides, but not before the minimum visible window
// of any BeginImmediate call has elapsed.
func (b *Coordinator) End() {
	b.mu.Lock()
	if b.count > 0 {
		b.count--
	}
	if b.count > 0 {
		b.mu.Unlock()
		return
	}
	b.cancelShowLocked()
	if !b.visible {
		b.mu.Unlock()
		return
	}
	remaining := b.minVisibleUntil.Sub(b.clock.Now())
	if remaining <= 0 {
		changed := b.setVisibleLocked(false)
		b.mu.Unlock()
		b.notify(changed, false)
		return
	}
	b.armHideLocked(remaining)
	b.mu.Unlock()
}

// Visible reports whether the indicator is currently shown.
func (b *Coordinator) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// Active returns the number of in-flight operations.
func (b *Coordinator) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// armShowLocked schedules the show transition after the show delay.
func (b *Coordinator) armShowLocked() {
	b.showGen++
	gen := b.showGen
	b.showTimer = b.clock.AfterFunc(b.showDelay, func() {
		b.onShowTimer(gen)
	})
}

func (b *Coordinator) onShowTimer(gen uint64) {
	b.mu.Lock()
	if gen != b.showGen {
		b.mu.Unlock()
		return
	}
	b.showTimer = nil
	if b.count == 0 {
		b.mu.Unlock()
		return
	}
	changed := b.setVisibleLocked(true)
	b.mu.Unlock()
	b.notify(changed, true)
}

// armHideLocked schedules the hide transition once the minimum visible
// window has elapsed.
func (b *Coordinator) armHideLocked(d time.Duration) {
	b.cancelHideLocked()
	b.hideGen++
	gen := b.hideGen
	b.hideTimer = b.clock.AfterFunc(d, func() {
		b.onHideTimer(gen)
	})
}

func (b *Coordinator) onHideTimer(gen uint64) {
	b.mu.Lock()
	if gen != b.hideGen {
		b.mu.Unlock()
		return
	}
	b.hideTimer = nil
	if b.count > 0 {
		b.mu.Unlock()
		return
	}
	changed := b.setVisibleLocked(false)
	b.mu.Unlock()
	b.notify(changed, false)
}

func (b *Coordinator) cancelShowLocked() {
	b.showGen++
	if b.showTimer != nil {
		b.showTimer.Stop()
		b.showTimer = nil
	}
}

func (b *Coordinator) cancelHideLocked() {
	b.hideGen++
	if b.hideTimer != nil {
		b.hideTimer.Stop()
		b.hideTimer = nil
	}
}

// setVisibleLocked updates visibility and reports whether it changed.
func (b *Coordinator) setVisibleLocked(v bool) bool {
	if b.visible == v {
		return false
	}
	b.visible = v
	return true
}

// notify fires the change callback outside the lock.
func (b *Coordinator) notify(changed, visible bool) {
	if changed && b.onChange != nil {
		b.onChange(visible)
	}
}
