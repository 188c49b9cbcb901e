package busy

import (
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock is a deterministic Clock for tests. Advance moves time forward
// and fires any timers whose deadline has passed, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	c.mu.Unlock()

	// Fire outside the clock lock; callbacks take the coordinator lock.
	for _, t := range due {
		t.fn()
	}
}

const (
	showDelay  = 180 * time.Millisecond
	minVisible = 150 * time.Millisecond
)

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return New(showDelay, WithClock(clock)), clock
}

func TestShortOperationNeverShows(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.Begin()
	clock.Advance(100 * time.Millisecond)
	b.End()
	clock.Advance(time.Second)

	if b.Visible() {
		t.Error("indicator should never show for an operation shorter than the delay")
	}
}

func TestLongOperationShowsAfterDelay(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.Begin()
	clock.Advance(179 * time.Millisecond)
	if b.Visible() {
		t.Error("indicator visible before the show delay elapsed")
	}
	clock.Advance(1 * time.Millisecond)
	if !b.Visible() {
		t.Error("indicator should be visible once the show delay elapses")
	}

	b.End()
	if b.Visible() {
		t.Error("indicator should hide when the last operation ends")
	}
}

func TestOverlappingOperationsShareOneIndicator(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.Begin()
	clock.Advance(showDelay)
	b.Begin()
	if !b.Visible() {
		t.Fatal("indicator should be visible")
	}
	if b.Active() != 2 {
		t.Fatalf("Active = %d, want 2", b.Active())
	}

	b.End()
	if !b.Visible() {
		t.Error("indicator should stay visible while an operation remains")
	}
	b.End()
	if b.Visible() {
		t.Error("indicator should hide after the last operation ends")
	}
}

func TestBeginImmediateShowsWithoutDelay(t *testing.T) {
	b, _ := newTestCoordinator(t)

	b.BeginImmediate(minVisible)
	if !b.Visible() {
		t.Error("BeginImmediate should show the indicator right away")
	}
}

func TestBeginImmediateHoldsMinimumVisibleWindow(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.BeginImmediate(minVisible)
	clock.Advance(50 * time.Millisecond)
	b.End()

	if !b.Visible() {
		t.Error("indicator should stay visible until the minimum window elapses")
	}
	clock.Advance(99 * time.Millisecond)
	if !b.Visible() {
		t.Error("indicator hidden before the minimum window elapsed")
	}
	clock.Advance(1 * time.Millisecond)
	if b.Visible() {
		t.Error("indicator should hide once the minimum window elapses")
	}
}

func TestEndAfterMinimumWindowHidesImmediately(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.BeginImmediate(minVisible)
	clock.Advance(200 * time.Millisecond)
	b.End()
	if b.Visible() {
		t.Error("indicator should hide immediately when the window already elapsed")
	}
}

func TestNewWorkCancelsPendingHide(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.BeginImmediate(minVisible)
	b.End()
	// Hide pending: minimum window not yet elapsed.
	b.Begin()
	clock.Advance(time.Second)
	if !b.Visible() {
		t.Error("indicator should stay visible while new work is active")
	}
	b.End()
	if b.Visible() {
		t.Error("indicator should hide after the new work ends")
	}
}

func TestBeginImmediateExtendsWindow(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.BeginImmediate(minVisible)
	clock.Advance(100 * time.Millisecond)
	b.BeginImmediate(minVisible)
	b.End()
	b.End()

	// Second window: 100ms + 150ms = 250ms from start.
	clock.Advance(149 * time.Millisecond)
	if !b.Visible() {
		t.Error("indicator hidden before the extended window elapsed")
	}
	clock.Advance(1 * time.Millisecond)
	if b.Visible() {
		t.Error("indicator should hide once the extended window elapses")
	}
}

func TestBeginImmediateCancelsPendingShow(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.Begin()
	// Show still pending; an immediate begin takes over right away.
	b.BeginImmediate(minVisible)
	if !b.Visible() {
		t.Error("BeginImmediate should show the indicator while a show is pending")
	}

	b.End()
	b.End()
	clock.Advance(minVisible)
	if b.Visible() {
		t.Error("indicator should hide once the minimum window elapses")
	}
	// The superseded show timer must stay silent.
	clock.Advance(time.Second)
	if b.Visible() {
		t.Error("superseded show timer must not re-show the indicator")
	}
}

func TestStaleShowTimerDoesNotFire(t *testing.T) {
	b, clock := newTestCoordinator(t)

	b.Begin()
	b.End()
	// The armed show timer is now stale.
	clock.Advance(time.Second)
	if b.Visible() {
		t.Error("stale show timer must not make the indicator visible")
	}
}

func TestOnChangeFiresOnTransitions(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var transitions []bool
	b := New(showDelay, WithClock(clock), WithOnChange(func(v bool) {
		mu.Lock()
		transitions = append(transitions, v)
		mu.Unlock()
	}))

	b.Begin()
	clock.Advance(showDelay)
	b.End()

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestEndWithoutBeginIsNoop(t *testing.T) {
	b, _ := newTestCoordinator(t)
	b.End()
	if b.Active() != 0 {
		t.Errorf("Active = %d, want 0", b.Active())
	}
	if b.Visible() {
		t.Error("indicator should not be visible")
	}
}
