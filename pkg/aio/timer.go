package aio

import (
	"sync"
	"time"
)

// Timer delivers a callback on the pool at most once per arming. Re-arming
// supersedes any previous arming that has not yet committed to firing.
//
// Cancel synchronously joins an in-flight callback, so the callback itself
// must never call Cancel on its own timer. Teardown paths invoked from the
// callback take a flag instead and leave the timer alone.
type Timer struct {
	pool *Pool
	fn   func(*Timer)

	mu       sync.Mutex
	cond     *sync.Cond
	gen      uint64
	inflight bool
	timer    *time.Timer
}

// NewTimer creates a timer bound to pool. The callback is fixed for the
// timer's lifetime.
func NewTimer(pool *Pool, fn func(*Timer)) *Timer {
	t := &Timer{pool: pool, fn: fn}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// ExpiresIn arms the timer to fire after d. A previous arming that has not
// fired is superseded.
func (t *Timer) ExpiresIn(d time.Duration) {
	t.mu.Lock()
	t.gen++
	g := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() { t.fire(g) })
	t.mu.Unlock()
}

// ExpiresAt arms the timer to fire at the given wall-clock time. Times in
// the past fire immediately.
func (t *Timer) ExpiresAt(at time.Time) {
	t.ExpiresIn(time.Until(at))
}

// Cancel disarms the timer and waits for an in-flight callback to finish.
// After Cancel returns no callback from a previous arming will run.
func (t *Timer) Cancel() {
	t.mu.Lock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	for t.inflight {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// fire commits the arming identified by g. A generation mismatch means the
// arming was superseded or canceled after the clock popped.
func (t *Timer) fire(g uint64) {
	t.mu.Lock()
	if g != t.gen {
		t.mu.Unlock()
		return
	}
	t.inflight = true
	t.mu.Unlock()

	err := t.pool.Submit(func() {
		t.fn(t)
		t.finish()
	})
	if err != nil {
		t.finish()
	}
}

func (t *Timer) finish() {
	t.mu.Lock()
	t.inflight = false
	t.cond.Broadcast()
	t.mu.Unlock()
}
