package core

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a compare-and-swap spin lock. Unlike sync.Mutex it exposes a
// non-blocking TryLock that callers running inside completion callbacks use
// to skip work when the lock is contended. The zero value is unlocked.
type SpinLock struct {
	state atomic.Int32
}

// Lock spins until the lock is acquired.
func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. It must only be called by the holder.
func (l *SpinLock) Unlock() {
	l.state.Store(0)
}
