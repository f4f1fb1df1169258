// Package spinlock provides the mutual exclusion primitive used by the
// boot-time registries. Boot runs single-threaded, but the platform and
// devmap state can later be reached from interrupt context, so their
// guards must not depend on a scheduler being available.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// Lock is a test-and-set spin lock. It is not reentrant: acquiring it
// twice from the same flow of control deadlocks.
//
// The zero value is an unlocked Lock.
type Lock struct {
	state atomic.Uint32
}

// Lock acquires the lock, busy-waiting until it is available.
func (l *Lock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		// Yield between attempts so a holder on the same scheduler
		// thread can make progress during host-side testing.
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without waiting.
func (l *Lock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking an unheld lock is a programming
// error and leaves the lock unlocked.
func (l *Lock) Unlock() {
	l.state.Store(0)
}

// Locked reports whether the lock is currently held.
func (l *Lock) Locked() bool {
	return l.state.Load() != 0
}
