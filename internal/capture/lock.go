package capture

import (
	"sync"

	"github.com/scandesk/capture-agent/internal/types"
)

// ActivityLock is the per-session mutual-exclusion flag consulted at the start
// of every tick. It is an owned object held by the session controller, not a
// global, so independent voice and document sessions cannot cross-talk.
// It is safe for concurrent use.
type ActivityLock struct {
	mu    sync.Mutex
	state types.LockState
}

// NewActivityLock returns a lock in the free state.
func NewActivityLock() *ActivityLock {
	return &ActivityLock{}
}

// TryAcquire moves the lock from free to the given state. It reports false if
// the lock is already held.
func (l *ActivityLock) TryAcquire(s types.LockState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != types.LockFree {
		return false
	}
	l.state = s
	return true
}

// Set transitions a held lock to a different state. It reports false if the
// lock is free (nothing to transition).
func (l *ActivityLock) Set(s types.LockState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == types.LockFree {
		return false
	}
	l.state = s
	return true
}

// Release returns the lock to the free state.
func (l *ActivityLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = types.LockFree
}

// State returns the current lock state.
func (l *ActivityLock) State() types.LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Held reports whether the lock is held in any state.
func (l *ActivityLock) Held() bool {
	return l.State() != types.LockFree
}
