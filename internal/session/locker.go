package session

import (
	"sync"

	"github.com/burrowai/burrow/internal/apierr"
)

// Locker grants at most one active run slot per session id. A second caller
// for the same id fails fast with a Conflict instead of queueing; different
// ids proceed fully in parallel.
type Locker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{active: make(map[string]struct{})}
}

// Acquire claims the run slot for a session id. The returned release
// function must be called exactly once; it is safe to call from any
// goroutine.
func (l *Locker) Acquire(id string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[id]; busy {
		return nil, apierr.New(apierr.KindConflict, "session %q already has a run in progress", id)
	}
	l.active[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, id)
			l.mu.Unlock()
		})
	}, nil
}

// WithSessionLock runs fn while holding the session's run slot.
func (l *Locker) WithSessionLock(id string, fn func() error) error {
	release, err := l.Acquire(id)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Busy reports whether a session currently holds its run slot.
func (l *Locker) Busy(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[id]
	return busy
}
