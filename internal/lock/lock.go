// Package lock coalesces workflow runs for the same environment, within one
// process (LocalLocker) or across replicas sharing a Redis (RedisLocker).
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another run holds the environment.
var ErrLocked = errors.New("environment is locked by another run")

// Locker grants exclusive ownership of an environment id.
type Locker interface {
	// TryAcquire takes the lock of id without waiting. It returns ErrLocked
	// when the lock is held elsewhere. release is idempotent.
	TryAcquire(ctx context.Context, id string) (release func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker returns a locker with nothing held.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(_ context.Context, id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return nil, ErrLocked
	}
	l.held[id] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, id)
		})
	}, nil
}
