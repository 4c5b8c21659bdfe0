package services

import (
	"context"
	"log"
	"sync"
	"time"

	"lottery-sync/internal/status"
)

// ConnectionLock serializes channel establishment. Several callers may ask
// "ensure I'm connected" at once (two views mounted simultaneously); exactly
// one physical handshake proceeds, the rest wait for release and then check
// the final connection state.
type ConnectionLock struct {
	waitTimeout time.Duration

	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func NewConnectionLock(waitTimeout time.Duration) *ConnectionLock {
	return &ConnectionLock{waitTimeout: waitTimeout}
}

// TryAcquire takes the lock if free. It never blocks; a false return means
// another connection attempt is already in flight.
func (l *ConnectionLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

// Release frees the lock and wakes every waiter with a one-shot signal.
func (l *ConnectionLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked()
}

func (l *ConnectionLock) releaseLocked() {
	l.held = false
	for _, w := range l.waiters {
		close(w)
	}
	l.waiters = nil
}

// AwaitRelease blocks until the holder releases, the context is cancelled, or
// the hard wait timeout fires. On timeout the lock is force-released so a
// wedged handshake can never block callers forever; the caller gets
// status.ErrLockWaitTimeout and may retry.
func (l *ConnectionLock) AwaitRelease(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	l.waiters = append(l.waiters, waiter)
	l.mu.Unlock()

	timer := time.NewTimer(l.waitTimeout)
	defer timer.Stop()

	select {
	case <-waiter:
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-timer.C:
		log.Printf("connection lock: holder did not release within %s, forcing release", l.waitTimeout)
		l.mu.Lock()
		if l.held {
			l.releaseLocked()
		}
		l.mu.Unlock()
		return status.ErrLockWaitTimeout
	}
}

// Held reports whether the lock is currently taken.
func (l *ConnectionLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
