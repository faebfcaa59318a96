package service

import (
	"context"
	"sync"
	"time"
)

// KeyedLock provides per-key mutual exclusion with bounded acquisition.
// Entries are reference-counted and removed once the last waiter leaves,
// so the map does not grow with the number of subscriptions ever seen.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the key's lock is held, the timeout elapses, or
// ctx is cancelled. On success the returned release function must be
// called exactly once.
func (l *KeyedLock) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.unref(key, e)
		}, nil
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *KeyedLock) unref(key string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
