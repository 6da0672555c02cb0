package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// keyedLock provides per-key exclusive regions with bounded acquisition.
// Unrelated keys never contend; entries are reference-counted so the map
// does not grow with the number of keys ever locked.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the key's lock is held, the timeout elapses, or ctx
// is done. On success the returned release function must be called exactly
// once. Timeout yields ErrBusy.
func (l *keyedLock) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			l.unref(key, e)
		}, nil
	case <-timer.C:
		l.unref(key, e)
		return nil, fmt.Errorf("lock %q: %w", key, ErrBusy)
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *keyedLock) unref(key string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
