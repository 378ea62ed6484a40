package calsync

import "sync"

// KeyedLock serializes sync runs for the same key. TryAcquire never blocks:
// when the key is already held it reports false and the caller drops the run.
// The returned release func must always be called, typically via defer.
type KeyedLock interface {
	TryAcquire(key string) (release func(), ok bool)
}

// localKeyedLock is a process-local KeyedLock. With multiple instances each
// process holds its own locks; cross-instance runs are still converged by the
// per-integration in-progress flag in the store.
type localKeyedLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalKeyedLock returns an in-process KeyedLock.
func NewLocalKeyedLock() KeyedLock {
	return &localKeyedLock{held: make(map[string]bool)}
}

func (l *localKeyedLock) TryAcquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false
	}
	l.held[key] = true
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true
}
