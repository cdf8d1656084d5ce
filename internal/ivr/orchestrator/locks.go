package orchestrator

import "sync"

// callLocks serialises webhooks of the same call. Entries live only while
// someone holds or waits on them.
type callLocks struct {
	mu    sync.Mutex
	calls map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func newCallLocks() *callLocks {
	return &callLocks{calls: make(map[string]*callLock)}
}

// lock blocks until callID is free and returns the release func.
func (l *callLocks) lock(callID string) func() {
	l.mu.Lock()
	c, ok := l.calls[callID]
	if !ok {
		c = &callLock{}
		l.calls[callID] = c
	}
	c.refs++
	l.mu.Unlock()

	c.mu.Lock()
	return func() {
		c.mu.Unlock()
		l.mu.Lock()
		c.refs--
		if c.refs == 0 {
			delete(l.calls, callID)
		}
		l.mu.Unlock()
	}
}

