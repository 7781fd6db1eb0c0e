package semantic

import "sync"

// nameLocks serializes work per collection name. Entries are dropped once
// no goroutine holds or waits on them.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*refMutex)}
}

// lock blocks until name is free and returns the matching unlock func.
func (l *nameLocks) lock(name string) func() {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &refMutex{}
		l.locks[name] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *nameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
