package app

import "sync"

// postLocks serializes writers per post id: two dispatch operations for the
// same post never interleave status writes in this process. Cross-process
// races are caught by the store's version check.
type postLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{m: map[string]*lockEntry{}}
}

// acquire blocks until the per-post lock is held and returns the release
// func. Entries are refcounted so the map doesn't grow with dead posts.
func (l *postLocks) acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &lockEntry{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
