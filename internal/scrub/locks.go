package scrub

import (
	"path/filepath"
	"strings"
	"sync"
)

// pathLocks serializes work on overlapping paths. A path conflicts with
// any held ancestor or descendant as well as with itself.
type pathLocks struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]struct{}
}

func newPathLocks() *pathLocks {
	l := &pathLocks{held: make(map[string]struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock blocks until nothing overlapping path is held and returns the
// matching unlock.
func (l *pathLocks) Lock(path string) (unlock func()) {
	path = filepath.Clean(path)
	l.mu.Lock()
	for l.conflicts(path) {
		l.cond.Wait()
	}
	l.held[path] = struct{}{}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.held, path)
		l.mu.Unlock()
		l.cond.Broadcast()
	}
}

// conflicts must be called with l.mu held. The held set is at most one
// entry per worker.
func (l *pathLocks) conflicts(path string) bool {
	for h := range l.held {
		if overlaps(h, path) {
			return true
		}
	}
	return false
}

func overlaps(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	if a == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(b, a+string(filepath.Separator))
}

func (l *pathLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
