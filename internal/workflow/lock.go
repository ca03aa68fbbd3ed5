package workflow

import "sync"

// threadGuard admits one in-process call per thread at a time. A second
// caller is refused instead of queued, so concurrent Start or Resume calls
// on one thread produce exactly one winner.
type threadGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newThreadGuard() *threadGuard {
	return &threadGuard{active: make(map[string]struct{})}
}

// TryAcquire marks threadID active. It returns a release function, or false
// if another call already holds the thread.
func (g *threadGuard) TryAcquire(threadID string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[threadID]; busy {
		return nil, false
	}
	g.active[threadID] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.active, threadID)
		g.mu.Unlock()
	}, true
}

func (g *threadGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
