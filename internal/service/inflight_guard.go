package service

import "sync"

// inflightGuard serializes settlement attempts per checkout ref within one
// process. Cross-instance duplicates are caught by the unique checkout ref
// constraint; this guard just keeps local duplicates from racing to it.
type inflightGuard struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{pending: make(map[string]chan struct{})}
}

// begin claims a ref. Returns true if the caller is the owner; otherwise
// returns a channel closed when the current owner finishes.
func (g *inflightGuard) begin(ref string) (bool, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.pending[ref]; ok {
		return false, ch
	}
	g.pending[ref] = make(chan struct{})
	return true, nil
}

// finish releases a ref and wakes all waiters.
func (g *inflightGuard) finish(ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.pending[ref]; ok {
		close(ch)
		delete(g.pending, ref)
	}
}
