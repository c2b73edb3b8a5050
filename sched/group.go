package sched

import "sync"

// Group tracks completion of a set of submitted tasks, supporting
// fan-out/fan-in without a barrier object shared across call sites.
// Pass a Group to Submit, then call Wait to block until every task in
// the group has finished.
//
// The zero value is ready to use. A Group may be reused after Wait
// returns. Wait has no timeout: a hung task hangs its waiter, which is
// the contract the rest of the core depends on.
type Group struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
}

func (g *Group) add(n int) {
	g.mu.Lock()
	g.pending += n
	g.mu.Unlock()
}

func (g *Group) done() {
	g.mu.Lock()
	g.pending--
	if g.pending == 0 && g.cond != nil {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// Pending returns the number of tasks in the group that have not yet
// finished. Diagnostics only; the value may be stale on return.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Wait blocks the calling goroutine until the group's pending counter
// reaches zero. Returns immediately if nothing is pending.
func (g *Group) Wait() {
	g.mu.Lock()
	for g.pending > 0 {
		if g.cond == nil {
			g.cond = sync.NewCond(&g.mu)
		}
		g.cond.Wait()
	}
	g.mu.Unlock()
}
