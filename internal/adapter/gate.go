package adapter

import "sync"

// openGate reconciles the asynchronous filesystem-open completion with
// blocking callers. It is a one-shot gate: complete is called at most once,
// stores the terminal result before broadcasting, and wait never blocks
// again after completion. The terminal result is immutable once set, so
// post-completion reads observe it identically with no further
// coordination beyond the mutex.
type openGate struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
	err  error // translated open result; nil on success
}

func newOpenGate() *openGate {
	g := &openGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// complete records the terminal open result and wakes every waiter. Calls
// after the first are ignored; the first result wins.
func (g *openGate) complete(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	g.err = err
	g.cond.Broadcast()
}

// wait blocks until the gate has a terminal result, then returns it.
// Waiters loop on the predicate, not a single wakeup, so a broadcast
// delivered before the wait began is never missed. Safe for any number of
// concurrent callers.
func (g *openGate) wait() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.done {
		g.cond.Wait()
	}
	return g.err
}

// completed reports whether the gate has reached its terminal state.
func (g *openGate) completed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// result peeks at the gate without blocking.
func (g *openGate) result() (done bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done, g.err
}
