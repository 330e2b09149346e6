package stream

import "sync"

// reentrancyGuard enforces that at most one protected ledger operation is in
// flight. The gateway transfer is an external call; were it able to re-enter
// withdraw or cancel before the triggering operation finished, it could
// observe or commit inconsistent intermediate state. The guard is scoped:
// enter acquires on entry and the returned release runs on every exit path.
type reentrancyGuard struct {
	mu     sync.Mutex
	active bool
}

func (g *reentrancyGuard) enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return nil, ErrReentrancy
	}
	g.active = true
	return g.release, nil
}

func (g *reentrancyGuard) release() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}
