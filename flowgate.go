package authkit

import "sync"

// FlowGate orders interactive sign-in flows so that the most recently begun
// flow wins. A flow that is superseded before it reaches the backend is
// cancelled; exchanges with the backend run one at a time.
type FlowGate struct {
	mu  sync.Mutex
	gen uint64

	exchange sync.Mutex
}

// Ticket identifies one flow begun on a FlowGate.
type Ticket struct {
	gate *FlowGate
	gen  uint64
}

// Begin starts a new flow and supersedes every earlier one.
func (g *FlowGate) Begin() Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	return Ticket{gate: g, gen: g.gen}
}

// Current reports whether no flow has begun since t.
func (t Ticket) Current() bool {
	t.gate.mu.Lock()
	defer t.gate.mu.Unlock()
	return t.gen == t.gate.gen
}

// Exchange runs fn while holding the gate's exchange lock. If t has been
// superseded by the time the lock is acquired, fn is not run and a
// provider_cancelled error is returned.
func (t Ticket) Exchange(fn func() error) error {
	t.gate.exchange.Lock()
	defer t.gate.exchange.Unlock()
	if !t.Current() {
		return NewAuthError(ErrCodeProviderCancelled, "superseded by a newer sign-in flow")
	}
	return fn()
}
