package orders

import "sync"

// ConcurrencyGate enforces the per-symbol cap on simultaneously active
// intents and live orders. Reserve and Release are atomic so concurrent
// parameterization across symbols sharing the gate can never exceed the
// cap.
type ConcurrencyGate struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

// NewConcurrencyGate creates a gate with the given per-symbol limit.
func NewConcurrencyGate(limit int) *ConcurrencyGate {
	if limit <= 0 {
		limit = 1
	}
	return &ConcurrencyGate{limit: limit, counts: make(map[string]int)}
}

// Reserve claims a slot for the symbol. It returns false when the symbol
// is already at its cap.
func (g *ConcurrencyGate) Reserve(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts[symbol] >= g.limit {
		return false
	}
	g.counts[symbol]++
	return true
}

// Release frees a slot for the symbol. Called when a live order reaches a
// terminal state or an intent is discarded before submission.
func (g *ConcurrencyGate) Release(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts[symbol] > 0 {
		g.counts[symbol]--
	}
}

// Active returns the current reservation count for the symbol.
func (g *ConcurrencyGate) Active(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[symbol]
}
