// Package gate provides a one-shot latch used to decide a single winner
// among racing callers.
package gate

import "sync/atomic"

// Gate trips at most once. The zero value is an open gate.
type Gate struct {
	tripped atomic.Bool
}

// Trip closes the gate. It returns true only for the caller that closed it.
func (g *Gate) Trip() bool {
	return g.tripped.CompareAndSwap(false, true)
}

// Tripped reports whether the gate has been closed.
func (g *Gate) Tripped() bool {
	return g.tripped.Load()
}
