package ratelimit

import (
	"sync/atomic"
)

// ConcurrencyGate caps concurrent in-flight requests for this process only.
//
// It is deliberately not distributed: in multi-instance deployments it
// under-counts fleet-wide concurrency, existing to protect a single process's
// resource ceiling cheaply. It is evaluated before any distributed check so it
// can veto a request without paying a store round trip, and it fails closed
// when the cap is reached. Lock-free; never suspends.
type ConcurrencyGate struct {
	limit    int64
	inFlight atomic.Int64
}

// NewConcurrencyGate creates a gate admitting at most limit concurrent
// requests. A limit of zero admits nothing.
func NewConcurrencyGate(limit int64) *ConcurrencyGate {
	return &ConcurrencyGate{limit: limit}
}

// TryAcquire claims a slot, returning false when the gate is full.
// A successful acquire must be paired with exactly one Release.
func (g *ConcurrencyGate) TryAcquire() bool {
	if g.inFlight.Add(1) > g.limit {
		g.inFlight.Add(-1)
		return false
	}
	return true
}

// Release returns a slot claimed by TryAcquire.
func (g *ConcurrencyGate) Release() {
	if g.inFlight.Add(-1) < 0 {
		// Unpaired release; clamp so the gate never admits above its limit.
		g.inFlight.Add(1)
	}
}

// InFlight reports the current number of held slots.
func (g *ConcurrencyGate) InFlight() int64 {
	return g.inFlight.Load()
}

// Limit reports the configured cap.
func (g *ConcurrencyGate) Limit() int64 {
	return g.limit
}
