// Package resource implements per-connection memory admission control: a
// connection accepts a request only if doing so keeps its outstanding
// memory usage under a configured limit, and blocks new requests (without
// dropping the connection) once the limit is reached.
package resource

import "sync"

// Gate is a byte-weighted admission semaphore. Acquire blocks until at
// least weight bytes of the limit are available, then reserves them;
// Release returns them. Every successful Acquire must be paired with
// exactly one Release.
type Gate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	limit     int64
	available int64
	closed    bool
}

// NewGate creates a Gate with the given byte limit. A limit of 0 means
// unlimited: Acquire never blocks.
func NewGate(limit int64) *Gate {
	g := &Gate{limit: limit, available: limit}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until weight bytes are available or the gate is closed,
// in which case it returns false. A weight larger than the gate's total
// limit blocks forever unless the limit is 0 (unlimited).
func (g *Gate) Acquire(weight int64) bool {
	if g.limit == 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.available < weight && !g.closed {
		g.cond.Wait()
	}
	if g.closed {
		return false
	}
	g.available -= weight
	return true
}

// Release returns weight bytes to the gate and wakes any blocked
// acquirers.
func (g *Gate) Release(weight int64) {
	if g.limit == 0 {
		return
	}
	g.mu.Lock()
	g.available += weight
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Close wakes every blocked Acquire so it can return false instead of
// waiting forever on a connection that's shutting down.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Available reports the current unreserved capacity, for diagnostics.
func (g *Gate) Available() int64 {
	if g.limit == 0 {
		return -1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}
