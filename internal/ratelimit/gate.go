// Package ratelimit throttles high-frequency progress reports.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Gate counts events and lets at most one report through per interval.
// The first event always passes. It is safe for concurrent use.
type Gate struct {
	interval time.Duration
	last     atomic.Int64
	opened   atomic.Bool
	total    atomic.Uint64
}

// NewGate builds a Gate. A zero or negative interval lets every event
// through.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Tick records one event and reports whether it may be reported.
func (g *Gate) Tick() (uint64, bool) {
	if g == nil {
		return 0, false
	}
	total := g.total.Add(1)
	if g.interval <= 0 {
		return total, true
	}
	now := time.Now().UTC().UnixNano()
	if g.opened.CompareAndSwap(false, true) {
		g.last.Store(now)
		return total, true
	}
	last := g.last.Load()
	if now-last < g.interval.Nanoseconds() {
		return total, false
	}
	if g.last.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}

// Total is the number of events seen since the last Reset.
func (g *Gate) Total() uint64 {
	if g == nil {
		return 0
	}
	return g.total.Load()
}

// Reset clears the count and reopens the gate.
func (g *Gate) Reset() {
	if g == nil {
		return
	}
	g.total.Store(0)
	g.last.Store(0)
	g.opened.Store(false)
}
