// Package picker implements a lock-free-read snapshot of static upstream
// backends, refreshed on a background interval, used as the forwarding
// fallback when the PeerRegistry has no discovered peer to offer.
//
// Grounded on original_source/src/edge.rs, whose MetricPicker wraps
// pingora_load_balancing::Backend objects built from the configured
// upstream URLs; this port keeps the same "immutable snapshot swapped
// atomically, read without locking" shape using atomic.Pointer, a bare
// stdlib primitive justified here because the original is a plain
// arc-swapped vector with no supporting library, so there is nothing
// domain-specific to wire a third-party dependency to.
package picker

import (
	"sort"
	"sync/atomic"
	"time"
)

// Backend is a periodic-refresh snapshot of one upstream's load.
type Backend struct {
	Address        string
	EWMALatencyMS  float64
	Inflight       uint32
	Capacity       uint32
	ErrorRate      float64
}

// score implements the selection function:
// ewma_latency_ms * (1 + inflight/capacity) * (1 + error_rate).
func (b Backend) score() float64 {
	capacity := b.Capacity
	if capacity == 0 {
		capacity = 1
	}
	return b.EWMALatencyMS * (1 + float64(b.Inflight)/float64(capacity)) * (1 + b.ErrorRate)
}

// RefreshFunc produces a fresh set of backend snapshots.
type RefreshFunc func() []Backend

// Picker holds the current backend snapshot and refreshes it periodically
// without blocking the pick path.
type Picker struct {
	snapshot atomic.Pointer[[]Backend]
	refresh  RefreshFunc
	stop     chan struct{}
}

// New builds a Picker seeded with an initial snapshot.
func New(initial []Backend) *Picker {
	p := &Picker{stop: make(chan struct{})}
	snap := append([]Backend(nil), initial...)
	p.snapshot.Store(&snap)
	return p
}

// StartRefresh launches a background goroutine that calls fn every
// interval and atomically swaps in the result. Call Stop to halt it.
func (p *Picker) StartRefresh(fn RefreshFunc, interval time.Duration) {
	p.refresh = fn
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				next := p.refresh()
				snap := append([]Backend(nil), next...)
				p.snapshot.Store(&snap)
			case <-p.stop:
				return
			}
		}
	}()
}

// Stop halts the background refresh goroutine, if one was started.
func (p *Picker) Stop() {
	close(p.stop)
}

// Pick returns the backend minimizing score(), breaking ties by lowest
// address. Returns false if the backend set is empty.
func (p *Picker) Pick() (Backend, bool) {
	snap := p.snapshot.Load()
	if snap == nil || len(*snap) == 0 {
		return Backend{}, false
	}

	backends := *snap
	best := backends[0]
	bestScore := best.score()
	for _, b := range backends[1:] {
		s := b.score()
		if s < bestScore || (s == bestScore && b.Address < best.Address) {
			best = b
			bestScore = s
		}
	}
	return best, true
}

// Snapshot returns a sorted copy of the current backend set, for
// diagnostics and tests.
func (p *Picker) Snapshot() []Backend {
	snap := p.snapshot.Load()
	if snap == nil {
		return nil
	}
	out := append([]Backend(nil), (*snap)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
