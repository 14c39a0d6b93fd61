// Package peers implements a lock-free set of known peer gateways keyed
// by address, shared between many discovery producers and one pipeline
// reader per request.
//
// Grounded on original_source/packages/sweetmcp-pingora/src/edge.rs's
// peer registry, backed here by github.com/puzpuzpuz/xsync/v3 instead of
// a mutex-guarded map, since xsync.MapOf is a lock-free concurrent map by
// design and serializes per-key writes without a global lock.
package peers

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Health is a peer's probe-derived health state.
type Health int

const (
	Unknown Health = iota
	Healthy
	Suspect
	Unreachable
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Suspect:
		return "suspect"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Peer is an immutable-by-convention snapshot of a peer record; callers
// mutate state only through the Registry's methods, never the struct.
type Peer struct {
	Address       string
	BuildID       string
	LastSeen      time.Time
	Health        Health
	FailureStreak uint32
}

// Registry is the shared set of known peers.
type Registry struct {
	localBuildID string
	peers        *xsync.MapOf[string, Peer]
}

// New builds a Registry scoped to the local gateway's build ID; only
// peers whose BuildID matches are eligible for forwarding.
func New(localBuildID string) *Registry {
	return &Registry{
		localBuildID: localBuildID,
		peers:        xsync.NewMapOf[string, Peer](),
	}
}

// AddPeer inserts a new peer record, or leaves an existing one untouched.
// It reports whether a new record was inserted (false means
// already-registered).
func (r *Registry) AddPeer(address, buildID string) (inserted bool) {
	_, loaded := r.peers.LoadOrStore(address, Peer{
		Address:  address,
		BuildID:  buildID,
		LastSeen: time.Now(),
		Health:   Unknown,
	})
	return !loaded
}

// LocalBuildID returns the build ID this registry was constructed with.
func (r *Registry) LocalBuildID() string {
	return r.localBuildID
}

// GetHealthyPeers returns a snapshot of peers that are both Healthy and
// build-ID compatible with the local gateway.
func (r *Registry) GetHealthyPeers() []Peer {
	out := make([]Peer, 0)
	r.peers.Range(func(_ string, p Peer) bool {
		if p.Health == Healthy && p.BuildID == r.localBuildID {
			out = append(out, p)
		}
		return true
	})
	return out
}

// All returns a snapshot of every known peer, regardless of health.
func (r *Registry) All() []Peer {
	out := make([]Peer, 0)
	r.peers.Range(func(_ string, p Peer) bool {
		out = append(out, p)
		return true
	})
	return out
}

// RecordProbeResult transitions a peer's health: Healthy -> Suspect
// after failThreshold consecutive failures, Suspect -> Unreachable after
// failThreshold more, and any success resets to Healthy.
func (r *Registry) RecordProbeResult(address string, success bool, failThreshold uint32) {
	r.peers.Compute(address, func(p Peer, loaded bool) (Peer, bool) {
		if !loaded {
			return p, true // delete: nothing to update
		}
		p.LastSeen = time.Now()
		if success {
			p.Health = Healthy
			p.FailureStreak = 0
			return p, false
		}
		p.FailureStreak++
		switch p.Health {
		case Unknown, Healthy:
			if p.FailureStreak >= failThreshold {
				p.Health = Suspect
			}
		case Suspect:
			if p.FailureStreak >= 2*failThreshold {
				p.Health = Unreachable
			}
		}
		return p, false
	})
}

// EvictUnreachable removes peers that have been Unreachable for longer
// than ttl.
func (r *Registry) EvictUnreachable(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	var stale []string
	r.peers.Range(func(addr string, p Peer) bool {
		if p.Health == Unreachable && p.LastSeen.Before(cutoff) {
			stale = append(stale, addr)
		}
		return true
	})
	for _, addr := range stale {
		r.peers.Delete(addr)
	}
}
