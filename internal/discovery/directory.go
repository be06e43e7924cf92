// Package discovery stands in for the host runtime's peer discovery
// contract: given a component name, return the stable addresses of every
// instance of it. This repo has no scheduler, so the only implementation
// is a static, flag-configured list — the same flag-driven peer set the
// teacher's cluster.Config.Peers builds at startup.
package discovery

import "crdtstore/internal/ring"

// Directory reports the cluster's router peers.
type Directory interface {
	// Self is this process's own network id.
	Self() ring.NetworkId
	// Peers lists every other known router peer, excluding Self.
	Peers() []ring.NetworkId
	// All returns Self plus every peer, the full discovered node set the
	// controller reconciles against.
	All() []ring.NetworkId
}

// Static is a fixed peer list parsed once from flags at startup.
type Static struct {
	self  ring.NetworkId
	peers []ring.NetworkId
}

// NewStatic builds a Directory from a self id and a list of peer
// addresses. self is filtered out of peers if present, so callers can
// pass a flag value that happens to include itself without double
// counting.
func NewStatic(self ring.NetworkId, peers []ring.NetworkId) *Static {
	filtered := make([]ring.NetworkId, 0, len(peers))
	for _, p := range peers {
		if p != self {
			filtered = append(filtered, p)
		}
	}
	return &Static{self: self, peers: filtered}
}

func (s *Static) Self() ring.NetworkId { return s.self }

func (s *Static) Peers() []ring.NetworkId {
	out := make([]ring.NetworkId, len(s.peers))
	copy(out, s.peers)
	return out
}

func (s *Static) All() []ring.NetworkId {
	out := make([]ring.NetworkId, 0, len(s.peers)+1)
	out = append(out, s.self)
	out = append(out, s.peers...)
	return out
}
