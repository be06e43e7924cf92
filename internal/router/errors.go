package router

import "errors"

var (
	// ErrTTLExpired means a request bounced between forwards until its
	// hop budget ran out, almost always a sign of ring-config divergence
	// between nodes.
	ErrTTLExpired = errors.New("router: ttl expired")
	// ErrNoPeers is returned by the no-ring-configured fallback when no
	// other peer is known to forward to.
	ErrNoPeers = errors.New("router: no ring configured and no peers known")
	// ErrRingCorrupt means the ring named an owner for a virtual node
	// that the ring config doesn't actually map — a ring-construction
	// bug, not a request-shaped error.
	ErrRingCorrupt = errors.New("router: ring names an unmapped virtual node")
)
