// Package ring implements the consistent-hash placement layer: virtual
// nodes, the ring built from them, and the wire-level ring configuration
// that the controller pushes to storage nodes.
package ring

import (
	"crypto/sha256"
	"encoding/hex"
)

// VirtualNodeId names one slot on the ring. The desired layout names
// these "{networkID}/{i:02x}" for i in [0,16), but any string is legal —
// the ring only cares about its hash.
type VirtualNodeId string

// NetworkId is the stable, opaque address of a physical node. It doubles
// as an RPC target: callers dial it directly.
type NetworkId string

// Hash is a lowercase hex-encoded SHA-256 digest. String comparison on
// Hash is lexicographic byte comparison on the underlying digest, which
// is exactly the ordering the ring walks.
type Hash string

func hashBytes(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// RingKey is anything that can be placed on the ring: virtual node names
// and composite storage keys both resolve to a Hash.
type RingKey interface {
	Hash() Hash
}

// Hash places a virtual node on the ring by hashing its name.
func (vn VirtualNodeId) Hash() Hash {
	return hashBytes([]byte(vn))
}

// CompositeKey identifies a stored value: a CRDT scope plus a key within
// that scope.
type CompositeKey struct {
	Scope string
	Key   string
}

// Hash places a composite key on the ring. The scope and key are joined
// with a NUL separator so that ("ab", "c") and ("a", "bc") never collide.
func (ck CompositeKey) Hash() Hash {
	return hashBytes([]byte(ck.Scope), []byte{0}, []byte(ck.Key))
}

// RingUpdateKind distinguishes the two in-flight migrations a RingConfig
// can describe.
type RingUpdateKind string

const (
	ToAdd    RingUpdateKind = "to_add"
	ToRemove RingUpdateKind = "to_remove"
)

// RingUpdate describes a single virtual node in transit. For ToAdd, NI is
// the node vn is being added to. For ToRemove, NI is the node that will
// own vn's range once the removal finishes (vn's successor).
type RingUpdate struct {
	Kind RingUpdateKind `json:"kind"`
	VN   VirtualNodeId  `json:"vn"`
	NI   NetworkId      `json:"ni"`
}

// Equal reports whether two updates describe the same transition. A nil
// receiver is equal only to nil.
func (u *RingUpdate) Equal(o *RingUpdate) bool {
	if u == nil || o == nil {
		return u == nil && o == nil
	}
	return u.Kind == o.Kind && u.VN == o.VN && u.NI == o.NI
}

// RingConfig is the durable, wire-level description of ring placement
// that every node persists to ring.json and the controller pushes around
// during reconciliation.
type RingConfig struct {
	Nodes  map[VirtualNodeId]NetworkId `json:"nodes"`
	Update *RingUpdate                 `json:"update,omitempty"`
}

// NetworkID looks up the physical owner of a virtual node.
func (c *RingConfig) NetworkID(vn VirtualNodeId) (NetworkId, bool) {
	ni, ok := c.Nodes[vn]
	return ni, ok
}

// Weights counts how many virtual nodes each physical node currently
// owns according to this config.
func (c *RingConfig) Weights() map[NetworkId]int {
	w := make(map[NetworkId]int)
	for _, ni := range c.Nodes {
		w[ni]++
	}
	return w
}

// Clone deep-copies the config so callers can mutate the result without
// racing a concurrent reader of the original.
func (c *RingConfig) Clone() *RingConfig {
	if c == nil {
		return nil
	}
	nodes := make(map[VirtualNodeId]NetworkId, len(c.Nodes))
	for vn, ni := range c.Nodes {
		nodes[vn] = ni
	}
	out := &RingConfig{Nodes: nodes}
	if c.Update != nil {
		u := *c.Update
		out.Update = &u
	}
	return out
}

// NodesEqual reports whether two vnode maps are identical.
func NodesEqual(a, b map[VirtualNodeId]NetworkId) bool {
	if len(a) != len(b) {
		return false
	}
	for vn, ni := range a {
		if b[vn] != ni {
			return false
		}
	}
	return true
}
