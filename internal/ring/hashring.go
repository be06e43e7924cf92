package ring

import "sort"

type ringEntry struct {
	hash Hash
	vn   VirtualNodeId
}

// HashRing is the sorted set of virtual node positions. It is immutable
// once built; adding a node produces a new ring rather than mutating in
// place, so a Cursor taken mid-reconciliation never sees a half-built
// ring.
type HashRing struct {
	data []ringEntry
}

// NewHashRing builds a ring from a set of virtual node names. Two
// distinct virtual nodes hashing to the same slot is a ring-construction
// invariant violation severe enough that there is no sane placement
// decision left to make, so it panics rather than silently dropping one.
func NewHashRing(vns []VirtualNodeId) *HashRing {
	data := make([]ringEntry, 0, len(vns))
	for _, vn := range vns {
		data = append(data, ringEntry{hash: vn.Hash(), vn: vn})
	}
	sort.Slice(data, func(i, j int) bool { return data[i].hash < data[j].hash })
	for i := 1; i < len(data); i++ {
		if data[i].hash == data[i-1].hash {
			panic("ring: virtual nodes " + string(data[i-1].vn) + " and " + string(data[i].vn) + " collide")
		}
	}
	return &HashRing{data: data}
}

// FromConfig builds a ring from a RingConfig's node set.
func FromConfig(cfg *RingConfig) *HashRing {
	vns := make([]VirtualNodeId, 0, len(cfg.Nodes))
	for vn := range cfg.Nodes {
		vns = append(vns, vn)
	}
	return NewHashRing(vns)
}

// WithNode returns a new ring with vn inserted, leaving the receiver
// untouched. Used by the controller and the migration worker to reason
// about placement before a virtual node is actually committed to a
// RingConfig.
func (r *HashRing) WithNode(vn VirtualNodeId) *HashRing {
	vns := make([]VirtualNodeId, 0, len(r.data)+1)
	for _, e := range r.data {
		vns = append(vns, e.vn)
	}
	vns = append(vns, vn)
	return NewHashRing(vns)
}

func (r *HashRing) Len() int { return len(r.data) }

// Cursor locates the virtual node responsible for k: the predecessor of
// k's hash on the ring (the node whose range [its hash, next hash)
// covers k), wrapping to the largest entry if k's hash is before every
// entry.
func (r *HashRing) Cursor(k RingKey) Cursor {
	return r.cursorAt(k.Hash())
}

func (r *HashRing) cursorAt(h Hash) Cursor {
	n := len(r.data)
	i := sort.Search(n, func(i int) bool { return r.data[i].hash > h })
	i = (i + n - 1) % n
	return Cursor{ring: r, i: i}
}

// Cursor names a position on the ring: the virtual node at index i.
type Cursor struct {
	ring *HashRing
	i    int
}

// Get returns the virtual node this cursor points at.
func (c Cursor) Get() VirtualNodeId {
	return c.ring.data[c.i].vn
}

// Next advances to the following slot, wrapping past the end.
func (c Cursor) Next() Cursor {
	n := len(c.ring.data)
	return Cursor{ring: c.ring, i: (c.i + 1) % n}
}

// Prev retreats to the preceding slot, wrapping before the start. This is
// the "miss" rule used by Cursor construction itself: (i+n-1)%n.
func (c Cursor) Prev() Cursor {
	n := len(c.ring.data)
	return Cursor{ring: c.ring, i: (c.i + n - 1) % n}
}

// Range returns the half-open hash interval this cursor's virtual node
// owns: [this node's hash, next node's hash). On a single-node ring the
// range covers the whole keyspace.
func (c Cursor) Range() Range {
	next := c.Next()
	return Range{Start: c.ring.data[c.i].hash, End: c.ring.data[next.i].hash}
}

// Range is a half-open interval of hash space, possibly wrapping around
// the high end back to zero.
type Range struct {
	Start, End Hash
}

// Contains reports whether h falls in the range, accounting for wraparound.
func (rg Range) Contains(h Hash) bool {
	if rg.Start == rg.End {
		// Only a single-node ring produces an equal start/end; that node
		// owns the entire keyspace.
		return true
	}
	if rg.Start < rg.End {
		return h >= rg.Start && h < rg.End
	}
	return h >= rg.Start || h < rg.End
}

// TrimStart returns the sub-range that begins at newStart and keeps the
// same end — the range a newly inserted virtual node carves out of the
// range it split.
func (rg Range) TrimStart(newStart Hash) Range {
	return Range{Start: newStart, End: rg.End}
}
