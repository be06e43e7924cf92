package controller

import (
	"fmt"

	"crdtstore/internal/ring"
)

// actualConfig is what one peer reported for get_ring: either it has
// never had a ring config pushed to it (Configured == false), or it has
// one.
type actualConfig struct {
	configured bool
	cfg        *ring.RingConfig
}

// clusterConfig is the parsed, agreed-upon view of the cluster's ring
// state, or the result of recognizing no peer has a config yet.
type clusterConfig struct {
	bootstrap   bool
	nodes       map[ring.VirtualNodeId]ring.NetworkId
	update      *ring.RingUpdate
	updateOwner ring.NetworkId
}

func applyUpdate(nodes map[ring.VirtualNodeId]ring.NetworkId, u *ring.RingUpdate) map[ring.VirtualNodeId]ring.NetworkId {
	out := make(map[ring.VirtualNodeId]ring.NetworkId, len(nodes)+1)
	for vn, ni := range nodes {
		out[vn] = ni
	}
	switch u.Kind {
	case ring.ToAdd:
		out[u.VN] = u.NI
	case ring.ToRemove:
		delete(out, u.VN)
	}
	return out
}

type configGroup struct {
	nodes  map[ring.VirtualNodeId]ring.NetworkId
	update *ring.RingUpdate
	owners []ring.NetworkId
}

// parseClusterConfig groups every configured peer's (nodes, update) pair
// and checks the cluster is in one of the two states the two-phase
// protocol ever produces:
//
//   - every configured peer reports the identical pair (steady state, or
//     a single-node cluster mid update), or
//   - the configured peers split into exactly two groups, one carrying
//     an update and one without, where the no-update group's nodes equal
//     either the update group's nodes as-is (update just begun) or the
//     update group's nodes with the update already applied (update
//     almost done publishing).
//
// Any other pattern means two controllers disagree about what's in
// flight, or a peer was pushed to out of protocol, and is reported as an
// error rather than guessed at.
func parseClusterConfig(known map[ring.NetworkId]actualConfig) (clusterConfig, error) {
	var groups []*configGroup
	anyConfigured := false
	for ni, ac := range known {
		if !ac.configured {
			continue
		}
		anyConfigured = true
		placed := false
		for _, g := range groups {
			if ring.NodesEqual(g.nodes, ac.cfg.Nodes) && g.update.Equal(ac.cfg.Update) {
				g.owners = append(g.owners, ni)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &configGroup{nodes: ac.cfg.Nodes, update: ac.cfg.Update, owners: []ring.NetworkId{ni}})
		}
	}
	if !anyConfigured {
		return clusterConfig{bootstrap: true}, nil
	}

	switch len(groups) {
	case 1:
		g := groups[0]
		if g.update != nil && len(g.owners) != 1 {
			return clusterConfig{}, fmt.Errorf("inconsistent cluster: update %+v shared identically by multiple nodes %v", g.update, g.owners)
		}
		var owner ring.NetworkId
		if g.update != nil {
			owner = g.owners[0]
		}
		return clusterConfig{nodes: g.nodes, update: g.update, updateOwner: owner}, nil

	case 2:
		var withUpdate, withoutUpdate *configGroup
		for _, g := range groups {
			if g.update != nil {
				if withUpdate != nil {
					return clusterConfig{}, fmt.Errorf("inconsistent cluster: more than one distinct update in flight")
				}
				withUpdate = g
			} else {
				if withoutUpdate != nil {
					return clusterConfig{}, fmt.Errorf("inconsistent cluster: two distinct steady-state node maps with no update to explain the split")
				}
				withoutUpdate = g
			}
		}
		if withUpdate == nil || withoutUpdate == nil {
			return clusterConfig{}, fmt.Errorf("inconsistent cluster: two distinct configs but neither explains the other via an update")
		}
		if len(withUpdate.owners) != 1 {
			return clusterConfig{}, fmt.Errorf("inconsistent cluster: update %+v shared identically by multiple nodes %v", withUpdate.update, withUpdate.owners)
		}
		applied := applyUpdate(withUpdate.nodes, withUpdate.update)
		if !ring.NodesEqual(withoutUpdate.nodes, withUpdate.nodes) && !ring.NodesEqual(withoutUpdate.nodes, applied) {
			return clusterConfig{}, fmt.Errorf("inconsistent cluster: the two camps' node maps differ by more than the in-flight update")
		}
		return clusterConfig{nodes: withoutUpdate.nodes, update: withUpdate.update, updateOwner: withUpdate.owners[0]}, nil

	default:
		return clusterConfig{}, fmt.Errorf("inconsistent cluster: %d distinct ring configurations among peers", len(groups))
	}
}
