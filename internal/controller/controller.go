// Package controller implements cluster reconciliation: discovering
// peers, comparing their ring configs, and pushing the two-phase
// add/remove protocol forward one step at a time.
package controller

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"crdtstore/internal/discovery"
	"crdtstore/internal/ring"
)

// PeerClient is what the controller needs from the transport layer to
// talk to a peer's router.
type PeerClient interface {
	GetRing(ctx context.Context, to ring.NetworkId) (cfg *ring.RingConfig, configured bool, err error)
	SetRing(ctx context.Context, to ring.NetworkId, cfg *ring.RingConfig) error
	Updating(ctx context.Context, to ring.NetworkId) (bool, error)
}

// Schedule is the reconciliation loop's self-paced backoff: Fast after
// any action was taken or could be taken soon, Wait when idle or blocked
// on a drain in progress.
type Schedule int

const (
	ScheduleFast Schedule = iota
	ScheduleWait
)

func (s Schedule) Delay() time.Duration {
	if s == ScheduleFast {
		return 100 * time.Millisecond
	}
	return 5 * time.Second
}

// weightPerNode is how many virtual nodes the desired layout assigns to
// each discovered physical node.
const weightPerNode = 16

// Controller drives one node's reconciliation loop.
type Controller struct {
	peer  PeerClient
	disc  discovery.Directory
	known map[ring.NetworkId]actualConfig
}

func New(peer PeerClient, disc discovery.Directory) *Controller {
	return &Controller{peer: peer, disc: disc, known: make(map[ring.NetworkId]actualConfig)}
}

func desiredNodes(peers []ring.NetworkId) map[ring.VirtualNodeId]ring.NetworkId {
	nodes := make(map[ring.VirtualNodeId]ring.NetworkId, len(peers)*weightPerNode)
	for _, ni := range peers {
		for i := 0; i < weightPerNode; i++ {
			vn := ring.VirtualNodeId(fmt.Sprintf("%s/%02x", ni, i))
			nodes[vn] = ni
		}
	}
	return nodes
}

// RunOnce performs one reconciliation pass and reports how soon it
// should be called again.
func (c *Controller) RunOnce(ctx context.Context) Schedule {
	peers := c.disc.All()
	if len(peers) == 0 {
		log.Printf("controller: no peers discovered, nothing to reconcile")
		return ScheduleWait
	}

	for _, ni := range peers {
		if _, known := c.known[ni]; known {
			continue
		}
		cfg, configured, err := c.peer.GetRing(ctx, ni)
		if err != nil {
			log.Printf("controller: get_ring(%s) failed, will retry: %v", ni, err)
			continue
		}
		c.known[ni] = actualConfig{configured: configured, cfg: cfg}
	}
	// Drop anything we know about that is no longer discovered, so a
	// decommissioned node's stale config doesn't linger forever — unless
	// it is mid-migration, in which case it must stay reachable until
	// TryFinish confirms its worker is done.
	for ni, ac := range c.known {
		if contains(peers, ni) {
			continue
		}
		if ac.configured && ac.cfg != nil && ac.cfg.Update != nil {
			continue
		}
		delete(c.known, ni)
	}

	cc, err := parseClusterConfig(c.known)
	if err != nil {
		log.Printf("controller: %v", err)
		return ScheduleWait
	}

	act := c.decide(cc, peers)
	return c.execute(ctx, act, cc, peers)
}

func contains(list []ring.NetworkId, ni ring.NetworkId) bool {
	for _, x := range list {
		if x == ni {
			return true
		}
	}
	return false
}

type actionKind int

const (
	actionNothing actionKind = iota
	actionBootstrapAll
	actionBootstrapOne
	actionBeginAdd
	actionBeginRemove
	actionTryFinish
)

type action struct {
	kind actionKind
	ni   ring.NetworkId
	vn   ring.VirtualNodeId
}

func (c *Controller) decide(cc clusterConfig, peers []ring.NetworkId) action {
	if cc.bootstrap {
		return action{kind: actionBootstrapAll}
	}
	for _, ni := range sortedKnownKeys(c.known) {
		if !c.known[ni].configured {
			return action{kind: actionBootstrapOne, ni: ni}
		}
	}
	if cc.update != nil {
		return action{kind: actionTryFinish}
	}

	desired := desiredNodes(peers)
	for vn := range desired {
		if _, ok := cc.nodes[vn]; !ok {
			return action{kind: actionBeginAdd, vn: vn, ni: desired[vn]}
		}
	}
	desiredOwners := make(map[ring.NetworkId]bool, len(peers))
	for _, ni := range peers {
		desiredOwners[ni] = true
	}
	for vn, ni := range cc.nodes {
		if !desiredOwners[ni] {
			return action{kind: actionBeginRemove, vn: vn, ni: ni}
		}
	}
	return action{kind: actionNothing}
}

func sortedKnownKeys(m map[ring.NetworkId]actualConfig) []ring.NetworkId {
	out := make([]ring.NetworkId, 0, len(m))
	for ni := range m {
		out = append(out, ni)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Controller) execute(ctx context.Context, act action, cc clusterConfig, peers []ring.NetworkId) Schedule {
	switch act.kind {
	case actionNothing:
		return ScheduleWait

	case actionBootstrapAll:
		cfg := &ring.RingConfig{Nodes: desiredNodes(peers)}
		for _, ni := range peers {
			c.pushConfig(ctx, ni, cfg)
		}
		return ScheduleFast

	case actionBootstrapOne:
		cfg := &ring.RingConfig{Nodes: cc.nodes}
		if cfg.Nodes == nil {
			// No steady state exists yet either (e.g. every other peer
			// is also unconfigured); fall back to the fresh desired
			// layout so the first node or two can come up together.
			cfg = &ring.RingConfig{Nodes: desiredNodes(peers)}
		}
		c.pushConfig(ctx, act.ni, cfg)
		return ScheduleFast

	case actionBeginAdd:
		built := ring.NewHashRing(vnodeKeys(cc.nodes))
		oldVN := built.Cursor(act.vn).Get()
		oldNI, ok := cc.nodes[oldVN]
		if !ok {
			log.Printf("controller: begin_add could not resolve predecessor of %s", act.vn)
			return ScheduleWait
		}
		newCfg := &ring.RingConfig{
			Nodes:  cc.nodes,
			Update: &ring.RingUpdate{Kind: ring.ToAdd, VN: act.vn, NI: act.ni},
		}
		c.pushConfig(ctx, oldNI, newCfg)
		return ScheduleFast

	case actionBeginRemove:
		built := ring.NewHashRing(vnodeKeys(cc.nodes))
		successorVN := built.Cursor(act.vn).Next().Get()
		successorNI, ok := cc.nodes[successorVN]
		if !ok || successorVN == act.vn {
			log.Printf("controller: begin_remove could not resolve successor of %s", act.vn)
			return ScheduleWait
		}
		newCfg := &ring.RingConfig{
			Nodes:  cc.nodes,
			Update: &ring.RingUpdate{Kind: ring.ToRemove, VN: act.vn, NI: successorNI},
		}
		c.pushConfig(ctx, act.ni, newCfg)
		return ScheduleFast

	case actionTryFinish:
		updating, err := c.peer.Updating(ctx, cc.updateOwner)
		if err != nil {
			log.Printf("controller: updating(%s) failed, will retry: %v", cc.updateOwner, err)
			return ScheduleWait
		}
		if updating {
			return ScheduleWait
		}
		newNodes := applyUpdate(cc.nodes, cc.update)
		newCfg := &ring.RingConfig{Nodes: newNodes}
		for _, ni := range peers {
			if ni == cc.updateOwner {
				continue
			}
			c.pushConfig(ctx, ni, newCfg)
		}
		c.pushConfig(ctx, cc.updateOwner, newCfg)
		return ScheduleFast

	default:
		return ScheduleWait
	}
}

func vnodeKeys(nodes map[ring.VirtualNodeId]ring.NetworkId) []ring.VirtualNodeId {
	out := make([]ring.VirtualNodeId, 0, len(nodes))
	for vn := range nodes {
		out = append(out, vn)
	}
	return out
}

// pushConfig sends cfg to ni and updates the known cache on success. On
// failure it forgets ni so the next pass refetches its actual state
// rather than acting on stale information.
func (c *Controller) pushConfig(ctx context.Context, ni ring.NetworkId, cfg *ring.RingConfig) {
	if err := c.peer.SetRing(ctx, ni, cfg); err != nil {
		log.Printf("controller: set_ring(%s) failed, will refetch: %v", ni, err)
		delete(c.known, ni)
		return
	}
	c.known[ni] = actualConfig{configured: true, cfg: cfg}
}
