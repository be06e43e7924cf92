// Package router implements the CRDT placement decision: given a
// (scope, key), decide whether to serve it locally, forward it to its
// ring owner, or — while that owner's range is mid-split — fan out to
// both the old and new owner.
package router

import (
	"context"
	"fmt"
	"math/rand"

	"crdtstore/internal/crdt"
	"crdtstore/internal/discovery"
	"crdtstore/internal/ring"
	"crdtstore/internal/storage"
)

// DefaultTTL bounds how many times a request may be forwarded before a
// node gives up and reports ErrTTLExpired, protecting against routing
// loops from a stale or diverged ring.
const DefaultTTL = 8

// Peer is the subset of the transport client the router needs to talk to
// other nodes' routers.
type Peer interface {
	Get(ctx context.Context, to ring.NetworkId, ttl int, scope, key string) ([]byte, bool, error)
	Put(ctx context.Context, to ring.NetworkId, ttl int, scope, key string, data []byte) ([]byte, error)

	// GetHere and PutHere bypass the remote node's own placement
	// decision and hit its storage directly. StoreAdding uses these,
	// not Get/Put, because the new owner's ring hasn't been updated yet:
	// the controller only arms the old owner's RingConfig.Update until
	// TryFinish publishes the new ring, so routing a StoreAdding call
	// through the new owner's decide would resolve right back to the old
	// owner and bounce until the TTL runs out.
	GetHere(ctx context.Context, to ring.NetworkId, scope, key string) ([]byte, bool, error)
	PutHere(ctx context.Context, to ring.NetworkId, scope, key string, data []byte) ([]byte, error)
}

// Router is the per-node routing front door.
type Router struct {
	Myself ring.NetworkId
	Engine *storage.Engine
	Peer   Peer
	Disc   discovery.Directory
	Reg    *crdt.Registry
}

func New(myself ring.NetworkId, engine *storage.Engine, peer Peer, disc discovery.Directory, reg *crdt.Registry) *Router {
	return &Router{Myself: myself, Engine: engine, Peer: peer, Disc: disc, Reg: reg}
}

type actionKind int

const (
	actionStore actionKind = iota
	actionForward
	actionStoreAdding
)

type action struct {
	kind actionKind
	ni   ring.NetworkId
}

// decide resolves the placement action for ck given a ring snapshot.
func (r *Router) decide(cfg *ring.RingConfig, built *ring.HashRing, ck ring.CompositeKey) (action, error) {
	cur := built.Cursor(ck)
	vn0 := cur.Get()
	ni0, ok := cfg.NetworkID(vn0)
	if !ok {
		return action{}, ErrRingCorrupt
	}
	if ni0 != r.Myself {
		return action{kind: actionForward, ni: ni0}, nil
	}
	if u := cfg.Update; u != nil {
		switch u.Kind {
		case ring.ToAdd:
			// u.VN isn't in the ring yet; if its hash falls inside the
			// range this cursor just resolved, that range is the one
			// being split and the key may already have migrated.
			if cur.Range().Contains(u.VN.Hash()) {
				return action{kind: actionStoreAdding, ni: u.NI}, nil
			}
		case ring.ToRemove:
			// u.VN is still in the ring (not yet removed); a cursor that
			// lands exactly on it names the node being drained.
			if vn0 == u.VN {
				return action{kind: actionStoreAdding, ni: u.NI}, nil
			}
		}
	}
	return action{kind: actionStore}, nil
}

func (r *Router) randomPeer() (ring.NetworkId, bool) {
	peers := r.Disc.Peers()
	if len(peers) == 0 {
		return "", false
	}
	return peers[rand.Intn(len(peers))], true
}

// Get resolves (scope, key), forwarding or fanning out as the ring
// requires. ttl must be DefaultTTL on the initiating call; forwards
// decrement it.
func (r *Router) Get(ctx context.Context, ttl int, scope, key string) ([]byte, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrTTLExpired
	}
	ck := ring.CompositeKey{Scope: scope, Key: key}

	var act action
	var decideErr error
	hasRing := r.Engine.WithRing(func(cfg *ring.RingConfig, built *ring.HashRing) {
		act, decideErr = r.decide(cfg, built, ck)
	})
	if !hasRing {
		peer, ok := r.randomPeer()
		if !ok {
			return nil, false, ErrNoPeers
		}
		return r.Peer.Get(ctx, peer, ttl-1, scope, key)
	}
	if decideErr != nil {
		return nil, false, decideErr
	}

	switch act.kind {
	case actionStore:
		return r.Engine.GetHere(scope, key)
	case actionForward:
		return r.Peer.Get(ctx, act.ni, ttl-1, scope, key)
	case actionStoreAdding:
		return r.getStoreAdding(ctx, ttl, scope, key, act.ni)
	default:
		return nil, false, fmt.Errorf("router: unknown action kind %d", act.kind)
	}
}

func (r *Router) getStoreAdding(ctx context.Context, ttl int, scope, key string, newOwner ring.NetworkId) ([]byte, bool, error) {
	type result struct {
		data []byte
		ok   bool
		err  error
	}
	localCh := make(chan result, 1)
	remoteCh := make(chan result, 1)

	go func() {
		data, ok, err := r.Engine.GetHere(scope, key)
		localCh <- result{data, ok, err}
	}()
	go func() {
		data, ok, err := r.Peer.GetHere(ctx, newOwner, scope, key)
		remoteCh <- result{data, ok, err}
	}()

	local, remote := <-localCh, <-remoteCh

	if local.err != nil && remote.err != nil {
		return nil, false, fmt.Errorf("router: both local and remote get failed: local=%v remote=%v", local.err, remote.err)
	}
	if local.err != nil {
		local = result{}
	}
	if remote.err != nil {
		remote = result{}
	}

	switch {
	case local.ok && remote.ok:
		merged, err := r.Reg.MergeInScope(scope, local.data, remote.data)
		if err != nil {
			return nil, false, err
		}
		return merged, true, nil
	case local.ok:
		return local.data, true, nil
	case remote.ok:
		return remote.data, true, nil
	default:
		return nil, false, nil
	}
}

// Put stores data at (scope, key), storing locally or forwarding as the
// ring requires. Unlike Get it never fans out: during a StoreAdding
// split the write goes only to the new owner.
func (r *Router) Put(ctx context.Context, ttl int, scope, key string, data []byte) ([]byte, error) {
	if ttl <= 0 {
		return nil, ErrTTLExpired
	}
	ck := ring.CompositeKey{Scope: scope, Key: key}

	var act action
	var decideErr error
	hasRing := r.Engine.WithRing(func(cfg *ring.RingConfig, built *ring.HashRing) {
		act, decideErr = r.decide(cfg, built, ck)
	})
	if !hasRing {
		peer, ok := r.randomPeer()
		if !ok {
			return nil, ErrNoPeers
		}
		return r.Peer.Put(ctx, peer, ttl-1, scope, key, data)
	}
	if decideErr != nil {
		return nil, decideErr
	}

	switch act.kind {
	case actionStore:
		return r.Engine.PutHere(scope, key, data)
	case actionForward:
		return r.Peer.Put(ctx, act.ni, ttl-1, scope, key, data)
	case actionStoreAdding:
		// Unconditionally forward to the new owner, direct to its
		// storage: writing locally too would just be overwritten by
		// the migration worker's transfer (or race with it), and
		// routing through the new owner's own Put would resolve back
		// to us (its ring doesn't carry this Update yet) and bounce
		// until the TTL expires.
		return r.Peer.PutHere(ctx, act.ni, scope, key, data)
	default:
		return nil, fmt.Errorf("router: unknown action kind %d", act.kind)
	}
}

// GetHere, PutHere, Updating, GetRing and SetRing are direct storage
// passthroughs exposed over RPC for peer routers and the controller —
// no placement decision involved.

func (r *Router) GetHere(scope, key string) ([]byte, bool, error) {
	return r.Engine.GetHere(scope, key)
}

func (r *Router) PutHere(scope, key string, data []byte) ([]byte, error) {
	return r.Engine.PutHere(scope, key, data)
}

func (r *Router) Updating() bool {
	return r.Engine.Updating()
}

func (r *Router) GetRing() *ring.RingConfig {
	return r.Engine.GetRingConfig()
}

func (r *Router) SetRing(cfg *ring.RingConfig) error {
	return r.Engine.SetRingConfig(cfg)
}
