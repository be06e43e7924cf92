package router

import (
	"context"
	"encoding/json"
	"testing"

	"crdtstore/internal/crdt"
	"crdtstore/internal/crdt/crdtypes"
	"crdtstore/internal/discovery"
	"crdtstore/internal/ring"
	"crdtstore/internal/storage"
)

// fakePeer forwards calls directly to another Router in the same process,
// standing in for internal/transport.Client in these tests.
type fakePeer struct {
	routers map[ring.NetworkId]*Router
}

func (p *fakePeer) Get(ctx context.Context, to ring.NetworkId, ttl int, scope, key string) ([]byte, bool, error) {
	return p.routers[to].Get(ctx, ttl, scope, key)
}

func (p *fakePeer) Put(ctx context.Context, to ring.NetworkId, ttl int, scope, key string, data []byte) ([]byte, error) {
	return p.routers[to].Put(ctx, ttl, scope, key, data)
}

func (p *fakePeer) GetHere(ctx context.Context, to ring.NetworkId, scope, key string) ([]byte, bool, error) {
	return p.routers[to].GetHere(scope, key)
}

func (p *fakePeer) PutHere(ctx context.Context, to ring.NetworkId, scope, key string, data []byte) ([]byte, error) {
	return p.routers[to].PutHere(scope, key, data)
}

// enginePeer bridges storage.Engine's PutHere calls directly to another
// engine, used for the migration worker inside these router tests.
type enginePeer struct {
	engines map[ring.NetworkId]*storage.Engine
}

func (p *enginePeer) PutHere(ctx context.Context, to ring.NetworkId, scope, key string, data []byte) ([]byte, error) {
	return p.engines[to].PutHere(scope, key, data)
}

func newNode(t *testing.T, self ring.NetworkId, peers []ring.NetworkId, reg *crdt.Registry, engines map[ring.NetworkId]*storage.Engine, routers map[ring.NetworkId]*Router) *Router {
	t.Helper()
	ep := &enginePeer{engines: engines}
	e, err := storage.New(t.TempDir(), reg, self, ep)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	engines[self] = e
	fp := &fakePeer{routers: routers}
	disc := discovery.NewStatic(self, peers)
	r := New(self, e, fp, disc, reg)
	routers[self] = r
	return r
}

func encodeMax(v int) []byte {
	data, _ := json.Marshal(crdtypes.Max[int]{Value: v})
	return data
}

func TestGetTTLExpired(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	engines := map[ring.NetworkId]*storage.Engine{}
	routers := map[ring.NetworkId]*Router{}
	r := newNode(t, "n1", nil, reg, engines, routers)

	_, _, err := r.Get(context.Background(), 0, "counters", "k")
	if err != ErrTTLExpired {
		t.Fatalf("expected ErrTTLExpired, got %v", err)
	}
}

func TestNoRingConfiguredFallsBackToRandomPeer(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	engines := map[ring.NetworkId]*storage.Engine{}
	routers := map[ring.NetworkId]*Router{}
	r1 := newNode(t, "n1", []ring.NetworkId{"n2"}, reg, engines, routers)
	newNode(t, "n2", []ring.NetworkId{"n1"}, reg, engines, routers)

	// n2 has a ring configured with itself as sole owner; n1 does not.
	cfg := &ring.RingConfig{Nodes: map[ring.VirtualNodeId]ring.NetworkId{"n2/00": "n2"}}
	if err := routers["n2"].SetRing(cfg); err != nil {
		t.Fatalf("SetRing: %v", err)
	}

	if _, err := r1.Put(context.Background(), DefaultTTL, "counters", "k", encodeMax(5)); err != nil {
		t.Fatalf("Put via fallback: %v", err)
	}
	data, ok, err := routers["n2"].GetHere("counters", "k")
	if err != nil || !ok {
		t.Fatalf("expected n2 to have stored the forwarded key, ok=%v err=%v", ok, err)
	}
	var got crdtypes.Max[int]
	json.Unmarshal(data, &got)
	if got.Value != 5 {
		t.Fatalf("expected 5, got %d", got.Value)
	}
}

func TestNoRingNoPeersErrors(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	engines := map[ring.NetworkId]*storage.Engine{}
	routers := map[ring.NetworkId]*Router{}
	r := newNode(t, "solo", nil, reg, engines, routers)

	_, _, err := r.Get(context.Background(), DefaultTTL, "counters", "k")
	if err != ErrNoPeers {
		t.Fatalf("expected ErrNoPeers, got %v", err)
	}
}

func TestSteadyStateStoresLocally(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	engines := map[ring.NetworkId]*storage.Engine{}
	routers := map[ring.NetworkId]*Router{}
	r := newNode(t, "solo", nil, reg, engines, routers)
	cfg := &ring.RingConfig{Nodes: map[ring.VirtualNodeId]ring.NetworkId{"solo/00": "solo"}}
	if err := r.SetRing(cfg); err != nil {
		t.Fatalf("SetRing: %v", err)
	}

	if _, err := r.Put(context.Background(), DefaultTTL, "counters", "k", encodeMax(7)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, ok, err := r.Get(context.Background(), DefaultTTL, "counters", "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	var got crdtypes.Max[int]
	json.Unmarshal(data, &got)
	if got.Value != 7 {
		t.Fatalf("expected 7, got %d", got.Value)
	}
}

// TestPutDuringAddLandsDirectlyOnNewOwner covers the StoreAdding write
// path mid-drain: the new owner's own ring doesn't carry the in-flight
// Update yet (only the old owner's does, until TryFinish), so the old
// owner must hand the write straight to the new owner's storage rather
// than routing it through the new owner's Put, which would resolve
// back to the old owner and bounce until the TTL ran out.
func TestPutDuringAddLandsDirectlyOnNewOwner(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	engines := map[ring.NetworkId]*storage.Engine{}
	routers := map[ring.NetworkId]*Router{}
	r1 := newNode(t, "n1", []ring.NetworkId{"n2"}, reg, engines, routers)
	r2 := newNode(t, "n2", []ring.NetworkId{"n1"}, reg, engines, routers)

	// n1 is mid-drain: its range is being split off to a not-yet-live
	// vnode on n2. n2 itself has no ring configured at all, standing in
	// for "the new ring hasn't reached it yet".
	cfg := &ring.RingConfig{
		Nodes:  map[ring.VirtualNodeId]ring.NetworkId{"n1/00": "n1"},
		Update: &ring.RingUpdate{Kind: ring.ToAdd, VN: "n2/00", NI: "n2"},
	}
	if err := r1.SetRing(cfg); err != nil {
		t.Fatalf("SetRing: %v", err)
	}

	if _, err := r1.Put(context.Background(), DefaultTTL, "counters", "k", encodeMax(11)); err != nil {
		t.Fatalf("Put during drain: %v", err)
	}

	if _, ok, _ := r1.Engine.GetHere("counters", "k"); ok {
		t.Fatalf("expected key to not be stored on the draining old owner")
	}
	data, ok, err := r2.Engine.GetHere("counters", "k")
	if err != nil || !ok {
		t.Fatalf("expected key to land directly on the new owner's storage, ok=%v err=%v", ok, err)
	}
	var got crdtypes.Max[int]
	json.Unmarshal(data, &got)
	if got.Value != 11 {
		t.Fatalf("expected 11, got %d", got.Value)
	}
}

func TestForwardsToRingOwner(t *testing.T) {
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")
	engines := map[ring.NetworkId]*storage.Engine{}
	routers := map[ring.NetworkId]*Router{}
	r1 := newNode(t, "n1", []ring.NetworkId{"n2"}, reg, engines, routers)
	r2 := newNode(t, "n2", []ring.NetworkId{"n1"}, reg, engines, routers)

	cfg := &ring.RingConfig{Nodes: map[ring.VirtualNodeId]ring.NetworkId{"n1/00": "n1", "n2/00": "n2"}}
	r1.SetRing(cfg)
	r2.SetRing(cfg)

	// Find a key whose owner is n2 according to both nodes' identical
	// ring builds, then write it through n1.
	var key string
	for i := 0; i < 1000; i++ {
		k := "probe-" + string(rune('a'+i%26)) + string(rune('0'+i/26%10))
		var owner ring.NetworkId
		r1.Engine.WithRing(func(c *ring.RingConfig, built *ring.HashRing) {
			vn := built.Cursor(ring.CompositeKey{Scope: "counters", Key: k}).Get()
			owner, _ = c.NetworkID(vn)
		})
		if owner == "n2" {
			key = k
			break
		}
	}
	if key == "" {
		t.Fatalf("could not find a probe key owned by n2")
	}

	if _, err := r1.Put(context.Background(), DefaultTTL, "counters", key, encodeMax(42)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := r1.Engine.GetHere("counters", key); ok {
		t.Fatalf("expected key to NOT be stored locally on n1")
	}
	data, ok, err := r2.Engine.GetHere("counters", key)
	if err != nil || !ok {
		t.Fatalf("expected key to be stored on n2 after forward, ok=%v err=%v", ok, err)
	}
	var got crdtypes.Max[int]
	json.Unmarshal(data, &got)
	if got.Value != 42 {
		t.Fatalf("expected 42, got %d", got.Value)
	}
}
