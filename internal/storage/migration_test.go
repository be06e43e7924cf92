package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crdtstore/internal/crdt"
	"crdtstore/internal/crdt/crdtypes"
	"crdtstore/internal/ring"
)

// engineBridge routes a migration worker's remote put_here calls to the
// matching in-process Engine, standing in for a real transport.Client in
// these tests.
type engineBridge struct {
	engines map[ring.NetworkId]*Engine
}

func (b *engineBridge) PutHere(ctx context.Context, to ring.NetworkId, scope, key string, data []byte) ([]byte, error) {
	target, ok := b.engines[to]
	if !ok {
		return nil, fmt.Errorf("engineBridge: no engine registered for %s", to)
	}
	return target.PutHere(scope, key, data)
}

func waitUntilIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !e.Updating() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("migration worker did not finish in time")
}

func TestMigrationToAddDrainsMatchingKeys(t *testing.T) {
	bridge := &engineBridge{engines: map[ring.NetworkId]*Engine{}}
	reg := crdt.NewRegistry()
	crdt.Bind[crdtypes.Max[int]](reg, "counters")

	eA, err := New(t.TempDir(), reg, "a", bridge)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	eB, err := New(t.TempDir(), reg, "b", bridge)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	bridge.engines["a"] = eA
	bridge.engines["b"] = eB

	steady := &ring.RingConfig{Nodes: map[ring.VirtualNodeId]ring.NetworkId{"a/00": "a"}}
	if err := eA.SetRingConfig(steady); err != nil {
		t.Fatalf("SetRingConfig a: %v", err)
	}

	// Seed enough keys that at least one lands in whatever range b/00
	// carves out, regardless of where the hash function places it.
	for i := 0; i < 50; i++ {
		if _, err := eA.PutHere("counters", fmt.Sprintf("key-%d", i), encodeMax(i)); err != nil {
			t.Fatalf("PutHere seed %d: %v", i, err)
		}
	}

	extended := ring.FromConfig(steady).WithNode("b/00")
	rng := extended.Cursor(ring.VirtualNodeId("b/00")).Range()
	var wantMoved []string
	for i := 0; i < 50; i++ {
		ck := ring.CompositeKey{Scope: "counters", Key: fmt.Sprintf("key-%d", i)}
		if rng.Contains(ck.Hash()) {
			wantMoved = append(wantMoved, ck.Key)
		}
	}
	if len(wantMoved) == 0 {
		t.Fatalf("test setup produced no keys in the split range, adjust key count")
	}

	update := &ring.RingConfig{
		Nodes:  steady.Nodes,
		Update: &ring.RingUpdate{Kind: ring.ToAdd, VN: "b/00", NI: "b"},
	}
	if err := eA.SetRingConfig(update); err != nil {
		t.Fatalf("SetRingConfig update: %v", err)
	}
	waitUntilIdle(t, eA)

	for _, key := range wantMoved {
		if _, ok, _ := eA.GetHere("counters", key); ok {
			t.Fatalf("expected %s to have moved off a", key)
		}
		if _, ok, _ := eB.GetHere("counters", key); !ok {
			t.Fatalf("expected %s to have landed on b", key)
		}
	}

	// Everything not in range should have stayed put.
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		moved := false
		for _, k := range wantMoved {
			if k == key {
				moved = true
			}
		}
		if moved {
			continue
		}
		if _, ok, _ := eA.GetHere("counters", key); !ok {
			t.Fatalf("expected %s to have stayed on a", key)
		}
	}
}

func TestMigrationFatalsWhenUpdateClearedMidDrain(t *testing.T) {
	// Document the invariant rather than exercising log.Fatalf directly
	// (which would terminate the test binary): the transition function
	// is only reachable from SetRingConfig, and a correct controller
	// never clears an update before Updating() reports false, so this
	// path exists to fail loudly on a controller bug, not to be hit in
	// normal operation.
	t.Skip("transition with an active worker and next=nil calls log.Fatalf by design; not exercised directly")
}
