package storage

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crdtstore/internal/ring"
)

// migrationState tracks the single migration worker goroutine a node may
// run at a time, and enforces the invariant that a ring update can only
// be cleared once the worker that was draining it has finished — a
// config push that clears an update while the worker is still running is
// a controller bug, not a recoverable race.
type migrationState struct {
	mu      sync.Mutex
	active  *ring.RingUpdate
	isRunning bool
}

func (m *migrationState) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// transition reacts to a ring config swap: prev and next are the Update
// fields of the old and new config, respectively. next is checked against
// the worker's active update, which the worker clears when it exits.
func (m *migrationState) transition(e *Engine, prev, next *ring.RingUpdate) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	switch {
	case active == nil && next == nil:
		return
	case active == nil && next != nil:
		// The same update pushed again after its worker already finished
		// has nothing left to drain.
		if !prev.Equal(next) {
			m.spawn(e, next)
		}
	case active != nil && next == nil:
		log.Fatalf("storage: ring update for %s cleared while its migration worker was still running", active.VN)
	default:
		if !active.Equal(next) {
			log.Fatalf("storage: ring update changed mid-migration: %+v -> %+v", active, next)
		}
		// Same update pushed again, e.g. a retried controller push while
		// the worker from the first push is still draining. No-op.
	}
}

func (m *migrationState) spawn(e *Engine, u *ring.RingUpdate) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.active = u
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.isRunning = false
			m.active = nil
			m.mu.Unlock()
		}()
		switch u.Kind {
		case ring.ToAdd:
			runToAdd(e, u)
		case ring.ToRemove:
			runToRemove(e, u)
		default:
			log.Printf("storage: migration worker got unknown update kind %q, exiting", u.Kind)
		}
	}()
}

// runToAdd drains the range a newly inserted virtual node carves out of
// its predecessor's range, handing each matching key to the new owner.
// It loops until a round transfers nothing and fails nothing.
func runToAdd(e *Engine, u *ring.RingUpdate) {
	ctx := context.Background()
	for {
		cfg := e.GetRingConfig()
		if cfg == nil {
			return
		}
		extended := ring.FromConfig(cfg).WithNode(u.VN)
		rng := extended.Cursor(u.VN).Range()

		transferred, failed := drainRange(ctx, e, rng, u.NI)
		if transferred == 0 && failed == 0 {
			log.Printf("storage: migration to_add %s -> %s finished", u.VN, u.NI)
			return
		}
		if failed > 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// runToRemove drains a virtual node's own range to its successor before
// the controller removes it from the ring entirely.
func runToRemove(e *Engine, u *ring.RingUpdate) {
	ctx := context.Background()
	for {
		cfg := e.GetRingConfig()
		if cfg == nil {
			return
		}
		built := ring.FromConfig(cfg)
		rng := built.Cursor(u.VN).Range()

		transferred, failed := drainRange(ctx, e, rng, u.NI)
		if transferred == 0 && failed == 0 {
			log.Printf("storage: migration to_remove %s -> %s finished", u.VN, u.NI)
			return
		}
		if failed > 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func drainRange(ctx context.Context, e *Engine, rng ring.Range, dest ring.NetworkId) (transferred, failed int) {
	keys, err := e.listKeys()
	if err != nil {
		log.Printf("storage: migration worker could not enumerate local keys: %v", err)
		return 0, 1
	}
	for _, ck := range keys {
		if !rng.Contains(ck.Hash()) {
			continue
		}
		ok, err := e.transferKey(ctx, ck.Scope, ck.Key, dest)
		if err != nil {
			log.Printf("storage: transfer %s/%s to %s failed: %v", ck.Scope, ck.Key, dest, err)
			failed++
			continue
		}
		if ok {
			transferred++
		}
	}
	return transferred, failed
}

// transferKey holds the per-key lock across the remote put_here RPC and
// the local delete. This is the one place in the engine a lock is held
// across a network call, and it is bounded to a single key: either a
// concurrent local put lands before this read (and is included in what
// gets transferred) or after this delete (and reappears locally, to be
// retried on the worker's next round).
func (e *Engine) transferKey(ctx context.Context, scope, key string, dest ring.NetworkId) (bool, error) {
	path := e.path(scope, key)
	unlock := e.locks.Acquire(path)
	defer unlock()

	data, found, err := e.readLocked(path)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if _, err := e.peer.PutHere(ctx, dest, scope, key, data); err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}

func (e *Engine) listKeys() ([]ring.CompositeKey, error) {
	storageRoot := filepath.Join(e.root, "storage")
	scopeDirs, err := os.ReadDir(storageRoot)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []ring.CompositeKey
	for _, sd := range scopeDirs {
		if !sd.IsDir() {
			continue
		}
		scope := ring.Unsanitize(sd.Name())
		entries, err := os.ReadDir(filepath.Join(storageRoot, sd.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range entries {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".tmp-") {
				continue
			}
			out = append(out, ring.CompositeKey{Scope: scope, Key: ring.Unsanitize(f.Name())})
		}
	}
	return out, nil
}
