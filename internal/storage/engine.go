// Package storage is the per-node storage engine: ring-config
// persistence, CRDT merge-on-write storage of (scope, key) values, and
// the migration worker that drains a virtual node's range when the ring
// changes underneath it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"crdtstore/internal/crdt"
	"crdtstore/internal/ring"
)

// PeerPutter is the one thing the migration worker needs from the
// network layer: the ability to hand a key's bytes to another node's
// put_here endpoint. Implemented by internal/transport.Client; declared
// here (rather than imported) so this package has no dependency on the
// transport package.
type PeerPutter interface {
	PutHere(ctx context.Context, to ring.NetworkId, scope, key string, data []byte) ([]byte, error)
}

const ringFileName = "ring.json"

// Engine is the durable state of one physical node: its current ring
// config and the CRDT values it stores locally.
type Engine struct {
	root     string
	self     ring.NetworkId
	registry *crdt.Registry
	peer     PeerPutter
	locks    *lockPool

	ringMu sync.RWMutex
	cfg    *ring.RingConfig
	built  *ring.HashRing

	mig migrationState
}

// New opens (or initializes) the engine rooted at dir. If ring.json
// exists from a previous run it is loaded and the migration worker is
// resumed if it names an in-flight update.
func New(root string, registry *crdt.Registry, self ring.NetworkId, peer PeerPutter) (*Engine, error) {
	if err := os.MkdirAll(filepath.Join(root, "storage"), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data directory: %w", err)
	}
	e := &Engine{
		root:     root,
		self:     self,
		registry: registry,
		peer:     peer,
		locks:    newLockPool(),
	}
	cfg, err := e.loadRingConfig()
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		e.cfg = cfg
		e.built = ring.FromConfig(cfg)
		if cfg.Update != nil {
			log.Printf("storage: resuming migration worker for %s on restart", cfg.Update.VN)
			e.mig.spawn(e, cfg.Update)
		}
	}
	return e, nil
}

func (e *Engine) loadRingConfig() (*ring.RingConfig, error) {
	data, err := os.ReadFile(filepath.Join(e.root, ringFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read ring config: %w", err)
	}
	var cfg ring.RingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("storage: decode ring config: %w", err)
	}
	return &cfg, nil
}

// GetRingConfig returns the node's current ring config, or nil if none
// has been set yet.
func (e *Engine) GetRingConfig() *ring.RingConfig {
	e.ringMu.RLock()
	defer e.ringMu.RUnlock()
	return e.cfg.Clone()
}

// SetRingConfig persists cfg, swaps it in as the active config, and
// starts or stops the migration worker as the update field transitions.
func (e *Engine) SetRingConfig(cfg *ring.RingConfig) error {
	cfg = cfg.Clone()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode ring config: %w", err)
	}
	if err := writeAtomic(e.root, filepath.Join(e.root, ringFileName), data); err != nil {
		return fmt.Errorf("storage: persist ring config: %w", err)
	}

	e.ringMu.Lock()
	var prevUpdate *ring.RingUpdate
	if e.cfg != nil {
		prevUpdate = e.cfg.Update
	}
	e.cfg = cfg
	e.built = ring.FromConfig(cfg)
	e.ringMu.Unlock()

	e.mig.transition(e, prevUpdate, cfg.Update)
	return nil
}

// WithRing runs f with a consistent read of the current config and built
// ring, returning false if no ring has been configured yet.
func (e *Engine) WithRing(f func(cfg *ring.RingConfig, built *ring.HashRing)) bool {
	e.ringMu.RLock()
	defer e.ringMu.RUnlock()
	if e.cfg == nil {
		return false
	}
	f(e.cfg, e.built)
	return true
}

// Updating reports whether this node's migration worker is currently
// running.
func (e *Engine) Updating() bool {
	return e.mig.running()
}

func (e *Engine) path(scope, key string) string {
	return filepath.Join(e.root, "storage", ring.Sanitize(scope), ring.Sanitize(key))
}

// GetHere reads the local value stored for (scope, key), without
// consulting the ring at all.
func (e *Engine) GetHere(scope, key string) ([]byte, bool, error) {
	path := e.path(scope, key)
	unlock := e.locks.Acquire(path)
	defer unlock()
	return e.readLocked(path)
}

func (e *Engine) readLocked(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, true, nil
}

// PutHere merges data into whatever is stored locally for (scope, key)
// and returns the merged result. If nothing was stored yet, data becomes
// the value outright.
func (e *Engine) PutHere(scope, key string, data []byte) ([]byte, error) {
	path := e.path(scope, key)
	unlock := e.locks.Acquire(path)
	defer unlock()
	return e.putLocked(scope, path, data)
}

func (e *Engine) putLocked(scope, path string, data []byte) ([]byte, error) {
	existing, found, err := e.readLocked(path)
	if err != nil {
		return nil, err
	}
	final := data
	if found {
		merged, err := e.registry.MergeInScope(scope, existing, data)
		if err != nil {
			return nil, err
		}
		final = merged
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create scope directory: %w", err)
	}
	if err := writeAtomic(filepath.Dir(path), path, final); err != nil {
		return nil, fmt.Errorf("storage: write %s: %w", path, err)
	}
	return final, nil
}

// DeleteHere removes the local value for (scope, key). Deleting an
// absent key is not an error.
func (e *Engine) DeleteHere(scope, key string) error {
	path := e.path(scope, key)
	unlock := e.locks.Acquire(path)
	defer unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes data to path via a temp file in dir followed by a
// rename, so a crash mid-write never leaves a truncated file in path's
// place.
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
