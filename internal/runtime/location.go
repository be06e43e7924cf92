// Package runtime is a small stand-in for the host scheduler that, in a
// real deployment, would place components, hand them a storage
// directory, and tell them who else is running. Production wiring
// (cmd/server) supplies all of this via flags instead; LocalHost exists
// so tests and single-process multi-node harnesses don't need a real
// scheduler either.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Location names where a component instance runs. A node keeps the same
// identity across restarts (Stable); a one-off test or tool process
// doesn't need one (Ephemeral).
type Location interface {
	isLocation()
	String() string
}

type stableLocation struct{ id string }

func Stable(id string) Location { return stableLocation{id} }

func (stableLocation) isLocation()        {}
func (l stableLocation) String() string   { return l.id }

type ephemeralLocation struct{ id string }

func Ephemeral(id string) Location { return ephemeralLocation{id} }

func (ephemeralLocation) isLocation()      {}
func (l ephemeralLocation) String() string { return "ephemeral:" + l.id }

// IsStable reports whether loc names a durable, restart-surviving
// identity rather than a throwaway one.
func IsStable(loc Location) bool {
	_, ok := loc.(stableLocation)
	return ok
}

// Host is what a component needs from its runtime: a place to persist
// state, and who else is out there.
type Host interface {
	// StorageDir returns a directory a component may write to, creating
	// it if necessary. Two different components never collide.
	StorageDir(component string) (string, error)
	// Discover lists the other known locations currently running
	// component, not including Myself.
	Discover(component string) []Location
	// Myself is this process's own location for component.
	Myself(component string) Location
}

// LocalHost is a single-process Host: every component lives under one
// root directory, and peers are whatever was registered at
// construction. It is meant for tests and for running several logical
// nodes in one binary, not for a real multi-machine deployment.
type LocalHost struct {
	root string
	self Location

	mu    sync.RWMutex
	peers map[string][]Location
}

func NewLocalHost(root string, self Location) *LocalHost {
	return &LocalHost{root: root, self: self, peers: make(map[string][]Location)}
}

// RegisterPeers sets the discoverable peer list for component. Tests
// call this directly since LocalHost has no real discovery mechanism.
func (h *LocalHost) RegisterPeers(component string, peers []Location) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[component] = append([]Location(nil), peers...)
}

func (h *LocalHost) StorageDir(component string) (string, error) {
	dir := filepath.Join(h.root, component, h.self.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("runtime: storage dir for %s: %w", component, err)
	}
	return dir, nil
}

func (h *LocalHost) Discover(component string) []Location {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Location, 0, len(h.peers[component]))
	for _, p := range h.peers[component] {
		if p == h.self {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (h *LocalHost) Myself(component string) Location {
	return h.self
}
