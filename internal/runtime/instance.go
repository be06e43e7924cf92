package runtime

import (
	"fmt"
	"sync"
)

// instances is a process-wide typed singleton registry, keyed by a name
// chosen by the caller (usually the component name). It exists so
// packages that need a shared Host (or other process-wide service)
// don't have to thread a parameter through every constructor.
var (
	instMu sync.RWMutex
	inst   = map[string]any{}
)

// SetInstance binds name to v. Re-binding a name to a different value
// is almost certainly a wiring bug, so it panics rather than silently
// shadowing the previous instance.
func SetInstance[T any](name string, v T) {
	instMu.Lock()
	defer instMu.Unlock()
	if _, exists := inst[name]; exists {
		panic(fmt.Sprintf("runtime: instance %q already set", name))
	}
	inst[name] = v
}

// GetInstance looks up the instance bound to name. ok is false if
// nothing was ever set, or if it was set at a different type.
func GetInstance[T any](name string) (T, bool) {
	instMu.RLock()
	defer instMu.RUnlock()
	var zero T
	v, exists := inst[name]
	if !exists {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
