package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates an uninitialized tracker. Integrations register one from
// their init function, and the configured tracker name picks it per side.
type Factory func() Plugin

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes a tracker integration available under name. Registering
// the same name twice panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("tracker: Register factory is nil for " + name)
	}
	if _, dup := factories[name]; dup {
		panic("tracker: Register called twice for " + name)
	}
	factories[name] = factory
}

// IsRegistered reports whether name can be passed to NewTracker.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// NewTracker returns a fresh instance of the named integration.
func NewTracker(name string) (Plugin, error) {
	registryMu.RLock()
	factory := factories[name]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unknown tracker %q (available: %v)", name, registered())
	}
	return factory(), nil
}

func registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
