package driver

import (
	"slices"
	"sync"
)

// Driver names shipped with gpuflow.
const (
	NameWGPU = "wgpu"
	NameSoft = "soft"
)

// Factory returns a driver instance. Factories may return a shared
// instance; adapters track exclusive ownership across calls.
type Factory func() Driver

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Factory)
	// Priority order for driver selection (hardware before software).
	driverPriority = []string{NameWGPU, NameSoft}
)

// Register registers a driver factory under name.
// If a driver with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = factory
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(drivers, name)
}

// Available returns the registered driver names in lexical order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a driver with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Get returns a driver instance by name, or nil if name is not registered.
func Get(name string) Driver {
	registryMu.RLock()
	factory, ok := drivers[name]
	registryMu.RUnlock()

	if !ok {
		return nil
	}
	return factory()
}

// Ordered returns the registered driver names in selection order:
// the priority list first, then any other drivers in lexical order.
func Ordered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for _, name := range driverPriority {
		if _, ok := drivers[name]; ok {
			names = append(names, name)
		}
	}

	var rest []string
	for name := range drivers {
		if !slices.Contains(driverPriority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}
