// Package driver hosts camera driver adapters and the registry the worker
// uses to pick one by name.
package driver

import (
	"fmt"
	"sort"
	"sync"

	"camlink/internal/camera"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() camera.Adapter{}
)

// Register makes an adapter constructor available under the given name.
// Registering a duplicate name panics; adapters register from init, so a
// collision is a programming error.
func Register(name string, factory func() camera.Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("driver: duplicate adapter %q", name))
	}
	registry[name] = factory
}

// New constructs the adapter registered under name.
func New(name string) (camera.Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver: unknown adapter %q (have %v)", name, Names())
	}
	return factory(), nil
}

// Names lists the registered adapters, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
