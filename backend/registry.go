package backend

import (
	"sync"

	"github.com/dave-hillier/framecore"
)

// registry holds registered device factories.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]DeviceFactory)
	// Priority order for device selection (first that opens wins).
	// Hardware before the host fallback.
	priority = []string{BackendWGPU, BackendNoop}
)

// Register registers a device factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory DeviceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns a list of registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device by backend name.
// Returns ErrBackendNotAvailable if the backend is not registered.
func Open(name string) (framecore.Device, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrBackendNotAvailable
	}
	return factory()
}

// Default opens the best available device based on priority.
// Backends that fail to open are skipped; registered backends outside
// the priority list are tried last.
func Default() (framecore.Device, error) {
	registryMu.RLock()
	ordered := make([]DeviceFactory, 0, len(factories))
	for _, name := range priority {
		if factory, ok := factories[name]; ok {
			ordered = append(ordered, factory)
		}
	}
	for name, factory := range factories {
		known := false
		for _, p := range priority {
			if name == p {
				known = true
				break
			}
		}
		if !known {
			ordered = append(ordered, factory)
		}
	}
	registryMu.RUnlock()

	var firstErr error
	for _, factory := range ordered {
		d, err := factory()
		if err == nil && d != nil {
			return d, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrBackendNotAvailable
}

// MustDefault opens the default device or panics.
func MustDefault() framecore.Device {
	d, err := Default()
	if err != nil {
		panic("backend: no device available: " + err.Error())
	}
	return d
}
