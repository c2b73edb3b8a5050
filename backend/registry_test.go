package backend

import (
	"errors"
	"testing"

	"github.com/dave-hillier/framecore"
)

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_NoopRegisteredByDefault(t *testing.T) {
	if !IsRegistered(BackendNoop) {
		t.Fatal("noop backend must self-register")
	}

	found := false
	for _, name := range Available() {
		if name == BackendNoop {
			found = true
		}
	}
	if !found {
		t.Errorf("Available() = %v, missing %q", Available(), BackendNoop)
	}
}

func TestRegistry_Open(t *testing.T) {
	d, err := Open(BackendNoop)
	if err != nil {
		t.Fatalf("Open(noop): %v", err)
	}
	defer d.Destroy()

	if d.Name() != BackendNoop {
		t.Errorf("Name() = %q, want %q", d.Name(), BackendNoop)
	}
}

func TestRegistry_OpenUnknown(t *testing.T) {
	if _, err := Open("does-not-exist"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	const name = "test-device"
	Register(name, func() (framecore.Device, error) {
		return NewNoopDevice(NoopOptions{}), nil
	})

	if !IsRegistered(name) {
		t.Fatal("backend must be registered")
	}
	d, err := Open(name)
	if err != nil {
		t.Fatalf("Open(%q): %v", name, err)
	}
	d.Destroy()

	Unregister(name)
	if IsRegistered(name) {
		t.Error("backend must be unregistered")
	}
}

func TestRegistry_DefaultFallsBackToNoop(t *testing.T) {
	// Without the wgpu package linked in, noop is the best available.
	d, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}
	defer d.Destroy()

	if d.Name() != BackendNoop {
		t.Errorf("Default() opened %q, want %q", d.Name(), BackendNoop)
	}
}

func TestRegistry_DefaultSkipsFailingBackends(t *testing.T) {
	const name = "broken"
	Register(name, func() (framecore.Device, error) {
		return nil, errors.New("backend: probe failed")
	})
	defer Unregister(name)

	d, err := Default()
	if err != nil {
		t.Fatalf("Default() with a failing backend registered: %v", err)
	}
	d.Destroy()
}
