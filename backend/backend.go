// Package backend selects and constructs framecore devices.
//
// Device implementations register themselves from init() functions
// under a well-known name. Callers pick one explicitly with Get, or
// take the best available with Default, which walks a fixed priority
// order (hardware first, noop fallback).
package backend

import (
	"errors"

	"github.com/dave-hillier/framecore"
)

// Well-known backend names.
const (
	// BackendWGPU is the hardware device built on the wgpu HAL.
	BackendWGPU = "wgpu"

	// BackendNoop is the host-memory device used for tests and
	// headless runs. It executes buffer copies in process and signals
	// timelines immediately.
	BackendNoop = "noop"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when no registered backend
	// can produce a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// DeviceFactory opens a device. Factories return an error rather than
// nil when the underlying API is unavailable on this machine.
type DeviceFactory func() (framecore.Device, error)
