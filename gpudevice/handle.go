package gpudevice

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// DeviceHandle provides GPU device access from the host application.
//
// The host (e.g. a gogpu.App) implements DeviceHandle and passes it to
// this module, which RECEIVES the device rather than creating one. That
// keeps resources shared between the streaming core and whatever else
// the host renders with, and means nothing in this module ever opens a
// backend on its own.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, giving the
// integration point a local name while staying compatible with the
// gpucontext ecosystem. gpudevice/haladapter.FromProvider turns a
// handle whose host exposes HAL access into a Device.
type DeviceHandle = gpucontext.DeviceProvider

// NullDeviceHandle is a DeviceHandle whose accessors all return nil.
// Used by tests and CPU-only paths where no GPU is available.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns undefined format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns the zero AdapterInfo for the null device.
func (NullDeviceHandle) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{}
}

var _ DeviceHandle = NullDeviceHandle{}
