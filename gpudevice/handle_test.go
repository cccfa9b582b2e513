package gpudevice

import (
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

func TestNullDeviceHandle(t *testing.T) {
	handle := NullDeviceHandle{}

	var dh DeviceHandle = handle
	if dh.Device() != nil {
		t.Error("NullDeviceHandle.Device() should return nil")
	}
	if dh.Queue() != nil {
		t.Error("NullDeviceHandle.Queue() should return nil")
	}
	if dh.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Errorf("NullDeviceHandle.SurfaceFormat() = %v, want undefined", dh.SurfaceFormat())
	}

	// Compile-time compatibility with the gpucontext ecosystem.
	acceptProvider := func(_ gpucontext.DeviceProvider) {}
	acceptProvider(handle)
}
