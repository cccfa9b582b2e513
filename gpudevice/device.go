package gpudevice

import (
	"context"
	"time"

	"github.com/gogpu/terrastream/gpucore"
)

// CopyRegion describes one linear-buffer-to-texture (or reverse) copy,
// in the coordinate space the upload queue and tile atlas already work
// in: row pitch plus a destination sub-region.
type CopyRegion struct {
	BufferOffset uint64
	RowPitch     uint64
	SlicePitch   uint64

	DstMip    uint32
	DstOrigin [3]uint32
	Extent    [3]uint32
}

// BufferCopyRegion describes a linear buffer-to-buffer copy.
type BufferCopyRegion struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// Recorder accumulates copy commands against one resource, mirroring a
// single command-encoder scope. It is not safe for concurrent use; the
// upload queue hands one Recorder to at most one worker at a time.
type Recorder interface {
	// CopyBufferToTexture schedules src[region] -> dst at region.DstMip/DstOrigin.
	CopyBufferToTexture(src gpucore.BufferID, dst gpucore.TextureID, region CopyRegion)

	// CopyBufferToBuffer schedules a linear copy between two buffers.
	CopyBufferToBuffer(src, dst gpucore.BufferID, region BufferCopyRegion)

	// Submit finalizes the recorded commands and submits them to the
	// device queue, signaling fence at fenceValue on completion.
	Submit(fence Fence, fenceValue uint64) error
}

// Fence is an opaque GPU/CPU synchronization point.
type Fence interface {
	// Wait blocks until the fence reaches value or ctx is done, or
	// timeout elapses. Returns false on timeout.
	Wait(ctx context.Context, value uint64, timeout time.Duration) (bool, error)
}

// Device is the backend-agnostic surface this module records work
// against. A concrete implementation (e.g. gpudevice/haladapter) binds
// it to a real graphics API.
type Device interface {
	// CreateResource allocates a buffer or texture matching desc and
	// returns the IDs and views record the rest of this module tracks
	// it by. Exactly one of the returned IDs is valid, matching
	// desc.Kind.
	CreateResource(desc gpucore.Descriptor) (gpucore.BufferID, gpucore.TextureID, gpucore.Views, error)

	// DestroyResource releases a resource created by CreateResource.
	DestroyResource(desc gpucore.Descriptor, buffer gpucore.BufferID, texture gpucore.TextureID)

	// NewRecorder begins recording a batch of copy commands.
	NewRecorder() (Recorder, error)

	// CreateFence creates a new synchronization fence, initialized at 0.
	CreateFence() (Fence, error)
}
