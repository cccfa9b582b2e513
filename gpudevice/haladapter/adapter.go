// Package haladapter binds gpudevice.Device to a real graphics backend
// via github.com/gogpu/wgpu's hal package. It is the only library
// package in this module that imports a concrete GPU API (the
// cmd/streamdemo binary also imports hal to open its noop backend);
// everything else records work against the gpudevice.Device trait.
package haladapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/gpudevice"
)

// Adapter implements gpudevice.Device on top of a hal.Device and its
// hal.Queue, opened once by the caller (typically cmd/streamdemo) and
// handed in here.
type Adapter struct {
	device hal.Device
	queue  hal.Queue

	mu       sync.RWMutex
	buffers  map[gpucore.BufferID]hal.Buffer
	textures map[gpucore.TextureID]hal.Texture
	views    map[gpucore.TextureID]hal.TextureView

	nextID atomic.Uint64
}

// New wraps an already-opened device/queue pair.
func New(device hal.Device, queue hal.Queue) *Adapter {
	return &Adapter{
		device:   device,
		queue:    queue,
		buffers:  make(map[gpucore.BufferID]hal.Buffer),
		textures: make(map[gpucore.TextureID]hal.Texture),
		views:    make(map[gpucore.TextureID]hal.TextureView),
	}
}

// FromProvider wraps the HAL device a host application shares through
// its gpudevice.DeviceHandle. The provider must expose direct HAL
// access via HalDevice() any and HalQueue() any, the convention gogpu
// hosts follow for framework-internal device sharing.
func FromProvider(provider gpudevice.DeviceHandle) (*Adapter, error) {
	hp, ok := provider.(interface {
		HalDevice() any
		HalQueue() any
	})
	if !ok {
		return nil, fmt.Errorf("haladapter: provider does not expose HAL access")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("haladapter: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("haladapter: provider HalQueue is not hal.Queue")
	}
	return New(device, queue), nil
}

func (a *Adapter) mintID() uint64 {
	return a.nextID.Add(1)
}

// CreateResource implements gpudevice.Device.
func (a *Adapter) CreateResource(desc gpucore.Descriptor) (gpucore.BufferID, gpucore.TextureID, gpucore.Views, error) {
	if err := desc.Validate(); err != nil {
		return gpucore.InvalidID, gpucore.InvalidID, gpucore.Views{}, fmt.Errorf("haladapter: %w", err)
	}

	if desc.Kind == gpucore.KindLinearBuffer {
		buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
			Size:  uint64(desc.Dimensions.Width),
			Usage: bufferUsage(desc.BindFlags, desc.CPUAccess),
		})
		if err != nil {
			return gpucore.InvalidID, gpucore.InvalidID, gpucore.Views{}, fmt.Errorf("haladapter: create buffer: %w", err)
		}
		id := gpucore.BufferID(a.mintID())
		a.mu.Lock()
		a.buffers[id] = buf
		a.mu.Unlock()
		return id, gpucore.InvalidID, gpucore.Views{}, nil
	}

	format, err := textureFormat(desc.Format)
	if err != nil {
		return gpucore.InvalidID, gpucore.InvalidID, gpucore.Views{}, fmt.Errorf("haladapter: %w", err)
	}
	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Size: hal.Extent3D{
			Width:              desc.Dimensions.Width,
			Height:             max1(desc.Dimensions.Height),
			DepthOrArrayLayers: max1(desc.Dimensions.Depth) * max1(desc.Dimensions.ArrayLayers),
		},
		MipLevelCount: max1(desc.MipCount),
		SampleCount:   max1(desc.SampleCount),
		Dimension:     textureDimension(desc.Kind),
		Format:        format,
		Usage:         textureUsage(desc.BindFlags),
	})
	if err != nil {
		return gpucore.InvalidID, gpucore.InvalidID, gpucore.Views{}, fmt.Errorf("haladapter: create texture: %w", err)
	}

	id := gpucore.TextureID(a.mintID())
	a.mu.Lock()
	a.textures[id] = tex
	a.mu.Unlock()

	views, err := a.createViews(id, tex, desc)
	if err != nil {
		a.device.DestroyTexture(tex)
		a.mu.Lock()
		delete(a.textures, id)
		a.mu.Unlock()
		return gpucore.InvalidID, gpucore.InvalidID, gpucore.Views{}, err
	}
	return gpucore.InvalidID, id, views, nil
}

func (a *Adapter) createViews(id gpucore.TextureID, tex hal.Texture, desc gpucore.Descriptor) (gpucore.Views, error) {
	var out gpucore.Views
	if desc.BindFlags.Contains(gpucore.BindShaderResource) {
		v, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{})
		if err != nil {
			return out, fmt.Errorf("haladapter: create shader-resource view: %w", err)
		}
		out.ShaderResource = id
		a.mu.Lock()
		a.views[id] = v
		a.mu.Unlock()
	}
	// RenderTarget/UnorderedAccess/DepthStencil views alias the same
	// texture ID for this subsystem: nothing downstream here does
	// multi-view rendering, only sampled reads and copy destinations.
	if desc.BindFlags.Contains(gpucore.BindRenderTarget) {
		out.RenderTarget = id
	}
	if desc.BindFlags.Contains(gpucore.BindDepthStencil) {
		out.DepthStencil = id
	}
	if desc.BindFlags.Contains(gpucore.BindUnorderedAccess) {
		out.UnorderedAccess = id
	}
	return out, nil
}

// DestroyResource implements gpudevice.Device.
func (a *Adapter) DestroyResource(desc gpucore.Descriptor, buffer gpucore.BufferID, texture gpucore.TextureID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buffer != gpucore.InvalidID {
		if buf, ok := a.buffers[buffer]; ok {
			a.device.DestroyBuffer(buf)
			delete(a.buffers, buffer)
		}
	}
	if texture != gpucore.InvalidID {
		if v, ok := a.views[texture]; ok {
			a.device.DestroyTextureView(v)
			delete(a.views, texture)
		}
		if tex, ok := a.textures[texture]; ok {
			a.device.DestroyTexture(tex)
			delete(a.textures, texture)
		}
	}
}

// NewRecorder implements gpudevice.Device.
func (a *Adapter) NewRecorder() (gpudevice.Recorder, error) {
	enc, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("haladapter: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(""); err != nil {
		return nil, fmt.Errorf("haladapter: begin encoding: %w", err)
	}
	return &recorder{adapter: a, enc: enc}, nil
}

// CreateFence implements gpudevice.Device.
func (a *Adapter) CreateFence() (gpudevice.Fence, error) {
	f, err := a.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("haladapter: create fence: %w", err)
	}
	return &fence{device: a.device, fence: f}, nil
}

type recorder struct {
	adapter *Adapter
	enc     hal.CommandEncoder
}

func (r *recorder) CopyBufferToTexture(src gpucore.BufferID, dst gpucore.TextureID, region gpudevice.CopyRegion) {
	r.adapter.mu.RLock()
	srcBuf := r.adapter.buffers[src]
	dstTex := r.adapter.textures[dst]
	r.adapter.mu.RUnlock()

	r.enc.CopyBufferToTexture(srcBuf, dstTex, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       region.BufferOffset,
			BytesPerRow:  uint32(region.RowPitch),
			RowsPerImage: uint32(region.SlicePitch / max64(region.RowPitch)),
		},
		TextureBase: hal.ImageCopyTexture{
			Texture:  dstTex,
			MipLevel: region.DstMip,
			Origin: hal.Origin3D{
				X: region.DstOrigin[0],
				Y: region.DstOrigin[1],
				Z: region.DstOrigin[2],
			},
		},
		Size: hal.Extent3D{
			Width:              region.Extent[0],
			Height:             region.Extent[1],
			DepthOrArrayLayers: region.Extent[2],
		},
	}})
}

func (r *recorder) CopyBufferToBuffer(src, dst gpucore.BufferID, region gpudevice.BufferCopyRegion) {
	r.adapter.mu.RLock()
	srcBuf := r.adapter.buffers[src]
	dstBuf := r.adapter.buffers[dst]
	r.adapter.mu.RUnlock()

	r.enc.CopyBufferToBuffer(srcBuf, dstBuf, []hal.BufferCopy{{
		SrcOffset: region.SrcOffset,
		DstOffset: region.DstOffset,
		Size:      region.Size,
	}})
}

func (r *recorder) Submit(f gpudevice.Fence, fenceValue uint64) error {
	buf, err := r.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("haladapter: end encoding: %w", err)
	}
	var halFence hal.Fence
	if fn, ok := f.(*fence); ok {
		halFence = fn.fence
	}
	if err := r.adapter.queue.Submit([]hal.CommandBuffer{buf}, halFence, fenceValue); err != nil {
		return fmt.Errorf("haladapter: submit: %w", err)
	}
	return nil
}

type fence struct {
	device hal.Device
	fence  hal.Fence
}

func (f *fence) Wait(ctx context.Context, value uint64, timeout time.Duration) (bool, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	ok, err := f.device.Wait(f.fence, value, timeout)
	if err != nil {
		return false, fmt.Errorf("haladapter: wait fence: %w", err)
	}
	return ok, nil
}

func max1(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return v
}

func max64(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

func textureDimension(kind gpucore.ResourceKind) gputypes.TextureDimension {
	switch kind {
	case gpucore.KindTexture1D:
		return gputypes.TextureDimension1D
	case gpucore.KindTexture3D:
		return gputypes.TextureDimension3D
	default:
		return gputypes.TextureDimension2D
	}
}

func textureFormat(f gpucore.SampleFormat) (gputypes.TextureFormat, error) {
	switch f {
	case gpucore.FormatR8Unorm:
		return gputypes.TextureFormatR8Unorm, nil
	case gpucore.FormatRG8Unorm:
		return gputypes.TextureFormatRG8Unorm, nil
	case gpucore.FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, nil
	case gpucore.FormatR16Uint:
		return gputypes.TextureFormatR16Uint, nil
	case gpucore.FormatR32Float:
		return gputypes.TextureFormatR32Float, nil
	case gpucore.FormatRG32Float:
		return gputypes.TextureFormatRG32Float, nil
	case gpucore.FormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float, nil
	default:
		return 0, fmt.Errorf("unsupported sample format %v for a real texture", f)
	}
}

func bufferUsage(bind gpucore.BindFlag, access gpucore.AccessFlag) gputypes.BufferUsage {
	u := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if bind.Contains(gpucore.BindConstantBuffer) {
		u |= gputypes.BufferUsageUniform
	}
	if bind.Contains(gpucore.BindVertexBuffer) {
		u |= gputypes.BufferUsageVertex
	}
	if bind.Contains(gpucore.BindIndexBuffer) {
		u |= gputypes.BufferUsageIndex
	}
	if bind.Contains(gpucore.BindUnorderedAccess) {
		u |= gputypes.BufferUsageStorage
	}
	if bind.Contains(gpucore.BindIndirectArgs) {
		u |= gputypes.BufferUsageIndirect
	}
	if access.Contains(gpucore.AccessCPUWrite) {
		u |= gputypes.BufferUsageMapWrite
	}
	if access.Contains(gpucore.AccessCPURead) {
		u |= gputypes.BufferUsageMapRead
	}
	return u
}

func textureUsage(bind gpucore.BindFlag) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc
	if bind.Contains(gpucore.BindShaderResource) {
		u |= gputypes.TextureUsageTextureBinding
	}
	if bind.Contains(gpucore.BindRenderTarget) {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if bind.Contains(gpucore.BindUnorderedAccess) {
		u |= gputypes.TextureUsageStorageBinding
	}
	return u
}
