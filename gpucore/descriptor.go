package gpucore

import "fmt"

// ResourceKind identifies the shape of a GPU resource a Descriptor asks
// the device to create.
type ResourceKind uint8

const (
	// KindLinearBuffer is a flat byte buffer (vertex/index/uniform/storage).
	KindLinearBuffer ResourceKind = iota + 1
	// KindTexture1D is a one-dimensional texture.
	KindTexture1D
	// KindTexture2D is a two-dimensional texture.
	KindTexture2D
	// KindTexture2DArray is a 2D texture with multiple array layers,
	// the shape the Tile Atlas allocates from.
	KindTexture2DArray
	// KindTexture3D is a three-dimensional texture.
	KindTexture3D
)

// String returns a human-readable name for the resource kind.
func (k ResourceKind) String() string {
	switch k {
	case KindLinearBuffer:
		return "linear-buffer"
	case KindTexture1D:
		return "texture-1d"
	case KindTexture2D:
		return "texture-2d"
	case KindTexture2DArray:
		return "texture-2d-array"
	case KindTexture3D:
		return "texture-3d"
	default:
		return fmt.Sprintf("resource-kind(%d)", uint8(k))
	}
}

// SampleFormat specifies the per-texel or per-element format of a
// resource's contents.
type SampleFormat uint32

// Supported sample formats. These cover the formats the tile atlas and
// uber-surface store need: 8-bit and 32-bit float channels, plus a raw
// byte format for linear buffers.
const (
	// FormatRaw is an untyped byte format, used for linear buffers.
	FormatRaw SampleFormat = iota + 1
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGBA8Unorm
	FormatR16Uint
	FormatR32Float
	FormatRG32Float
	FormatRGBA32Float
)

// BytesPerSample returns the byte size of a single sample in this
// format. Returns 0 for FormatRaw, where the caller tracks size
// explicitly (linear buffers have no fixed sample stride).
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRG8Unorm:
		return 2
	case FormatRGBA8Unorm:
		return 4
	case FormatR16Uint:
		return 2
	case FormatR32Float:
		return 4
	case FormatRG32Float:
		return 8
	case FormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// BindFlag is a bitmask of how a resource may be bound for GPU access.
type BindFlag uint32

// Bind flags, combined with bitwise OR.
const (
	BindShaderResource BindFlag = 1 << iota
	BindUnorderedAccess
	BindRenderTarget
	BindDepthStencil
	BindVertexBuffer
	BindIndexBuffer
	BindConstantBuffer
	BindIndirectArgs
)

// Contains reports whether all bits in other are set in f.
func (f BindFlag) Contains(other BindFlag) bool { return f&other == other }

// AccessFlag is a bitmask of which side (CPU or GPU) may read/write a
// resource, independent of BindFlag which describes GPU binding points.
type AccessFlag uint32

// Access flags, combined with bitwise OR.
const (
	AccessCPURead AccessFlag = 1 << iota
	AccessCPUWrite
	AccessGPURead
	AccessGPUWrite
)

// Contains reports whether all bits in other are set in f.
func (f AccessFlag) Contains(other AccessFlag) bool { return f&other == other }

// AllocationHint tells the pool/device how a resource is expected to be
// used, so it can pick an appropriate backing heap (e.g. upload heap vs
// device-local). Hints never change whether two descriptors are
// reuse-compatible by themselves unless they affect the physical
// allocation, which is why Descriptor.Equal treats them as part of the
// signature: two descriptors with different hints may not be
// interchangeable on a given backend.
type AllocationHint uint8

const (
	// HintDefault lets the device pick (typically device-local).
	HintDefault AllocationHint = iota
	// HintUploadStaging favors CPU-writable, GPU-read-once memory.
	HintUploadStaging
	// HintReadback favors GPU-write, CPU-readable memory.
	HintReadback
	// HintTransient hints the resource is short-lived within a frame.
	HintTransient
)

// Dimensions describes the extent of a resource. Unused fields for a
// given ResourceKind are zero (e.g. Height/Depth/ArrayLayers are 1 or 0
// for a linear buffer, whose size lives in Dimensions.Width measured in
// bytes).
type Dimensions struct {
	Width       uint32
	Height      uint32
	Depth       uint32
	ArrayLayers uint32
}

// Descriptor fully describes a GPU resource's shape, independent of any
// specific backend. Two descriptors that compare equal (via ==, since
// every field is comparable) are interchangeable for Resource Pool
// reuse purposes.
type Descriptor struct {
	Kind        ResourceKind
	Dimensions  Dimensions
	Format      SampleFormat
	SampleCount uint32
	MipCount    uint32
	BindFlags   BindFlag
	CPUAccess   AccessFlag
	GPUAccess   AccessFlag
	Hint        AllocationHint
}

// Equal reports whether two descriptors are interchangeable for pool
// reuse. Descriptor is a plain comparable struct, so this is exactly
// Go's == — defined as a method to give callers a name that documents
// the invariant rather than relying on them to know structs compare
// field-by-field.
func (d Descriptor) Equal(other Descriptor) bool { return d == other }

// Validate reports whether the descriptor is self-consistent (non-zero
// extents for the declared Kind, at least one mip/sample, a known
// Kind). Format is not checked. It does not know whether a specific
// device supports the
// combination — that failure is reported by the device as
// invalid-descriptor (see the root package's Kind enum).
func (d Descriptor) Validate() error {
	if d.MipCount == 0 {
		return fmt.Errorf("gpucore: descriptor mip count must be >= 1")
	}
	if d.SampleCount == 0 {
		return fmt.Errorf("gpucore: descriptor sample count must be >= 1")
	}
	if d.Dimensions.Width == 0 {
		return fmt.Errorf("gpucore: descriptor width must be >= 1")
	}
	switch d.Kind {
	case KindLinearBuffer:
		// Height/Depth/ArrayLayers are unused for a flat buffer.
	case KindTexture1D:
		// Height/Depth unused.
	case KindTexture2D:
		if d.Dimensions.Height == 0 {
			return fmt.Errorf("gpucore: 2D texture height must be >= 1")
		}
	case KindTexture2DArray:
		if d.Dimensions.Height == 0 {
			return fmt.Errorf("gpucore: 2D array texture height must be >= 1")
		}
		if d.Dimensions.ArrayLayers == 0 {
			return fmt.Errorf("gpucore: 2D array texture layer count must be >= 1")
		}
	case KindTexture3D:
		if d.Dimensions.Height == 0 || d.Dimensions.Depth == 0 {
			return fmt.Errorf("gpucore: 3D texture height/depth must be >= 1")
		}
	default:
		return fmt.Errorf("gpucore: unknown resource kind %v", d.Kind)
	}
	return nil
}
