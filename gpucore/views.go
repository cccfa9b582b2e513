package gpucore

// ViewKind identifies which kind of typed view a consumer needs against
// a resource.
type ViewKind uint8

const (
	// ViewShaderResource is a read-only, sampled view (SRV).
	ViewShaderResource ViewKind = iota + 1
	// ViewUnorderedAccess is a read-write compute view (UAV).
	ViewUnorderedAccess
	// ViewRenderTarget is a color attachment view (RTV).
	ViewRenderTarget
	// ViewDepthStencil is a depth/stencil attachment view (DSV).
	ViewDepthStencil
)

// SubRange narrows a view to part of the parent resource: a byte range
// for a linear buffer, or a mip/layer range for a texture. A zero value
// means "the whole resource".
type SubRange struct {
	Offset      uint64
	Size        uint64
	BaseMip     uint32
	MipCount    uint32
	BaseLayer   uint32
	LayerCount  uint32
	FormatAlias SampleFormat // 0 means "use the parent's format"
}

// Views is the tagged record a resource carries for the view kinds its
// consumers actually asked for at birth: one small struct of optional
// IDs. A zero ID in any field means that view kind was never requested.
type Views struct {
	ShaderResource  TextureID
	UnorderedAccess TextureID
	RenderTarget    TextureID
	DepthStencil    TextureID
}

// Has reports whether the view of the given kind has been created.
func (v Views) Has(kind ViewKind) bool {
	switch kind {
	case ViewShaderResource:
		return v.ShaderResource != InvalidID
	case ViewUnorderedAccess:
		return v.UnorderedAccess != InvalidID
	case ViewRenderTarget:
		return v.RenderTarget != InvalidID
	case ViewDepthStencil:
		return v.DepthStencil != InvalidID
	default:
		return false
	}
}
