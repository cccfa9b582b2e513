package resource

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/terrastream/gpucore"
)

// Releaser is the weak back-pointer a Locator holds to the pool that
// owns its parent resource. It is implemented by pool.Pool; kept as an
// interface here so this package never imports pool (which itself
// depends on resource), avoiding an import cycle.
type Releaser interface {
	// Release returns an allocation to the pool, keyed by marker
	// (typically the resource's descriptor signature). Called exactly
	// once, when the last Locator referencing the resource is closed.
	Release(marker gpucore.Descriptor, buffer gpucore.BufferID, texture gpucore.TextureID, offset, size uint64)
}

// SubRange narrows a Locator to part of its parent resource.
type SubRange struct {
	Offset uint64
	Size   uint64
}

// state is the shared, reference-counted body of a Locator. Multiple
// Locator values cloned from one another point at the same state;
// destruction happens once, when the last clone drops.
type state struct {
	mu sync.Mutex

	descriptor gpucore.Descriptor
	buffer     gpucore.BufferID
	texture    gpucore.TextureID
	views      gpucore.Views
	releaser   Releaser // weak back-pointer; nil means no pool, and the last Close releases nothing

	refs     atomic.Int32
	released bool
}

// Locator is a shared handle to a GPU resource together with an
// optional sub-range and a weak back-pointer to the pool that owns the
// parent. It is created on transaction
// completion or direct pool allocation, and destroyed when the last
// holder calls Close: if a pool is attached, the allocation returns to
// it; otherwise the last Close only drops the handle and does not
// destroy the GPU resource.
type Locator struct {
	s        *state
	subRange SubRange
}

// New creates a fresh Locator for a resource with no attached pool:
// closing the last reference drops the handle without destroying the
// resource.
func New(desc gpucore.Descriptor, buffer gpucore.BufferID, texture gpucore.TextureID, views gpucore.Views) *Locator {
	return NewPooled(desc, buffer, texture, views, nil)
}

// NewPooled creates a Locator whose destruction returns the resource to
// releaser instead of freeing it.
func NewPooled(desc gpucore.Descriptor, buffer gpucore.BufferID, texture gpucore.TextureID, views gpucore.Views, releaser Releaser) *Locator {
	s := &state{
		descriptor: desc,
		buffer:     buffer,
		texture:    texture,
		views:      views,
		releaser:   releaser,
	}
	s.refs.Store(1)
	return &Locator{s: s}
}

// Clone returns a new Locator sharing the same underlying resource,
// incrementing its reference count. The clone may carry a different
// SubRange.
func (l *Locator) Clone() *Locator {
	l.s.refs.Add(1)
	return &Locator{s: l.s, subRange: l.subRange}
}

// WithSubRange returns a clone of l narrowed to the given sub-range.
// The parent resource's reference count is incremented; both the
// original and the returned Locator must be closed independently.
func (l *Locator) WithSubRange(sub SubRange) *Locator {
	c := l.Clone()
	c.subRange = sub
	return c
}

// Descriptor returns the descriptor of the parent resource.
func (l *Locator) Descriptor() gpucore.Descriptor { return l.s.descriptor }

// Buffer returns the buffer ID, or gpucore.InvalidID if this locator
// wraps a texture.
func (l *Locator) Buffer() gpucore.BufferID { return l.s.buffer }

// Texture returns the texture ID, or gpucore.InvalidID if this locator
// wraps a buffer.
func (l *Locator) Texture() gpucore.TextureID { return l.s.texture }

// Views returns the tagged views record created for the parent
// resource.
func (l *Locator) Views() gpucore.Views { return l.s.views }

// SubRange returns the locator's sub-range. A zero value means "the
// whole resource".
func (l *Locator) SubRange() SubRange { return l.subRange }

// RefCount returns the current number of live references to the
// underlying resource. Exposed for tests and diagnostics.
func (l *Locator) RefCount() int32 { return l.s.refs.Load() }

// Close drops this reference. When the last reference to the
// underlying resource is closed, the resource is returned to its pool
// if one is attached; without a pool nothing further happens. Close is idempotent
// per Locator value — calling it twice on the exact same value is a
// programmer error in the general case, but is guarded here so tests
// calling it defensively don't double-release the shared state.
func (l *Locator) Close() {
	if l == nil || l.s == nil {
		return
	}
	remaining := l.s.refs.Add(-1)
	if remaining > 0 {
		l.s = nil
		return
	}
	if remaining < 0 {
		// Already released by a prior Close on a sibling clone whose
		// decrement raced us to zero; nothing further to do.
		l.s = nil
		return
	}

	l.s.mu.Lock()
	already := l.s.released
	l.s.released = true
	releaser := l.s.releaser
	desc := l.s.descriptor
	buf := l.s.buffer
	tex := l.s.texture
	l.s.mu.Unlock()

	if !already && releaser != nil {
		releaser.Release(desc, buf, tex, l.subRange.Offset, l.subRange.Size)
	}
	l.s = nil
}
