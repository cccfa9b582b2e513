package atlas

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/gpudevice"
	"github.com/gogpu/terrastream/internal/bitmap"
)

// ErrAtlasExhausted is wrapped in a terrastream.StreamError with Kind
// terrastream.TileSetExhausted when every evictable slot is pinned.
var ErrAtlasExhausted = errors.New("atlas: no evictable slot available this frame")

// EvictionPolicy controls which slots BeginUpload is willing to evict
// when the atlas is full.
type EvictionPolicy uint8

const (
	// EvictNormal evicts the globally least-recently-touched slot,
	// pinned or not.
	EvictNormal EvictionPolicy = iota
	// EvictPriority skips pinned slots, evicting the oldest
	// non-pinned slot instead. Used while a coarse pass must not
	// be disturbed by a concurrent fine pass competing for the
	// same atlas.
	EvictPriority
)

// TileHandle addresses one occupied slot in the atlas. Generation is
// bumped every time the slot is reused, so a handle captured before an
// eviction reads as stale afterwards through IsValid, which takes the
// atlas mutex.
type TileHandle struct {
	Layer      uint32
	Slot       uint32
	Generation uint32
}

type slotInfo struct {
	generation uint32
	occupied   bool
	pending    bool
	pinned     bool
	elem       *list.Element // position in the shared LRU; nil while pending
}

type lruKey struct {
	layer uint32
	slot  uint32
}

// TileAtlas is a fixed-capacity array-texture tile cache.
type TileAtlas struct {
	mu sync.Mutex

	device  gpudevice.Device
	desc    gpucore.Descriptor
	texture gpucore.TextureID

	tilesPerLayer int
	elementsX     int
	tileExtent    gpucore.Dimensions
	free          []*bitmap.Heap // one heap per array layer
	slots         [][]slotInfo   // [layer][slot]

	lru       *list.List // shared across all layers; front = most recently used
	policy    EvictionPolicy
	finalized bool
}

// Config describes the fixed shape of an atlas.
type Config struct {
	Layers        int
	TilesPerLayer int
	TileFormat    gpucore.SampleFormat
	TileExtent    gpucore.Dimensions // Width/Height of one tile; ArrayLayers set internally

	// ElementsPerLayerX is the number of tile columns per layer, used
	// to derive a slot's pixel origin in SlotOrigin. If zero, slots are
	// laid out in a single row (ElementsPerLayerX = TilesPerLayer).
	ElementsPerLayerX int
	Policy            EvictionPolicy
}

// New allocates the backing array texture from device and returns an
// empty atlas ready for BeginUpload. The texture is *not* usable for
// sampling until FinalizeCreation is called.
func New(device gpudevice.Device, cfg Config) (*TileAtlas, error) {
	if cfg.Layers <= 0 || cfg.TilesPerLayer <= 0 {
		return nil, fmt.Errorf("atlas: layers and tiles-per-layer must be >= 1")
	}

	desc := gpucore.Descriptor{
		Kind: gpucore.KindTexture2DArray,
		Dimensions: gpucore.Dimensions{
			Width:       cfg.TileExtent.Width,
			Height:      cfg.TileExtent.Height,
			ArrayLayers: uint32(cfg.Layers),
		},
		Format:      cfg.TileFormat,
		SampleCount: 1,
		MipCount:    1,
		BindFlags:   gpucore.BindShaderResource,
		Hint:        gpucore.HintDefault,
	}
	_, texture, _, err := device.CreateResource(desc)
	if err != nil {
		return nil, terrastream.NewError(terrastream.InvalidDescriptor, err)
	}

	elementsX := cfg.ElementsPerLayerX
	if elementsX <= 0 {
		elementsX = cfg.TilesPerLayer
	}

	a := &TileAtlas{
		device:        device,
		desc:          desc,
		texture:       texture,
		tilesPerLayer: cfg.TilesPerLayer,
		elementsX:     elementsX,
		tileExtent:    cfg.TileExtent,
		free:          make([]*bitmap.Heap, cfg.Layers),
		slots:         make([][]slotInfo, cfg.Layers),
		lru:           list.New(),
		policy:        cfg.Policy,
	}
	for i := 0; i < cfg.Layers; i++ {
		a.free[i] = bitmap.New(cfg.TilesPerLayer)
		a.slots[i] = make([]slotInfo, cfg.TilesPerLayer)
	}
	return a, nil
}

// FinalizeCreation marks the atlas texture ready for sampling. Calling
// BeginUpload before this is legal (the backing texture already
// exists); this only gates the renderer-visible "complete" flag.
func (a *TileAtlas) FinalizeCreation() {
	a.mu.Lock()
	a.finalized = true
	a.mu.Unlock()
}

// Finalized reports whether FinalizeCreation has been called.
func (a *TileAtlas) Finalized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}

// Texture returns the backing array-texture ID, for recording copy
// destinations.
func (a *TileAtlas) Texture() gpucore.TextureID { return a.texture }

// Descriptor returns the descriptor the backing array-texture was
// created with, for building a resource.Locator around it.
func (a *TileAtlas) Descriptor() gpucore.Descriptor { return a.desc }

// TileExtent returns the fixed pixel dimensions of one slot.
func (a *TileAtlas) TileExtent() gpucore.Dimensions { return a.tileExtent }

// SlotOrigin returns handle's slot's pixel origin within its array
// layer, for building the destination CopyRegion of its upload.
func (a *TileAtlas) SlotOrigin(handle TileHandle) (x, y uint32) {
	col := uint32(handle.Slot) % uint32(a.elementsX)
	row := uint32(handle.Slot) / uint32(a.elementsX)
	return col * a.tileExtent.Width, row * a.tileExtent.Height
}

// SetPriorityMode switches the eviction policy used by future
// BeginUpload calls, e.g. to EvictPriority while a coarse loading pass
// must not be disturbed by a concurrent fine pass.
func (a *TileAtlas) SetPriorityMode(policy EvictionPolicy) {
	a.mu.Lock()
	a.policy = policy
	a.mu.Unlock()
}

// BeginUpload reserves a slot for a new tile, evicting the
// least-recently-used occupied slot if every layer is full. It returns
// the new handle and, if an eviction happened, the handle that is now
// stale so the caller can drop its cached reference.
func (a *TileAtlas) BeginUpload(pinned bool) (handle TileHandle, evicted *TileHandle, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for layer, heap := range a.free {
		if idx, ok := heap.FirstFree(); ok {
			heap.Set(idx)
			s := &a.slots[layer][idx]
			s.generation++
			s.occupied = true
			s.pending = true
			s.pinned = pinned
			s.elem = nil
			return TileHandle{Layer: uint32(layer), Slot: uint32(idx), Generation: s.generation}, nil, nil
		}
	}

	ev, ok := a.evictLocked()
	if !ok {
		return TileHandle{}, nil, terrastream.NewError(terrastream.TileSetExhausted, ErrAtlasExhausted)
	}
	s := &a.slots[ev.layer][ev.slot]
	s.generation++
	s.occupied = true
	s.pending = true
	s.pinned = pinned
	s.elem = nil
	evictedHandle := TileHandle{Layer: ev.layer, Slot: ev.slot, Generation: s.generation - 1}
	return TileHandle{Layer: ev.layer, Slot: ev.slot, Generation: s.generation}, &evictedHandle, nil
}

// evictLocked picks a slot to reclaim under a.policy. Caller holds a.mu.
func (a *TileAtlas) evictLocked() (lruKey, bool) {
	for e := a.lru.Back(); e != nil; e = e.Prev() {
		key := e.Value.(lruKey)
		s := &a.slots[key.layer][key.slot]
		if a.policy == EvictPriority && s.pinned {
			continue
		}
		a.lru.Remove(e)
		s.elem = nil
		return key, true
	}
	return lruKey{}, false
}

// CompletePending marks handle's upload as finished and makes it
// visible to LRU ordering. Calling it on a stale handle is a no-op and
// returns false.
func (a *TileAtlas) CompletePending(handle TileHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isValidLocked(handle) {
		return false
	}
	s := &a.slots[handle.Layer][handle.Slot]
	s.pending = false
	s.elem = a.lru.PushFront(lruKey{layer: handle.Layer, slot: handle.Slot})
	return true
}

// IsValid reports whether handle still refers to the slot it was
// issued for, i.e. the slot hasn't been reused by a later eviction. A
// valid slot is also promoted to most recently used, so reading
// through a handle counts as a use for eviction ordering. Promotion
// skips slots whose upload is still pending — those are outside the
// recency order until CompletePending links them in, so a validity
// check can never reorder an upload in progress.
func (a *TileAtlas) IsValid(handle TileHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isValidLocked(handle) {
		return false
	}
	if s := &a.slots[handle.Layer][handle.Slot]; s.elem != nil {
		a.lru.MoveToFront(s.elem)
	}
	return true
}

func (a *TileAtlas) isValidLocked(handle TileHandle) bool {
	if int(handle.Layer) >= len(a.slots) || int(handle.Slot) >= a.tilesPerLayer {
		return false
	}
	s := &a.slots[handle.Layer][handle.Slot]
	return s.occupied && s.generation == handle.Generation
}

// SetPinned changes whether a slot is exempt from EvictPriority
// eviction. Returns false if handle is stale.
func (a *TileAtlas) SetPinned(handle TileHandle, pinned bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isValidLocked(handle) {
		return false
	}
	a.slots[handle.Layer][handle.Slot].pinned = pinned
	return true
}

// Release frees handle's slot outright without waiting for LRU
// pressure, e.g. when the owning cell leaves the working set.
func (a *TileAtlas) Release(handle TileHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isValidLocked(handle) {
		return false
	}
	s := &a.slots[handle.Layer][handle.Slot]
	if s.elem != nil {
		a.lru.Remove(s.elem)
		s.elem = nil
	}
	s.occupied = false
	s.pending = false
	s.pinned = false
	a.free[handle.Layer].Clear(int(handle.Slot))
	return true
}

// Stats reports current occupancy for diagnostics.
type Stats struct {
	Layers   int
	Capacity int
	Occupied int
	Resident int // occupied and not pending
}

// Stats returns a snapshot of atlas occupancy.
func (a *TileAtlas) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Layers: len(a.slots), Capacity: len(a.slots) * a.tilesPerLayer}
	for _, layerSlots := range a.slots {
		for _, s := range layerSlots {
			if s.occupied {
				st.Occupied++
				if !s.pending {
					st.Resident++
				}
			}
		}
	}
	return st
}
