package bridge

import (
	"context"
	"sort"
	"sync"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/internal/rect"
)

// CellHash identifies a registered terrain cell. Callers mint it the
// same way the cell render cache names its cells (a stable hash of the
// cell's grid coordinates).
type CellHash uint64

// Progress reports write-back progress as done out of total cells.
type Progress func(done, total int)

// WriteBack persists one registered cell's intersection with a flushed
// uber-surface region. region is in uber-surface coordinates, already
// clipped to the cell's registered extent. Must be safe to call from
// the render thread; implementations typically schedule disk I/O.
type WriteBack func(ctx context.Context, region rect.Rect) error

type registration struct {
	extent    rect.Rect
	writeBack WriteBack
}

// PendingRegion is one cell's accumulated short-circuit rectangle,
// expressed in cell-local sample coordinates: 0-based at the cell's
// registered minimum corner, clipped to the cell's extent.
type PendingRegion struct {
	Cell   CellHash
	Local  rect.Rect
	Extent rect.Rect // the registered uber rectangle, for normalization
}

// Normalized returns the pending rectangle in the cell's [0,1)
// coordinate space.
func (p PendingRegion) Normalized() (minX, minY, maxX, maxY float64) {
	w, h := float64(p.Extent.Width()), float64(p.Extent.Height())
	if w <= 0 || h <= 0 {
		return 0, 0, 0, 0
	}
	return float64(p.Local.MinX) / w, float64(p.Local.MinY) / h,
		float64(p.Local.MaxX) / w, float64(p.Local.MaxY) / h
}

// Bridge is the short-circuit registry: it maps uber-surface-space
// edits onto the registered cells they touch, accumulating per-cell
// pending updates and abandons for the render cache to consume once per
// frame.
type Bridge struct {
	mu sync.Mutex

	registered     map[CellHash]registration
	pendingUpdate  map[CellHash]rect.Rect // cell-local
	pendingAbandon map[CellHash]rect.Rect // cell-local
}

// New returns an empty Bridge.
func New() *Bridge {
	return &Bridge{
		registered:     make(map[CellHash]registration),
		pendingUpdate:  make(map[CellHash]rect.Rect),
		pendingAbandon: make(map[CellHash]rect.Rect),
	}
}

// RegisterCell records the uber-surface rectangle a cell covers and the
// callback that persists its slice of a flushed edit. writeBack may be
// nil for cells that never participate in WriteCells. Registering the
// same hash twice is a programmer error and returns
// terrastream.DuplicateRegistration.
func (b *Bridge) RegisterCell(hash CellHash, extent rect.Rect, writeBack WriteBack) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.registered[hash]; ok {
		return terrastream.NewError(terrastream.DuplicateRegistration, nil)
	}
	b.registered[hash] = registration{extent: extent, writeBack: writeBack}
	return nil
}

// UnregisterCell drops a cell and any pending state for it, e.g. once
// it leaves the streaming working set entirely.
func (b *Bridge) UnregisterCell(hash CellHash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registered, hash)
	delete(b.pendingUpdate, hash)
	delete(b.pendingAbandon, hash)
}

// localClip returns region clipped to extent and translated to
// cell-local coordinates, or ok=false if they don't overlap.
func localClip(extent, region rect.Rect) (rect.Rect, bool) {
	c := extent.Intersect(region)
	if c.Empty() {
		return rect.Rect{}, false
	}
	return rect.Rect{
		MinX: c.MinX - extent.MinX,
		MinY: c.MinY - extent.MinY,
		MaxX: c.MaxX - extent.MinX,
		MaxY: c.MaxY - extent.MinY,
	}, true
}

// QueueUpdate merges an uber-surface-space edit rectangle into the
// pending update of every registered cell it overlaps. The merge is a
// conservative axis-aligned union, so repeated edits may over-refresh
// but never under-refresh. A cell with a pending abandon drops the
// update entirely — abandon dominates until the abandon is consumed.
func (b *Bridge) QueueUpdate(region rect.Rect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for hash, reg := range b.registered {
		local, ok := localClip(reg.extent, region)
		if !ok {
			continue
		}
		if _, abandoned := b.pendingAbandon[hash]; abandoned {
			terrastream.Logger().Debug("bridge: dropping update for abandoned cell", "cell", hash)
			continue
		}
		b.pendingUpdate[hash] = b.pendingUpdate[hash].Union(local)
	}
}

// QueueAbandon marks an uber-surface-space rectangle abandoned on every
// registered cell it overlaps, erasing all of each cell's pending
// updates first. After the abandon is consumed, the affected tiles
// reload from disk rather than from possibly-rolled-back in-memory
// state.
func (b *Bridge) QueueAbandon(region rect.Rect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for hash, reg := range b.registered {
		local, ok := localClip(reg.extent, region)
		if !ok {
			continue
		}
		delete(b.pendingUpdate, hash)
		b.pendingAbandon[hash] = b.pendingAbandon[hash].Union(local)
	}
}

// GetPendingUpdates drains and returns every cell's pending update,
// ordered by hash.
func (b *Bridge) GetPendingUpdates() []PendingRegion {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.drainLocked(b.pendingUpdate)
	b.pendingUpdate = make(map[CellHash]rect.Rect)
	return out
}

// GetPendingAbandons drains and returns every cell's pending abandon,
// ordered by hash.
func (b *Bridge) GetPendingAbandons() []PendingRegion {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.drainLocked(b.pendingAbandon)
	b.pendingAbandon = make(map[CellHash]rect.Rect)
	return out
}

func (b *Bridge) drainLocked(m map[CellHash]rect.Rect) []PendingRegion {
	out := make([]PendingRegion, 0, len(m))
	for hash, local := range m {
		out = append(out, PendingRegion{Cell: hash, Local: local, Extent: b.registered[hash].extent})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out
}

// GetShortCircuit resolves a cell-local rectangle back to uber-surface
// coordinates, for reading staged samples directly without a round trip
// through disk. Returns ok=false if hash is not registered or local is
// degenerate.
func (b *Bridge) GetShortCircuit(hash CellHash, local rect.Rect) (rect.Rect, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.registered[hash]
	if !ok || local.Empty() {
		return rect.Rect{}, false
	}
	uber := rect.Rect{
		MinX: reg.extent.MinX + local.MinX,
		MinY: reg.extent.MinY + local.MinY,
		MaxX: reg.extent.MinX + local.MaxX,
		MaxY: reg.extent.MinY + local.MaxY,
	}
	uber = uber.Intersect(reg.extent)
	if uber.Empty() {
		return rect.Rect{}, false
	}
	return uber, true
}

// Extent returns the registered uber rectangle for hash.
func (b *Bridge) Extent(hash CellHash) (rect.Rect, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.registered[hash]
	return reg.extent, ok
}

// WriteCells invokes the write-back callback of every registered cell
// intersecting region, in hash order, reporting progress per cell
// written. A callback failure (or context cancellation) stops the sweep
// and is returned; cells already written stay written.
func (b *Bridge) WriteCells(ctx context.Context, region rect.Rect, progress Progress) error {
	b.mu.Lock()
	type target struct {
		hash      CellHash
		clipped   rect.Rect
		writeBack WriteBack
	}
	targets := make([]target, 0, len(b.registered))
	for hash, reg := range b.registered {
		clipped := reg.extent.Intersect(region)
		if clipped.Empty() || reg.writeBack == nil {
			continue
		}
		targets = append(targets, target{hash: hash, clipped: clipped, writeBack: reg.writeBack})
	}
	b.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].hash < targets[j].hash })

	total := len(targets)
	for done, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.writeBack(ctx, t.clipped); err != nil {
			return err
		}
		if progress != nil {
			progress(done+1, total)
		}
	}
	return nil
}
