package terrain

import (
	"context"
	"sort"
	"sync"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/atlas"
	"github.com/gogpu/terrastream/bridge"
	"github.com/gogpu/terrastream/datasource"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/internal/cache"
	"github.com/gogpu/terrastream/internal/rect"
	"github.com/gogpu/terrastream/resource"
	"github.com/gogpu/terrastream/upload"
)

// Camera is the minimal view state the cull/collapse pass needs.
type Camera struct {
	Position Vec3
	ViewProj Mat4
	Viewport Viewport
}

// SlotCoord addresses one layer's atlas slot for a draw record.
type SlotCoord struct {
	Layer      uint32
	Slot       uint32
	Generation uint32
	Valid      bool
}

// DrawRecord is what Render hands back to the caller's draw callback for
// one un-promoted (i.e. not split this frame) node.
type DrawRecord struct {
	Cell bridge.CellHash
	Key  NodeKey

	LocalToWorld Mat4
	Slots        []SlotCoord
	NeighborLOD  [4]int8

	// Overlap is each layer's shared-border width in samples, the
	// addressing constant shaders need to step inside a tile's border
	// when sampling coverage values.
	Overlap []uint32
}

// Config configures a Cache.
type Config struct {
	Atlas   *atlas.TileAtlas
	Uploads *upload.Queue

	// Bridge is optional; when set, ApplyShortCircuit consumes its
	// pending updates/abandons each frame.
	Bridge *bridge.Bridge

	// Layers is the number of coverage layers every cell carries
	// (heights is conventionally layer 0).
	Layers int

	// ScreenEdgeThreshold is the pixel length above which a node's
	// footprint is split into its four children.
	ScreenEdgeThreshold float64

	// CellSoftLimit bounds how many cells stay resident before the
	// least-recently-touched ones are evicted; 0 means unbounded.
	CellSoftLimit int

	// FrameUploadLimit bounds how many new transactions ScheduleUploads
	// starts in a single call.
	FrameUploadLimit int
	// ActiveUploadLimit bounds how many node-layer uploads this cache
	// keeps outstanding at once, independent of frame cadence.
	ActiveUploadLimit int
}

// pendingUpload is one in-flight per-node-layer transaction the cache is
// waiting on.
type pendingUpload struct {
	cell  bridge.CellHash
	node  *Node
	layer int
	tx    upload.TransactionID
}

// candidateUpload is a node-layer pair this frame found in need of
// streaming, not yet dispatched.
type candidateUpload struct {
	cell     bridge.CellHash
	node     *Node
	layer    int
	priority float64
}

// Cache is the cell render cache: the per-frame orchestration tying the
// tile atlas, upload queue, and short-circuit bridge together.
type Cache struct {
	cfg Config

	// atlasLocator is a single long-lived reference to the atlas's
	// shared array texture, cloned (never consumed) for every
	// upload.BeginUpdateRegion call. It is closed exactly once, in
	// Close.
	atlasLocator *resource.Locator

	mu    sync.Mutex
	cells *cache.Cache[bridge.CellHash, *Cell]

	drawSet    []DrawRecord
	candidates []candidateUpload
	inFlight   []pendingUpload
}

// New builds a Cache around an already-created atlas and upload queue.
func New(cfg Config) (*Cache, error) {
	if cfg.Atlas == nil || cfg.Uploads == nil {
		return nil, terrastream.NewError(terrastream.InvalidDescriptor, nil)
	}
	if cfg.Layers <= 0 {
		cfg.Layers = 1
	}
	if cfg.ScreenEdgeThreshold <= 0 {
		cfg.ScreenEdgeThreshold = 64
	}
	if cfg.FrameUploadLimit <= 0 {
		cfg.FrameUploadLimit = upload.DefaultFrameUploadLimit
	}
	if cfg.ActiveUploadLimit <= 0 {
		cfg.ActiveUploadLimit = upload.DefaultActiveUploadLimit
	}

	locator := resource.New(cfg.Atlas.Descriptor(), gpucore.InvalidID, cfg.Atlas.Texture(), gpucore.Views{})
	c := &Cache{
		cfg:          cfg,
		atlasLocator: locator,
		cells:        cache.New[bridge.CellHash, *Cell](cfg.CellSoftLimit),
	}
	c.cells.OnEvict(func(_ bridge.CellHash, cell *Cell) { c.releaseCellHandles(cell) })
	return c, nil
}

// releaseCellHandles frees every visible atlas handle of a cell
// leaving the residency set. Slots with an upload still pending are
// left alone — the copy in flight owns them until
// CompletePendingUploads retires it.
func (c *Cache) releaseCellHandles(cell *Cell) {
	for _, node := range cell.nodes {
		for i := range node.Layers {
			ls := &node.Layers[i]
			if ls.HasVisible {
				c.cfg.Atlas.Release(ls.Visible)
				ls.HasVisible = false
			}
		}
	}
}

// Close releases every resident cell's atlas handles and the cache's
// standing reference to the atlas texture. It does not touch the atlas
// or upload queue themselves.
func (c *Cache) Close() {
	c.mu.Lock()
	c.cells.Clear()
	c.mu.Unlock()
	c.atlasLocator.Close()
}

// Stats reports the cache's current working-set size.
type Stats struct {
	Cells          int
	DrawRecords    int
	CandidateCount int
	InFlightCount  int
}

// Stats returns a snapshot of the cache's bookkeeping state.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Cells:          c.cells.Len(),
		DrawRecords:    len(c.drawSet),
		CandidateCount: len(c.candidates),
		InFlightCount:  len(c.inFlight),
	}
}

// Cull walks candidates, culls each cell against camera's frustum,
// collapses the surviving ones to their screen-space-appropriate LOD,
// and rebuilds the cache's draw set and upload candidate list for this
// frame. A cell that tests fully outside the
// frustum is not re-touched in the cell registry, so repeated frames
// looking away from it let its access time fall behind the working set
// and make it the first thing CellSoftLimit evicts under pressure.
func (c *Cache) Cull(camera Camera, candidates []bridge.CellHash, source CellSource) error {
	frustum := FrustumFromViewProj(camera.ViewProj)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.drawSet = c.drawSet[:0]
	c.candidates = c.candidates[:0]

	for _, hash := range candidates {
		cell, err := c.peekOrOpenCell(hash, source)
		if err != nil {
			terrastream.Logger().Warn("terrain: cell open failed", "cell", hash, "error", err)
			continue
		}
		if frustum.TestAABB(cell.aabb()) == Culled {
			continue
		}
		// Not culled: this cell is part of the working set this frame.
		c.cells.Get(hash)

		active := c.collapseCell(cell, camera, frustum)
		c.pruneCell(cell, active)
		for _, key := range active {
			node := cell.nodes[key]
			c.emit(cell, node)
		}
	}
	return nil
}

// peekOrOpenCell returns hash's Cell, opening it via source on first
// reference, without counting a mere lookup as a use (see Cull's
// culled-cells-stay-evictable comment).
func (c *Cache) peekOrOpenCell(hash bridge.CellHash, source CellSource) (*Cell, error) {
	if cell, ok := c.cells.Peek(hash); ok {
		return cell, nil
	}
	desc, err := source.OpenCell(hash)
	if err != nil {
		return nil, err
	}
	cell, err := newCell(desc, c.cfg.Layers)
	if err != nil {
		return nil, err
	}
	c.cells.Set(hash, cell)
	return cell, nil
}

// collapseCell runs the quadtree split loop for one cell, starting from
// its root and stopping each branch either when its screen-space edge
// length falls under the threshold or when splitting it further would
// put a neighbor more than one field out of step. It
// returns the keys of every node left un-promoted this frame.
func (c *Cache) collapseCell(cell *Cell, camera Camera, frustum Frustum) []NodeKey {
	cell.resetOwner()

	type frontier struct {
		key  NodeKey
		cull CullResult
	}
	current := []frontier{{NodeKey{}, frustum.TestAABB(cell.aabb())}}
	var active []NodeKey

	for len(current) > 0 {
		var next []frontier
		for _, f := range current {
			node := cell.getNode(f.key, c.cfg.Layers)
			node.AABB = cell.nodeAABB(f.key)

			canSplit := f.key.Field+1 < cell.desc.Fields
			promote := false
			if canSplit {
				edge := ScreenEdgeLength(footprintCorners(node.AABB), camera.ViewProj, camera.Viewport)
				if edge > c.cfg.ScreenEdgeThreshold && !neighborBlocksSplit(cell.neighborFields(f.key), f.key.Field) {
					promote = true
				}
			}

			if promote {
				cell.setOwner(f.key, f.key.Field+1)
				for _, ck := range childKeys(f.key) {
					childCull := frustum.TestAABB(cell.nodeAABB(ck))
					if childCull == Culled {
						continue
					}
					next = append(next, frontier{ck, childCull})
				}
				continue
			}
			active = append(active, f.key)
		}
		current = next
	}

	for _, key := range active {
		node := cell.nodes[key]
		nf := cell.neighborFields(key)
		for dir := 0; dir < 4; dir++ {
			diff := int(nf[dir]) - int(key.Field)
			if diff > 1 {
				diff = 1
			}
			if diff < -1 {
				diff = -1
			}
			node.NeighborLOD[dir] = int8(diff)
		}
		node.Priority = node.AABB.Center().Sub(camera.Position).LengthSquared()
	}
	return active
}

// footprintCorners returns the four ground-level corners of box's XY
// footprint, in winding order, for ScreenEdgeLength.
func footprintCorners(box AABB) [4]Vec3 {
	z := box.Min.Z
	return [4]Vec3{
		{box.Min.X, box.Min.Y, z}, {box.Max.X, box.Min.Y, z},
		{box.Max.X, box.Max.Y, z}, {box.Min.X, box.Max.Y, z},
	}
}

// neighborBlocksSplit reports whether any neighbor field in nf is
// coarser than field, which would leave a LOD gap of more than one
// field if field split further.
func neighborBlocksSplit(nf [4]uint8, field uint8) bool {
	for _, f := range nf {
		if f < field {
			return true
		}
	}
	return false
}

// pruneCell drops any tracked node not in keep and not still awaiting
// an in-flight upload, releasing its atlas handles so abandoned LODs
// don't hold slots indefinitely.
func (c *Cache) pruneCell(cell *Cell, keep []NodeKey) {
	keepSet := make(map[NodeKey]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	for key, node := range cell.nodes {
		if keepSet[key] {
			continue
		}
		if hasPending(node) {
			continue
		}
		for i := range node.Layers {
			if node.Layers[i].HasVisible {
				c.cfg.Atlas.Release(node.Layers[i].Visible)
			}
		}
		delete(cell.nodes, key)
	}
}

func hasPending(n *Node) bool {
	for _, l := range n.Layers {
		if l.HasPending {
			return true
		}
	}
	return false
}

// emit appends node's draw record and queues any layer that needs
// streaming, if it isn't already in flight.
func (c *Cache) emit(cell *Cell, node *Node) {
	if node.HeightsFailed {
		return
	}
	hash := cell.desc.Hash
	slots := make([]SlotCoord, len(node.Layers))
	overlap := make([]uint32, len(node.Layers))
	for i := range node.Layers {
		l := &node.Layers[i]
		// IsValid doubles as the recency touch for this frame's use.
		valid := l.HasVisible && c.cfg.Atlas.IsValid(l.Visible)
		if valid {
			slots[i] = SlotCoord{Layer: l.Visible.Layer, Slot: l.Visible.Slot, Generation: l.Visible.Generation, Valid: true}
		}
		if i < len(cell.desc.Layers) {
			overlap[i] = cell.desc.Layers[i].OverlapWidth()
		}
		if l.NeedsUpload(valid) {
			c.candidates = append(c.candidates, candidateUpload{cell: hash, node: node, layer: i, priority: node.Priority})
		}
	}
	c.drawSet = append(c.drawSet, DrawRecord{
		Cell:         hash,
		Key:          node.Key,
		LocalToWorld: localToWorld(node.AABB),
		Slots:        slots,
		NeighborLOD:  node.NeighborLOD,
		Overlap:      overlap,
	})
}

// localToWorld builds the translate+scale matrix placing a unit XY quad
// at box's footprint, ground height at box.Min.Z.
func localToWorld(box AABB) Mat4 {
	sx, sy := box.Max.X-box.Min.X, box.Max.Y-box.Min.Y
	return NewMat4([16]float64{
		sx, 0, 0, box.Min.X,
		0, sy, 0, box.Min.Y,
		0, 0, 1, box.Min.Z,
		0, 0, 0, 1,
	})
}

// DrawSet returns the draw records Cull most recently produced.
func (c *Cache) DrawSet() []DrawRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DrawRecord, len(c.drawSet))
	copy(out, c.drawSet)
	return out
}

// Render calls draw once per draw record Cull last produced, in no
// particular order. Any ordering by material or
// distance is the caller's responsibility.
func (c *Cache) Render(draw func(DrawRecord)) {
	for _, rec := range c.DrawSet() {
		draw(rec)
	}
}

// ScheduleUploads dispatches queued upload candidates closest-first,
// bounded by the cache's FrameUploadLimit and ActiveUploadLimit.
// It returns the number of transactions started.
func (c *Cache) ScheduleUploads() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(c.candidates, func(i, j int) bool { return c.candidates[i].priority < c.candidates[j].priority })

	started := 0
	var remaining []candidateUpload
	for _, cand := range c.candidates {
		if started >= c.cfg.FrameUploadLimit || len(c.inFlight) >= c.cfg.ActiveUploadLimit {
			remaining = append(remaining, cand)
			continue
		}
		layerSrc := cellLayerSource(c, cand.cell, cand.layer)
		if layerSrc == nil {
			continue
		}
		offset, size, ok := layerSrc.offsetFor(cand.node.Key)
		if !ok {
			// Missing coverage for this node in an optional layer; not
			// fatal.
			continue
		}

		handle, evicted, err := c.cfg.Atlas.BeginUpload(false)
		if err != nil {
			remaining = append(remaining, cand)
			continue
		}
		_ = evicted // the evicted handle's generation bump already makes it stale everywhere it's cached.

		ox, oy := c.cfg.Atlas.SlotOrigin(handle)
		extent := c.cfg.Atlas.TileExtent()
		box := upload.DestBox{OriginX: ox, OriginY: oy, OriginZ: handle.Layer, Width: extent.Width, Height: extent.Height, Depth: 1}

		packet := datasource.NewFileRangePacket(layerSrc.File, offset, size, layerSrc.RowPitch)
		tx := c.cfg.Uploads.BeginUpdateRegion(c.atlasLocator, packet, box)

		ls := &cand.node.Layers[cand.layer]
		ls.Pending = handle
		ls.PendingTxn = tx
		ls.HasPending = true

		c.inFlight = append(c.inFlight, pendingUpload{cell: cand.cell, node: cand.node, layer: cand.layer, tx: tx})
		started++
	}
	c.candidates = remaining
	return started
}

// cellLayerSource looks up the LayerSource backing cell/layer, or nil if
// the cell has since left the registry (evicted between Cull and
// ScheduleUploads, which run back to back within one frame in practice).
func cellLayerSource(c *Cache, hash bridge.CellHash, layer int) *LayerSource {
	cell, ok := c.cells.Peek(hash)
	if !ok || layer >= len(cell.desc.Layers) {
		return nil
	}
	return &cell.desc.Layers[layer]
}

// CompletePendingUploads Ticks the upload queue so newly scheduled work
// advances, then polls every in-flight transaction, promoting completed
// ones to visible and retiring failed ones.
func (c *Cache) CompletePendingUploads() {
	c.cfg.Uploads.Tick()

	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []pendingUpload
	for _, p := range c.inFlight {
		if !c.cfg.Uploads.IsCompleted(p.tx) {
			remaining = append(remaining, p)
			continue
		}
		locator, err := c.cfg.Uploads.End(p.tx)
		ls := &p.node.Layers[p.layer]
		ls.HasPending = false
		if err != nil {
			terrastream.Logger().Warn("terrain: tile upload failed", "cell", p.cell, "layer", p.layer, "error", err)
			c.cfg.Atlas.Release(ls.Pending)
			if p.layer == 0 {
				p.node.HeightsFailed = true
			}
			continue
		}
		if locator != nil {
			locator.Close()
		}
		c.cfg.Atlas.CompletePending(ls.Pending)
		if ls.HasVisible && ls.Visible != ls.Pending {
			c.cfg.Atlas.Release(ls.Visible)
		}
		ls.Visible = ls.Pending
		ls.HasVisible = true
	}
	c.inFlight = remaining
}

// ApplyShortCircuit drains the bridge's pending abandons and updates and
// applies them to resident nodes, abandons first so a cell that is both
// abandoned and updated in the same frame ends up invalidated rather
// than half-refreshed.
// Updates degrade to the same "invalidate and let the next streaming
// pass refill it" treatment as abandons: the GPU-side compute copy a
// short-circuit update notionally performs is an external collaborator
// this core does not own, so the conservative response is
// to mark the affected nodes stale rather than silently serve bytes this
// core never saw written.
func (c *Cache) ApplyShortCircuit(ctx context.Context) {
	if c.cfg.Bridge == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.cfg.Bridge.GetPendingAbandons() {
		if cell, ok := c.cells.Peek(p.Cell); ok {
			c.invalidateRegion(cell, p)
		}
	}
	for _, p := range c.cfg.Bridge.GetPendingUpdates() {
		cell, ok := c.cells.Peek(p.Cell)
		if !ok {
			continue
		}
		c.invalidateRegion(cell, p)
	}
}

// invalidateRegion drops the visible handle of every resident node
// whose footprint overlaps the pending region, forcing those nodes to
// re-stream next frame.
func (c *Cache) invalidateRegion(cell *Cell, p bridge.PendingRegion) {
	for _, node := range cell.nodes {
		if !nodeOverlapsRegion(cell, node, p) {
			continue
		}
		for i := range node.Layers {
			ls := &node.Layers[i]
			if ls.HasVisible {
				c.cfg.Atlas.Release(ls.Visible)
				ls.HasVisible = false
			}
		}
		node.HeightsFailed = false
	}
}

// nodeOverlapsRegion reprojects node's world-space footprint into the
// cell's local sample space (linear interpolation over the cell's full
// extent, scaled to the registered rectangle's dimensions) and tests it
// against the pending rectangle.
func nodeOverlapsRegion(cell *Cell, node *Node, p bridge.PendingRegion) bool {
	full := cell.aabb()
	spanX, spanY := full.Max.X-full.Min.X, full.Max.Y-full.Min.Y
	if spanX <= 0 || spanY <= 0 {
		return true
	}
	w, h := float64(p.Extent.Width()), float64(p.Extent.Height())
	toLocal := func(wx, wy float64) (int, int) {
		lx := (wx - full.Min.X) / spanX
		ly := (wy - full.Min.Y) / spanY
		return int(lx * w), int(ly * h)
	}
	minX, minY := toLocal(node.AABB.Min.X, node.AABB.Min.Y)
	maxX, maxY := toLocal(node.AABB.Max.X, node.AABB.Max.Y)
	nodeRect := rect.Rect{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	return nodeRect.Overlaps(p.Local)
}
