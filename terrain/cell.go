package terrain

import (
	"fmt"

	"github.com/gogpu/terrastream/bridge"
	"github.com/gogpu/terrastream/datasource"
)

// LayerSource supplies one coverage layer's backing file for a cell:
// the streaming file handle plus a flat, per-node byte offset table.
type LayerSource struct {
	File    datasource.FileReaderAt
	Offsets []int64 // indexed by linearID(NodeKey); -1 means absent for that node
	// TileBytes is the fixed byte size of one node's payload in this
	// layer, used to turn an offset into a byte range.
	TileBytes int64
	// RowPitch is passed straight through to the datasource.Source built
	// for each upload.
	RowPitch uint64
	// TileWidth is the sample count along one edge of a node's tile in
	// this layer, including the overlap border.
	TileWidth uint32
}

// OverlapWidth returns the width in samples of the border a tile shares
// with its neighbors in this layer. 33-sample tiles carry a single
// shared edge row; every other width carries two.
func (s LayerSource) OverlapWidth() uint32 {
	if s.TileWidth == 33 {
		return 1
	}
	return 2
}

// offsetFor returns the byte range for key in this layer, or ok=false
// if the layer has no data for that node (a non-fatal gap for coverage
// layers).
func (s LayerSource) offsetFor(key NodeKey) (offset, size int64, ok bool) {
	if s.File == nil {
		return 0, 0, false
	}
	id := linearID(key)
	if id < 0 || id >= len(s.Offsets) {
		return 0, 0, false
	}
	off := s.Offsets[id]
	if off < 0 {
		return 0, 0, false
	}
	return off, s.TileBytes, true
}

// CellDescriptor describes a cell's static shape: its world-space
// footprint, the quadtree depth its tile files encode, and one
// LayerSource per coverage layer.
type CellDescriptor struct {
	Hash bridge.CellHash

	// Origin is the world-space minimum corner of the cell's footprint
	// in the XY plane; Size is its edge length.
	Origin Vec3
	Size   float64

	// Fields is the number of quadtree LOD levels the cell's tile
	// files encode; field 0 is a single root node.
	Fields uint8

	// Layers has one entry per coverage layer, parallel to the owning
	// Cache's configured layer count. Layer 0 is conventionally
	// heights; a missing height source invalidates the whole cell.
	Layers []LayerSource
}

// CellSource opens cells on demand the first time the render cache's
// cull pass references their hash, and whenever a cell is re-created
// after LRU eviction. The concrete
// implementation (a world-level quadtree-of-cells) lives outside this
// package's scope.
type CellSource interface {
	OpenCell(hash bridge.CellHash) (CellDescriptor, error)
}

// Cell aggregates the quadtree of nodes backing one cell's content.
type Cell struct {
	desc CellDescriptor

	// ownerField[y][x] is the field currently active over the finest
	// grid cell (x, y): an O(1) lookup the collapse pass consults
	// directly instead of patching neighbor pointers after every
	// split.
	ownerField [][]uint8
	finestDim  uint32

	// nodes holds every node this cell has touched recently enough to
	// retain its atlas handles, keyed by NodeKey. Cache.pruneCell drops
	// entries that fall out of the current frame's un-promoted set.
	nodes map[NodeKey]*Node
}

func newCell(desc CellDescriptor, layerCount int) (*Cell, error) {
	if desc.Fields == 0 {
		return nil, fmt.Errorf("terrain: cell %d has zero LOD fields", desc.Hash)
	}
	if len(desc.Layers) == 0 || desc.Layers[0].File == nil {
		return nil, fmt.Errorf("terrain: cell %d is missing its heights file handle", desc.Hash)
	}

	finest := fieldDim(desc.Fields - 1)
	owner := make([][]uint8, finest)
	for y := range owner {
		owner[y] = make([]uint8, finest)
	}

	c := &Cell{desc: desc, ownerField: owner, finestDim: finest, nodes: make(map[NodeKey]*Node)}

	root := newNode(NodeKey{}, c.nodeAABB(NodeKey{}), layerCount)
	c.nodes[NodeKey{}] = root
	return c, nil
}

// resetOwner clears the owner field grid back to field 0 (every finest
// grid cell owned by the root), the starting point for this frame's
// collapse pass.
func (c *Cell) resetOwner() {
	for y := range c.ownerField {
		row := c.ownerField[y]
		for x := range row {
			row[x] = 0
		}
	}
}

// getNode returns key's Node, creating it (with a freshly computed AABB)
// if this is the first time the cell has seen it.
func (c *Cell) getNode(key NodeKey, layerCount int) *Node {
	if n, ok := c.nodes[key]; ok {
		return n
	}
	n := newNode(key, c.nodeAABB(key), layerCount)
	c.nodes[key] = n
	return n
}

// nodeAABB computes key's world-space footprint from the cell's origin
// and size, flattened into the XY plane (Z spans the cell's full
// height range so the frustum test never culls on height alone).
func (c *Cell) nodeAABB(key NodeKey) AABB {
	dim := float64(fieldDim(key.Field))
	step := c.desc.Size / dim
	minX := c.desc.Origin.X + float64(key.X)*step
	minY := c.desc.Origin.Y + float64(key.Y)*step
	return AABB{
		Min: Vec3{minX, minY, c.desc.Origin.Z},
		Max: Vec3{minX + step, minY + step, c.desc.Origin.Z + c.desc.Size},
	}
}

// aabb returns the cell's full-extent bounding box (its root node).
func (c *Cell) aabb() AABB { return c.nodeAABB(NodeKey{}) }

// fieldAt returns the field currently active over the finest grid cell
// containing (x, y) at resolution field. Coordinates past the grid's far
// edge are clamped to the last row or column, so such a query reads the
// owner of the nearest edge cell rather than panicking; cross-cell
// neighbor discipline is out of scope for this core.
func (c *Cell) fieldAt(field uint8, x, y uint32) uint8 {
	scale := c.finestDim / fieldDim(field)
	fx, fy := x*scale, y*scale
	if fx >= c.finestDim {
		fx = c.finestDim - 1
	}
	if fy >= c.finestDim {
		fy = c.finestDim - 1
	}
	return c.ownerField[fy][fx]
}

// setOwner stamps key's footprint in ownerField with value.
func (c *Cell) setOwner(key NodeKey, value uint8) {
	scale := c.finestDim / fieldDim(key.Field)
	x0, y0 := key.X*scale, key.Y*scale
	for y := y0; y < y0+scale; y++ {
		for x := x0; x < x0+scale; x++ {
			c.ownerField[y][x] = value
		}
	}
}

// neighborFields returns, for each of the four directions, the
// coarsest owner field found along the grid cells immediately adjacent
// to key's footprint on that side, clamped at the cell boundary
// (treated as unconstrained, i.e. equal to key's own field, so a cell
// edge never blocks a split). Scanning the whole edge rather than a
// single sample point means a neighbor that is only partially split
// coarser still blocks this node from out-splitting it by more than
// one field.
func (c *Cell) neighborFields(key NodeKey) [4]uint8 {
	scale := c.finestDim / fieldDim(key.Field)
	x0, y0 := key.X*scale, key.Y*scale
	x1, y1 := x0+scale-1, y0+scale-1

	at := func(x, y int64) uint8 {
		if x < 0 || y < 0 || x >= int64(c.finestDim) || y >= int64(c.finestDim) {
			return key.Field
		}
		return c.ownerField[y][x]
	}
	minAlong := func(fixed int64, vary0, vary1 uint32, horizontal bool) uint8 {
		min := uint8(255)
		for v := vary0; v <= vary1; v++ {
			var f uint8
			if horizontal {
				f = at(int64(v), fixed)
			} else {
				f = at(fixed, int64(v))
			}
			if f < min {
				min = f
			}
		}
		return min
	}

	var out [4]uint8
	out[edgeNorth] = minAlong(int64(y0)-1, x0, x1, true)
	out[edgeEast] = minAlong(int64(x1)+1, y0, y1, false)
	out[edgeSouth] = minAlong(int64(y1)+1, x0, x1, true)
	out[edgeWest] = minAlong(int64(x0)-1, y0, y1, false)
	return out
}
