package terrain

import (
	"github.com/gogpu/terrastream/atlas"
	"github.com/gogpu/terrastream/upload"
)

// NodeKey addresses one quadtree node within a cell: field is the LOD
// level (0 is root), and (X, Y) is its grid coordinate within that
// field's fieldDim(field) x fieldDim(field) grid.
type NodeKey struct {
	Field uint8
	X, Y  uint32
}

// fieldDim returns the number of nodes per axis at field: 1, 2, 4, 8...
func fieldDim(field uint8) uint32 { return 1 << field }

// parentKey returns k's parent in field-1. Calling it on a root key is
// a programmer error; callers only do so after checking k.Field > 0.
func parentKey(k NodeKey) NodeKey {
	return NodeKey{Field: k.Field - 1, X: k.X / 2, Y: k.Y / 2}
}

// childKeys returns k's four children in field+1, in
// {NW, NE, SW, SE} order.
func childKeys(k NodeKey) [4]NodeKey {
	f := k.Field + 1
	return [4]NodeKey{
		{Field: f, X: 2 * k.X, Y: 2 * k.Y},
		{Field: f, X: 2*k.X + 1, Y: 2 * k.Y},
		{Field: f, X: 2 * k.X, Y: 2*k.Y + 1},
		{Field: f, X: 2*k.X + 1, Y: 2*k.Y + 1},
	}
}

// linearID returns k's position in the flat per-cell node table that
// tile files store node metadata in: fields are
// concatenated root-first, each field row-major.
func linearID(k NodeKey) int {
	base := 0
	for f := uint8(0); f < k.Field; f++ {
		d := fieldDim(f)
		base += int(d * d)
	}
	return base + int(k.Y*fieldDim(k.Field)+k.X)
}

// edgeDirection names the four neighbor directions of a node, matching
// the order draw records report NeighborLOD diffs in.
type edgeDirection uint8

const (
	edgeNorth edgeDirection = iota
	edgeEast
	edgeSouth
	edgeWest
)

// LayerState tracks one coverage layer's residency for a single node:
// the currently-visible atlas handle (if any) and an in-flight upload
// replacing it (if any). Validity of the pending upload is independent
// from the validity of the visible tile it will replace.
type LayerState struct {
	Visible    atlas.TileHandle
	HasVisible bool

	Pending    atlas.TileHandle
	PendingTxn upload.TransactionID
	HasPending bool
}

// NeedsUpload reports whether this layer has neither a valid visible
// tile nor an upload already in flight.
func (s LayerState) NeedsUpload(valid bool) bool {
	if s.HasPending {
		return false
	}
	return !s.HasVisible || !valid
}

// Node is one quadtree leaf or internal patch of a Cell at a specific
// LOD field. Only un-promoted nodes (those not
// split into children this frame) carry a meaningful NeighborLOD and
// are emitted as draw records.
type Node struct {
	Key  NodeKey
	AABB AABB

	// Layers holds one LayerState per coverage layer configured on the
	// owning Cache (heights is conventionally layer 0).
	Layers []LayerState

	// NeighborLOD[dir] is the signed LOD difference to the neighbor in
	// that direction: -1 (coarser), 0 (same), +1 (finer). Computed by
	// Cull during the queue step.
	NeighborLOD [4]int8

	// Priority is squared distance from the node's world-space center
	// to the camera, used to order upload scheduling (closest first).
	Priority float64

	// HeightsFailed marks a node whose height layer could not be read;
	// such nodes are dropped from the draw set entirely.
	HeightsFailed bool
}

func newNode(key NodeKey, box AABB, layers int) *Node {
	return &Node{Key: key, AABB: box, Layers: make([]LayerState, layers)}
}
