// Package terrain implements the cell render cache: the
// per-frame orchestration that ties the tile atlas, upload queue, and
// short-circuit bridge together. It culls cells against the camera
// frustum, collapses a cell's quadtree to the LOD a screen-space edge
// length threshold demands, keeps absent tiles queued for upload, and
// applies pending short-circuit edits before emitting a draw record per
// un-promoted node.
package terrain
