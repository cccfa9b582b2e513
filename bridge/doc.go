// Package bridge implements the short-circuit bridge: a registry of
// terrain cells and the uber-surface rectangles they cover, which
// translates uber-surface-space edits into per-cell refresh events for
// the render cache, bypassing the normal disk streaming pipeline.
//
// QueueUpdate and QueueAbandon take rectangles in uber-surface sample
// coordinates and fan them out to every overlapping registered cell,
// clipped and translated into that cell's local space. Each cell
// accumulates at most one pending update rectangle (repeated calls
// merge via axis-aligned union) and at most one pending abandon. An
// abandon always wins over any update queued before or after it for the
// same cell: once a cell is marked abandoned, its pending update is
// discarded and further updates are ignored until the abandon is
// consumed, so the affected tiles reload from authoritative disk state.
package bridge
