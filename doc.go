// Package terrastream implements the GPU resource streaming and
// tile-cache subsystem that feeds a real-time terrain renderer: an
// asynchronous buffer-upload manager, a texture tile-set atlas with LRU
// eviction, a terrain cell render cache that drives per-node streaming
// and LOD collapse, and a short-circuit bridge that pushes in-memory
// edits of an authoritative "uber surface" into the live tile cache.
//
// # Layout
//
//   - gpucore: backend-agnostic resource descriptors and IDs.
//   - datasource: the Data Packet / Data Source capability set.
//   - resource: the shared Resource Locator handle.
//   - pool: descriptor-keyed GPU resource recycling.
//   - upload: the frame-oriented, transactional upload queue.
//   - atlas: the fixed-capacity tile atlas (slots, LRU, generations).
//   - bridge: the short-circuit edit-to-tile bridge.
//   - ubersurface: the memory-mapped authoritative surface store.
//   - terrain: the cell render cache tying all of the above together.
//
// This package itself holds only the cross-cutting pieces every other
// package needs: the shared error Kind taxonomy and the package-wide
// swappable logger.
package terrastream
