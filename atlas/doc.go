// Package atlas implements the tile atlas: a fixed-capacity 2D-array
// texture whose per-layer slots are tracked by a bit-heap (internal/bitmap) and whose recency is tracked by a single
// LRU queue shared across every layer, so eviction always reclaims the
// globally least-recently-touched tile regardless of which layer it
// sits in.
//
// Every allocated slot is addressed by a TileHandle carrying a
// generation stamp. Once a slot is evicted its generation is bumped, so
// a caller holding a stale handle from before the eviction detects it
// via IsValid by comparing generations, and holders of old handles
// need no notification. IsValid takes the atlas mutex (it also updates
// recency), so the check is not lock-free.
package atlas
