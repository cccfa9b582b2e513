// Package ubersurface implements the uber-surface store: the
// authoritative, memory-mapped 2D sample array backing one
// terrain cell on disk, plus a bounded GPU working cache used for
// interactive editing.
//
// Store memory-maps a file with a small fixed header (via
// github.com/edsrzf/mmap-go) and lets callers read or write rectangular
// regions directly against the mapping. WorkingCache sits in front of
// it for edits: PrepareCache stages one rectangle on the GPU, ApplyTool
// writes into that staged rectangle, and FlushLockToDisk — one of the
// three documented stall points in this module — copies it back into
// the memory-mapped file and releases the lock. Only one rectangle may
// be locked at a time (the single-active-rectangle invariant); a
// PrepareCache outside the locked rectangle flushes dirty bytes and
// re-prepares rather than failing.
package ubersurface
