package ubersurface

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/bridge"
	"github.com/gogpu/terrastream/internal/rect"
)

// Progress reports write-back progress as done out of total units
// completed so far, for driving a UI progress bar. It is never called
// with done > total.
type Progress func(done, total int)

// WorkingCache is a bounded GPU-side editing cache over a Store. At
// most one rectangle may be locked for editing at a time (the
// single-active-rectangle invariant): PrepareCache stages it, ApplyTool
// writes into the staged copy, and FlushLockToDisk or AbandonLock
// release the lock.
type WorkingCache struct {
	mu     sync.Mutex
	store  *Store
	active *rect.Rect
	staged []byte // row-major mirror of the active rect, written back on flush
	dirty  bool   // staged differs from the store (an ApplyTool has run)

	// bridge is optional: when set, ApplyTool pushes short-circuit
	// updates for the edited region, AbandonLock pushes abandons, and
	// FlushLockToDisk pushes abandons plus per-cell write-backs, so the
	// render cache reflects edits before (or instead of, on abandon)
	// the next disk read. The bridge fans each rectangle out to
	// whichever registered cells it overlaps.
	bridge *bridge.Bridge
}

// NewWorkingCache returns a WorkingCache fronting store.
func NewWorkingCache(store *Store) *WorkingCache {
	return &WorkingCache{store: store}
}

// SetBridge wires w to the short-circuit bridge. Call before the first
// PrepareCache.
func (w *WorkingCache) SetBridge(b *bridge.Bridge) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bridge = b
}

// PrepareCache ensures r is locked for editing. If the current lock
// already covers r this is a no-op. Otherwise any dirty staged bytes
// are first written back to the store, the old lock is dropped, and
// r's current contents are loaded fresh — so at any instant exactly
// one of {no lock, one locked rectangle} holds, and edits are never
// lost to a re-prepare.
func (w *WorkingCache) PrepareCache(r rect.Rect) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active != nil {
		if w.active.Contains(r) {
			return nil
		}
		if w.dirty {
			if err := w.store.WriteRect(*w.active, w.staged); err != nil {
				return err
			}
		}
		w.active = nil
		w.staged = nil
		w.dirty = false
	}
	data, err := w.store.ReadRect(r)
	if err != nil {
		return err
	}
	active := r
	w.active = &active
	w.staged = data
	return nil
}

// ApplyTool overwrites offset..offset+len(data) of the currently locked
// rectangle's staged bytes. Returns terrastream.LockMissing if nothing
// is locked or the write falls outside the locked region.
func (w *WorkingCache) ApplyTool(offset int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return terrastream.NewError(terrastream.LockMissing, fmt.Errorf("ubersurface: ApplyTool with no active lock"))
	}
	if offset < 0 || offset+len(data) > len(w.staged) {
		return terrastream.NewError(terrastream.LockMissing, fmt.Errorf("ubersurface: write [%d,%d) outside locked rectangle (len %d)", offset, offset+len(data), len(w.staged)))
	}
	copy(w.staged[offset:], data)
	w.dirty = true

	if w.bridge != nil {
		// Conservative over-approximation: queue the whole locked
		// rectangle rather than tracking offset's exact sub-span, so a
		// missed refresh never happens at the cost of an occasional
		// wider one.
		w.bridge.QueueUpdate(*w.active)
	}
	return nil
}

// FlushLockToDisk writes the staged rectangle back into the store and
// releases the lock. This is the third of the module's three
// documented stall points: it blocks the caller until the write (and,
// if sync is true, an fsync-equivalent Store.Flush) completes.
func (w *WorkingCache) FlushLockToDisk(ctx context.Context, sync bool, progress Progress) error {
	w.mu.Lock()
	active := w.active
	staged := w.staged
	w.mu.Unlock()

	if active == nil {
		return terrastream.NewError(terrastream.LockMissing, fmt.Errorf("ubersurface: FlushLockToDisk with no active lock"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.store.WriteRect(*active, staged); err != nil {
		return err
	}
	if sync {
		if err := w.store.Flush(); err != nil {
			return err
		}
	}

	w.mu.Lock()
	b := w.bridge
	w.active = nil
	w.staged = nil
	w.dirty = false
	w.mu.Unlock()

	if b != nil {
		// The mapped file is now authoritative for the flushed region:
		// abandon the short-circuit state so resident tiles reload from
		// disk, then run each covered cell's write-back.
		b.QueueAbandon(*active)
		if err := b.WriteCells(ctx, *active, bridge.Progress(progress)); err != nil {
			return err
		}
	} else if progress != nil {
		progress(1, 1)
	}
	return nil
}

// AbandonLock discards the staged rectangle without writing it back.
func (w *WorkingCache) AbandonLock() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return terrastream.NewError(terrastream.LockMissing, fmt.Errorf("ubersurface: AbandonLock with no active lock"))
	}
	if w.bridge != nil {
		w.bridge.QueueAbandon(*w.active)
	}
	w.active = nil
	w.staged = nil
	w.dirty = false
	return nil
}

// ActiveRect returns the currently locked rectangle, if any.
func (w *WorkingCache) ActiveRect() (rect.Rect, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return rect.Rect{}, false
	}
	return *w.active, true
}
