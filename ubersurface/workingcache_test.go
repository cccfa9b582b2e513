package ubersurface

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/bridge"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/internal/rect"
)

func hasKind(err error, kind terrastream.Kind) bool {
	var se *terrastream.StreamError
	return errors.As(err, &se) && se.Kind == kind
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cell.ubs")
	s, err := Create(path, 8, 8, gpucore.FormatR8Unorm)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPrepareCacheNoOpWhenCovered(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4}

	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{9, 9}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}

	// A request inside the locked rectangle keeps the lock (and the
	// staged edit) as is.
	if err := w.PrepareCache(rect.Rect{MinX: 1, MinY: 1, MaxX: 3, MaxY: 3}); err != nil {
		t.Fatalf("covered PrepareCache() error = %v", err)
	}
	if got, _ := w.ActiveRect(); got != r {
		t.Fatalf("ActiveRect() = %+v after covered prepare, want %+v", got, r)
	}
}

func TestPrepareCacheFlushesAndRepreparesOnMiss(t *testing.T) {
	store := newTestStore(t)
	w := NewWorkingCache(store)
	r1 := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}

	if err := w.PrepareCache(r1); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}

	// An edit outside the lock flushes the dirty bytes and re-prepares.
	r2 := rect.Rect{MinX: 4, MinY: 4, MaxX: 8, MaxY: 8}
	if err := w.PrepareCache(r2); err != nil {
		t.Fatalf("re-PrepareCache() error = %v", err)
	}
	if got, _ := w.ActiveRect(); got != r2 {
		t.Fatalf("ActiveRect() = %+v, want %+v", got, r2)
	}

	got, err := store.ReadRect(r1)
	if err != nil {
		t.Fatalf("ReadRect() error = %v", err)
	}
	want := []byte{9, 9, 9, 9}
	if string(got) != string(want) {
		t.Fatalf("ReadRect(r1) after re-prepare = %v, want flushed edit %v", got, want)
	}
}

func TestApplyToolThenFlushWritesBack(t *testing.T) {
	store := newTestStore(t)
	w := NewWorkingCache(store)
	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}

	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}
	var gotDone, gotTotal int
	if err := w.FlushLockToDisk(context.Background(), true, func(done, total int) {
		gotDone, gotTotal = done, total
	}); err != nil {
		t.Fatalf("FlushLockToDisk() error = %v", err)
	}
	if gotDone != gotTotal {
		t.Fatalf("final progress = (%d,%d), want done == total", gotDone, gotTotal)
	}

	if _, ok := w.ActiveRect(); ok {
		t.Fatalf("ActiveRect() still set after flush")
	}

	got, err := store.ReadRect(r)
	if err != nil {
		t.Fatalf("ReadRect() error = %v", err)
	}
	want := []byte{9, 9, 9, 9}
	if string(got) != string(want) {
		t.Fatalf("ReadRect() after flush = %v, want %v", got, want)
	}
}

func TestApplyToolOutOfRangeRejected(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}
	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(2, []byte{1, 2, 3}); err == nil {
		t.Fatalf("ApplyTool() out-of-range error = nil, want error")
	}
}

func TestApplyToolWithNoLockFails(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	if err := w.ApplyTool(0, []byte{1}); !hasKind(err, terrastream.LockMissing) {
		t.Fatalf("ApplyTool() with no lock error = %v, want lock-missing", err)
	}
}

func TestAbandonLockDiscardsEdits(t *testing.T) {
	store := newTestStore(t)
	w := NewWorkingCache(store)
	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}

	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{7, 7, 7, 7}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}
	if err := w.AbandonLock(); err != nil {
		t.Fatalf("AbandonLock() error = %v", err)
	}

	if _, ok := w.ActiveRect(); ok {
		t.Fatalf("ActiveRect() still set after abandon")
	}
	got, err := store.ReadRect(r)
	if err != nil {
		t.Fatalf("ReadRect() error = %v", err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("ReadRect() after abandon = %v, want untouched zeros", got)
		}
	}

	// A fresh lock is allowed once the prior one is released.
	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() after abandon error = %v", err)
	}
}

func TestApplyToolQueuesShortCircuitUpdate(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	b := bridge.New()
	b.RegisterCell(5, rect.Rect{MaxX: 8, MaxY: 8}, nil)
	w.SetBridge(b)

	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}
	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}

	updates := b.GetPendingUpdates()
	if len(updates) != 1 || updates[0].Cell != 5 || updates[0].Local != r {
		t.Fatalf("GetPendingUpdates() = %+v, want cell 5 covering %+v", updates, r)
	}
}

func TestAbandonLockQueuesShortCircuitAbandon(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	b := bridge.New()
	b.RegisterCell(5, rect.Rect{MaxX: 8, MaxY: 8}, nil)
	w.SetBridge(b)

	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}
	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}
	if err := w.AbandonLock(); err != nil {
		t.Fatalf("AbandonLock() error = %v", err)
	}

	if updates := b.GetPendingUpdates(); len(updates) != 0 {
		t.Fatalf("GetPendingUpdates() = %v, want empty after abandon", updates)
	}
	abandons := b.GetPendingAbandons()
	if len(abandons) != 1 || abandons[0].Cell != 5 || abandons[0].Local != r {
		t.Fatalf("GetPendingAbandons() = %+v, want cell 5 covering %+v", abandons, r)
	}
}

func TestFlushLockToDiskRunsWriteBacks(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	b := bridge.New()
	var wrote []rect.Rect
	b.RegisterCell(5, rect.Rect{MaxX: 8, MaxY: 8}, func(_ context.Context, region rect.Rect) error {
		wrote = append(wrote, region)
		return nil
	})
	w.SetBridge(b)

	r := rect.Rect{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}
	if err := w.PrepareCache(r); err != nil {
		t.Fatalf("PrepareCache() error = %v", err)
	}
	if err := w.ApplyTool(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("ApplyTool() error = %v", err)
	}
	if err := w.FlushLockToDisk(context.Background(), false, nil); err != nil {
		t.Fatalf("FlushLockToDisk() error = %v", err)
	}

	if len(wrote) != 1 || wrote[0] != r {
		t.Fatalf("write-backs = %+v, want one covering %+v", wrote, r)
	}
	// The flushed region reloads from disk: an abandon is pending and
	// the pre-flush update was purged by it.
	if updates := b.GetPendingUpdates(); len(updates) != 0 {
		t.Fatalf("GetPendingUpdates() after flush = %+v, want empty", updates)
	}
	abandons := b.GetPendingAbandons()
	if len(abandons) != 1 || abandons[0].Cell != 5 {
		t.Fatalf("GetPendingAbandons() after flush = %+v, want cell 5", abandons)
	}
}

func TestFlushLockToDiskWithNoLockFails(t *testing.T) {
	w := NewWorkingCache(newTestStore(t))
	err := w.FlushLockToDisk(context.Background(), false, nil)
	if !hasKind(err, terrastream.LockMissing) {
		t.Fatalf("FlushLockToDisk() with no lock error = %v, want lock-missing", err)
	}
}
