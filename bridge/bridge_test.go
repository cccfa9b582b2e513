package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/terrastream/internal/rect"
)

func TestRegisterCellRejectsDuplicate(t *testing.T) {
	b := New()
	if err := b.RegisterCell(1, rect.Rect{MaxX: 10, MaxY: 10}, nil); err != nil {
		t.Fatalf("RegisterCell() error = %v", err)
	}
	if err := b.RegisterCell(1, rect.Rect{MaxX: 10, MaxY: 10}, nil); err == nil {
		t.Fatalf("RegisterCell() duplicate error = nil, want duplicate-registration")
	}
}

func TestQueueUpdateMergesRectangles(t *testing.T) {
	b := New()
	b.RegisterCell(1, rect.Rect{MaxX: 100, MaxY: 100}, nil)

	b.QueueUpdate(rect.Rect{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4})
	b.QueueUpdate(rect.Rect{MinX: 2, MinY: 2, MaxX: 8, MaxY: 6})

	updates := b.GetPendingUpdates()
	if len(updates) != 1 || updates[0].Cell != 1 {
		t.Fatalf("GetPendingUpdates() = %+v, want one entry for cell 1", updates)
	}
	want := rect.Rect{MinX: 0, MinY: 0, MaxX: 8, MaxY: 6}
	if updates[0].Local != want {
		t.Fatalf("pending update = %+v, want %+v", updates[0].Local, want)
	}
	if len(b.GetPendingUpdates()) != 0 {
		t.Fatalf("GetPendingUpdates() did not drain on first call")
	}
}

func TestQueueUpdateFansOutToOverlappingCells(t *testing.T) {
	b := New()
	b.RegisterCell(1, rect.Rect{MinX: 0, MinY: 0, MaxX: 64, MaxY: 64}, nil)
	b.RegisterCell(2, rect.Rect{MinX: 64, MinY: 0, MaxX: 128, MaxY: 64}, nil)
	b.RegisterCell(3, rect.Rect{MinX: 0, MinY: 64, MaxX: 64, MaxY: 128}, nil)

	// Straddles cells 1 and 2; misses cell 3.
	b.QueueUpdate(rect.Rect{MinX: 60, MinY: 10, MaxX: 70, MaxY: 20})

	updates := b.GetPendingUpdates()
	if len(updates) != 2 {
		t.Fatalf("GetPendingUpdates() = %+v, want entries for cells 1 and 2", updates)
	}
	if updates[0].Cell != 1 || updates[1].Cell != 2 {
		t.Fatalf("update cells = %d, %d, want 1, 2", updates[0].Cell, updates[1].Cell)
	}
	want1 := rect.Rect{MinX: 60, MinY: 10, MaxX: 64, MaxY: 20}
	want2 := rect.Rect{MinX: 0, MinY: 10, MaxX: 6, MaxY: 20}
	if updates[0].Local != want1 {
		t.Fatalf("cell 1 clipped update = %+v, want %+v", updates[0].Local, want1)
	}
	if updates[1].Local != want2 {
		t.Fatalf("cell 2 clipped update = %+v, want %+v", updates[1].Local, want2)
	}
}

func TestAbandonDominatesUpdates(t *testing.T) {
	b := New()
	b.RegisterCell(1, rect.Rect{MaxX: 128, MaxY: 128}, nil)

	b.QueueUpdate(rect.Rect{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20})
	b.QueueAbandon(rect.Rect{MinX: 0, MinY: 0, MaxX: 64, MaxY: 64})
	b.QueueUpdate(rect.Rect{MinX: 12, MinY: 12, MaxX: 18, MaxY: 18})

	if updates := b.GetPendingUpdates(); len(updates) != 0 {
		t.Fatalf("GetPendingUpdates() = %+v, want empty after abandon", updates)
	}
	abandons := b.GetPendingAbandons()
	if len(abandons) != 1 || abandons[0].Cell != 1 {
		t.Fatalf("GetPendingAbandons() = %+v, want one entry for cell 1", abandons)
	}
	minX, minY, maxX, maxY := abandons[0].Normalized()
	if minX != 0 || minY != 0 || maxX != 0.5 || maxY != 0.5 {
		t.Fatalf("Normalized() = (%v,%v)-(%v,%v), want (0,0)-(0.5,0.5)", minX, minY, maxX, maxY)
	}
}

func TestGetShortCircuit(t *testing.T) {
	b := New()
	extent := rect.Rect{MinX: 100, MinY: 200, MaxX: 164, MaxY: 264}
	b.RegisterCell(7, extent, nil)

	got, ok := b.GetShortCircuit(7, rect.Rect{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20})
	want := rect.Rect{MinX: 110, MinY: 210, MaxX: 120, MaxY: 220}
	if !ok || got != want {
		t.Fatalf("GetShortCircuit() = (%+v, %v), want (%+v, true)", got, ok, want)
	}
	if _, ok := b.GetShortCircuit(99, rect.Rect{MaxX: 1, MaxY: 1}); ok {
		t.Fatalf("GetShortCircuit() on unregistered cell = true, want false")
	}
	// Degenerate rectangle: skipped.
	if _, ok := b.GetShortCircuit(7, rect.Rect{MinX: 5, MinY: 5, MaxX: 5, MaxY: 9}); ok {
		t.Fatalf("GetShortCircuit() with degenerate rect = true, want false")
	}
}

func TestWriteCellsInvokesCallbacksWithProgress(t *testing.T) {
	b := New()
	var wrote []rect.Rect
	record := func(_ context.Context, region rect.Rect) error {
		wrote = append(wrote, region)
		return nil
	}
	b.RegisterCell(1, rect.Rect{MinX: 0, MinY: 0, MaxX: 64, MaxY: 64}, record)
	b.RegisterCell(2, rect.Rect{MinX: 64, MinY: 0, MaxX: 128, MaxY: 64}, record)
	b.RegisterCell(3, rect.Rect{MinX: 128, MinY: 0, MaxX: 192, MaxY: 64}, record)

	var ticks []int
	err := b.WriteCells(context.Background(), rect.Rect{MinX: 0, MinY: 0, MaxX: 128, MaxY: 64}, func(done, total int) {
		if done > total {
			t.Fatalf("progress done %d > total %d", done, total)
		}
		ticks = append(ticks, done)
	})
	if err != nil {
		t.Fatalf("WriteCells() error = %v", err)
	}
	if len(wrote) != 2 {
		t.Fatalf("WriteCells() invoked %d callbacks, want 2 (cell 3 does not intersect)", len(wrote))
	}
	if len(ticks) != 2 || ticks[1] != 2 {
		t.Fatalf("progress ticks = %v, want [1 2]", ticks)
	}
}

func TestWriteCellsStopsOnFailure(t *testing.T) {
	b := New()
	wantErr := errors.New("write-back failed")
	calls := 0
	b.RegisterCell(1, rect.Rect{MaxX: 10, MaxY: 10}, func(context.Context, rect.Rect) error {
		calls++
		return nil
	})
	b.RegisterCell(2, rect.Rect{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}, func(context.Context, rect.Rect) error {
		return wantErr
	})
	b.RegisterCell(3, rect.Rect{MinX: 20, MinY: 0, MaxX: 30, MaxY: 10}, func(context.Context, rect.Rect) error {
		calls++
		return nil
	})

	err := b.WriteCells(context.Background(), rect.Rect{MaxX: 30, MaxY: 10}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("WriteCells() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("callbacks after failure = %d, want sweep stopped after cell 1", calls)
	}
}

func TestUnregisterCellDropsPendingState(t *testing.T) {
	b := New()
	b.RegisterCell(1, rect.Rect{MaxX: 10, MaxY: 10}, nil)
	b.QueueUpdate(rect.Rect{MaxX: 4, MaxY: 4})
	b.UnregisterCell(1)
	if updates := b.GetPendingUpdates(); len(updates) != 0 {
		t.Fatalf("GetPendingUpdates() after UnregisterCell = %+v, want empty", updates)
	}
	if err := b.RegisterCell(1, rect.Rect{MaxX: 10, MaxY: 10}, nil); err != nil {
		t.Fatalf("re-RegisterCell() after UnregisterCell error = %v", err)
	}
}
