package terrain

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/terrastream/atlas"
	"github.com/gogpu/terrastream/bridge"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/gpudevice"
	"github.com/gogpu/terrastream/internal/rect"
	"github.com/gogpu/terrastream/upload"
)

type fakeRecorder struct{}

func (fakeRecorder) CopyBufferToTexture(gpucore.BufferID, gpucore.TextureID, gpudevice.CopyRegion) {}
func (fakeRecorder) CopyBufferToBuffer(gpucore.BufferID, gpucore.BufferID, gpudevice.BufferCopyRegion) {
}
func (fakeRecorder) Submit(gpudevice.Fence, uint64) error { return nil }

type fakeFence struct{}

func (fakeFence) Wait(context.Context, uint64, time.Duration) (bool, error) { return true, nil }

type fakeDevice struct{ created atomic.Int32 }

func (d *fakeDevice) CreateResource(desc gpucore.Descriptor) (gpucore.BufferID, gpucore.TextureID, gpucore.Views, error) {
	d.created.Add(1)
	return gpucore.InvalidID, gpucore.TextureID(d.created.Load()), gpucore.Views{}, nil
}
func (d *fakeDevice) DestroyResource(gpucore.Descriptor, gpucore.BufferID, gpucore.TextureID) {}
func (d *fakeDevice) NewRecorder() (gpudevice.Recorder, error)                               { return fakeRecorder{}, nil }
func (d *fakeDevice) CreateFence() (gpudevice.Fence, error)                                  { return fakeFence{}, nil }

// orthoAt builds a viewProj that maps the axis-aligned cube
// [origin, origin+span]^3 onto the canonical [-1,1]^3 frustum, with no
// perspective divide (w is always 1).
func orthoAt(origin, span float64) Mat4 {
	s := 2 / span
	t := -1 - origin*s
	return NewMat4([16]float64{
		s, 0, 0, t,
		0, s, 0, t,
		0, 0, s, t,
		0, 0, 0, 1,
	})
}

type stubSource struct {
	cells map[bridge.CellHash]CellDescriptor
}

func (s *stubSource) OpenCell(hash bridge.CellHash) (CellDescriptor, error) {
	desc, ok := s.cells[hash]
	if !ok {
		return CellDescriptor{}, errNoSuchCell
	}
	return desc, nil
}

var errNoSuchCell = fakeErr("terrain test: no such cell")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func newTestCache(t *testing.T) (*Cache, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	at, err := atlas.New(dev, atlas.Config{
		Layers:            1,
		TilesPerLayer:     4,
		TileFormat:        gpucore.FormatR8Unorm,
		TileExtent:        gpucore.Dimensions{Width: 8, Height: 8},
		ElementsPerLayerX: 2,
	})
	if err != nil {
		t.Fatalf("atlas.New() error = %v", err)
	}
	q := upload.NewQueue(dev, nil, upload.Config{Workers: 2})
	t.Cleanup(q.Close)

	c, err := New(Config{Atlas: at, Uploads: q, Layers: 1, ScreenEdgeThreshold: 1e9})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c, dev
}

func pumpUploads(t *testing.T, c *Cache, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.CompletePendingUploads()
		if c.Stats().InFlightCount <= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("uploads never settled to %d in flight", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCullSkipsCellsOutsideFrustum(t *testing.T) {
	c, _ := newTestCache(t)
	farDesc := testDescriptor(2, 1)
	farDesc.Origin = Vec3{1000, 1000, 1000}
	source := &stubSource{cells: map[bridge.CellHash]CellDescriptor{1: farDesc}}

	cam := Camera{Position: Vec3{0, 0, -50}, ViewProj: orthoAt(0, 64), Viewport: Viewport{Width: 800, Height: 600}}
	if err := c.Cull(cam, []bridge.CellHash{1}, source); err != nil {
		t.Fatalf("Cull() error = %v", err)
	}
	if stats := c.Stats(); stats.DrawRecords != 0 || stats.CandidateCount != 0 {
		t.Fatalf("Stats() = %+v, want no draw records or upload candidates", stats)
	}
}

func TestCullEmitsSingleDrawRecordWhenUnsplit(t *testing.T) {
	c, _ := newTestCache(t)
	source := &stubSource{cells: map[bridge.CellHash]CellDescriptor{
		1: testDescriptor(2, 1),
	}}

	cam := Camera{Position: Vec3{32, 32, -50}, ViewProj: orthoAt(0, 64), Viewport: Viewport{Width: 800, Height: 600}}
	if err := c.Cull(cam, []bridge.CellHash{1}, source); err != nil {
		t.Fatalf("Cull() error = %v", err)
	}
	records := c.DrawSet()
	if len(records) != 1 {
		t.Fatalf("DrawSet() = %d records, want 1 (no split, high screen-edge threshold)", len(records))
	}
	if records[0].Slots[0].Valid {
		t.Fatalf("DrawSet()[0].Slots[0].Valid = true, want false (nothing uploaded yet)")
	}
}

func TestUploadCycleMakesTileVisible(t *testing.T) {
	c, _ := newTestCache(t)
	source := &stubSource{cells: map[bridge.CellHash]CellDescriptor{
		1: testDescriptor(2, 1),
	}}
	cam := Camera{Position: Vec3{32, 32, -50}, ViewProj: orthoAt(0, 64), Viewport: Viewport{Width: 800, Height: 600}}

	if err := c.Cull(cam, []bridge.CellHash{1}, source); err != nil {
		t.Fatalf("Cull() error = %v", err)
	}
	if started := c.ScheduleUploads(); started != 1 {
		t.Fatalf("ScheduleUploads() started = %d, want 1", started)
	}
	pumpUploads(t, c, 0)

	if err := c.Cull(cam, []bridge.CellHash{1}, source); err != nil {
		t.Fatalf("second Cull() error = %v", err)
	}
	records := c.DrawSet()
	if len(records) != 1 || !records[0].Slots[0].Valid {
		t.Fatalf("DrawSet() after upload = %+v, want one record with a valid slot", records)
	}
}

func TestApplyShortCircuitAbandonInvalidatesResidentTile(t *testing.T) {
	c, _ := newTestCache(t)
	source := &stubSource{cells: map[bridge.CellHash]CellDescriptor{
		1: testDescriptor(2, 1),
	}}
	cam := Camera{Position: Vec3{32, 32, -50}, ViewProj: orthoAt(0, 64), Viewport: Viewport{Width: 800, Height: 600}}

	c.Cull(cam, []bridge.CellHash{1}, source)
	c.ScheduleUploads()
	pumpUploads(t, c, 0)
	c.Cull(cam, []bridge.CellHash{1}, source)
	if !c.DrawSet()[0].Slots[0].Valid {
		t.Fatalf("tile not resident before abandon test")
	}

	b := bridge.New()
	b.RegisterCell(1, rect.Rect{MaxX: 64, MaxY: 64}, nil)
	c.cfg.Bridge = b
	b.QueueAbandon(rect.Rect{MaxX: 64, MaxY: 64})

	c.ApplyShortCircuit(context.Background())

	c.Cull(cam, []bridge.CellHash{1}, source)
	if c.DrawSet()[0].Slots[0].Valid {
		t.Fatalf("Slots[0].Valid = true after abandon, want false (forced re-stream)")
	}
}

func newThresholdCache(t *testing.T, threshold float64) *Cache {
	t.Helper()
	dev := &fakeDevice{}
	at, err := atlas.New(dev, atlas.Config{
		Layers:            1,
		TilesPerLayer:     64,
		TileFormat:        gpucore.FormatR8Unorm,
		TileExtent:        gpucore.Dimensions{Width: 8, Height: 8},
		ElementsPerLayerX: 8,
	})
	if err != nil {
		t.Fatalf("atlas.New() error = %v", err)
	}
	q := upload.NewQueue(dev, nil, upload.Config{Workers: 2})
	t.Cleanup(q.Close)
	c, err := New(Config{Atlas: at, Uploads: q, Layers: 1, ScreenEdgeThreshold: threshold})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCollapseStopsAtIntermediateField(t *testing.T) {
	// The root's longest screen edge is 800px and a field-1 node's is
	// 400px, so a 500px threshold splits the root exactly once.
	c := newThresholdCache(t, 500)
	source := &stubSource{cells: map[bridge.CellHash]CellDescriptor{1: testDescriptor(3, 1)}}
	cam := Camera{Position: Vec3{32, 32, -50}, ViewProj: orthoAt(0, 64), Viewport: Viewport{Width: 800, Height: 600}}

	if err := c.Cull(cam, []bridge.CellHash{1}, source); err != nil {
		t.Fatalf("Cull() error = %v", err)
	}
	records := c.DrawSet()
	if len(records) != 4 {
		t.Fatalf("DrawSet() = %d records, want the root's 4 children", len(records))
	}
	for _, r := range records {
		if r.Key.Field != 1 {
			t.Fatalf("record %+v at field %d, want 1", r.Key, r.Key.Field)
		}
		for dir, diff := range r.NeighborLOD {
			if diff != 0 {
				t.Fatalf("node %+v NeighborLOD[%d] = %d, want 0 (siblings and cell edges)", r.Key, dir, diff)
			}
		}
	}
}

func TestCollapseKeepsNeighborsWithinOneField(t *testing.T) {
	// A perspective-style matrix whose w grows with x shrinks nodes on
	// the right of the cell, so the left side refines deeper and a
	// field seam forms mid-cell.
	c := newThresholdCache(t, 150)
	source := &stubSource{cells: map[bridge.CellHash]CellDescriptor{1: testDescriptor(3, 1)}}
	s := 2.0 / 64
	viewProj := NewMat4([16]float64{
		s, 0, 0, -1,
		0, s, 0, -1,
		0, 0, s, -1,
		0.05, 0, 0, 1,
	})
	cam := Camera{Position: Vec3{0, 32, -50}, ViewProj: viewProj, Viewport: Viewport{Width: 800, Height: 600}}

	if err := c.Cull(cam, []bridge.CellHash{1}, source); err != nil {
		t.Fatalf("Cull() error = %v", err)
	}
	records := c.DrawSet()

	fields := map[uint8]int{}
	for _, r := range records {
		fields[r.Key.Field]++
	}
	if len(fields) < 2 {
		t.Fatalf("draw set fields = %v, want a mix of LODs for this test to exercise the seam", fields)
	}

	cell, ok := c.cells.Peek(1)
	if !ok {
		t.Fatalf("cell 1 not resident after Cull")
	}
	for _, r := range records {
		nf := cell.neighborFields(r.Key)
		for dir, f := range nf {
			d := int(f) - int(r.Key.Field)
			if d < -1 || d > 1 {
				t.Fatalf("node %+v direction %d neighbor field %d differs by %d, want within one step", r.Key, dir, f, d)
			}
		}
	}
}
