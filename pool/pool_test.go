package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/gpudevice"
)

type fakeDevice struct {
	created   atomic.Int32
	destroyed atomic.Int32
}

func (f *fakeDevice) CreateResource(desc gpucore.Descriptor) (gpucore.BufferID, gpucore.TextureID, gpucore.Views, error) {
	f.created.Add(1)
	if desc.Kind == gpucore.KindLinearBuffer {
		return gpucore.BufferID(f.created.Load()), gpucore.InvalidID, gpucore.Views{}, nil
	}
	return gpucore.InvalidID, gpucore.TextureID(f.created.Load()), gpucore.Views{}, nil
}

func (f *fakeDevice) DestroyResource(gpucore.Descriptor, gpucore.BufferID, gpucore.TextureID) {
	f.destroyed.Add(1)
}

func (f *fakeDevice) NewRecorder() (gpudevice.Recorder, error) { return nil, nil }
func (f *fakeDevice) CreateFence() (gpudevice.Fence, error)    { return nil, nil }

func bufferDesc(size uint32) gpucore.Descriptor {
	return gpucore.Descriptor{
		Kind:        gpucore.KindLinearBuffer,
		Dimensions:  gpucore.Dimensions{Width: size},
		Format:      gpucore.FormatRaw,
		MipCount:    1,
		SampleCount: 1,
	}
}

func TestAcquireMissThenHit(t *testing.T) {
	dev := &fakeDevice{}
	p := New(dev, time.Minute)
	desc := bufferDesc(1024)

	l1, err := p.Acquire(desc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if dev.created.Load() != 1 {
		t.Fatalf("created = %d, want 1", dev.created.Load())
	}
	l1.Close()

	if p.Stats().Idle != 1 {
		t.Fatalf("Idle = %d, want 1 after release", p.Stats().Idle)
	}

	l2, err := p.Acquire(desc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if dev.created.Load() != 1 {
		t.Fatalf("created = %d after reuse, want still 1", dev.created.Load())
	}
	if p.Stats().Hits != 1 {
		t.Fatalf("Hits = %d, want 1", p.Stats().Hits)
	}
	l2.Close()
}

func TestReapEvictsOldEntries(t *testing.T) {
	dev := &fakeDevice{}
	p := New(dev, time.Millisecond)
	desc := bufferDesc(256)

	l, err := p.Acquire(desc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Close()

	time.Sleep(5 * time.Millisecond)
	n := p.Reap(time.Now())
	if n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}
	if dev.destroyed.Load() != 1 {
		t.Fatalf("destroyed = %d, want 1", dev.destroyed.Load())
	}
	if p.Stats().Idle != 0 {
		t.Fatalf("Idle = %d after reap, want 0", p.Stats().Idle)
	}
}

func TestCloseDestroysIdleResources(t *testing.T) {
	dev := &fakeDevice{}
	p := New(dev, time.Minute)
	desc := bufferDesc(64)

	l, _ := p.Acquire(desc)
	l.Close()

	p.Close()
	if dev.destroyed.Load() != 1 {
		t.Fatalf("destroyed = %d, want 1", dev.destroyed.Load())
	}

	if _, err := p.Acquire(desc); err != ErrPoolClosed {
		t.Fatalf("Acquire() after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestAcquireRejectsInvalidDescriptor(t *testing.T) {
	dev := &fakeDevice{}
	p := New(dev, time.Minute)

	_, err := p.Acquire(gpucore.Descriptor{Kind: gpucore.KindLinearBuffer})
	if err == nil {
		t.Fatalf("Acquire() error = nil, want invalid-descriptor error")
	}
}
