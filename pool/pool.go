package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/terrastream"
	"github.com/gogpu/terrastream/gpucore"
	"github.com/gogpu/terrastream/gpudevice"
	"github.com/gogpu/terrastream/resource"
)

// ErrPoolClosed is returned by Acquire once the pool has been closed.
var ErrPoolClosed = errors.New("pool: pool is closed")

// DefaultMaxIdleAge is how long an idle resource survives before the
// reaper reclaims it, absent an explicit configuration.
const DefaultMaxIdleAge = 30 * time.Second

type idleEntry struct {
	desc      gpucore.Descriptor
	buffer    gpucore.BufferID
	texture   gpucore.TextureID
	views     gpucore.Views
	idleSince time.Time
	elem      *list.Element
}

// Pool recycles GPU resources by descriptor signature. It implements
// resource.Releaser so a resource.Locator created through it returns
// its allocation here instead of freeing it on Close.
type Pool struct {
	mu     sync.Mutex
	device gpudevice.Device

	idle      map[gpucore.Descriptor][]*idleEntry
	idleOrder *list.List // oldest at Front

	maxIdleAge time.Duration
	closed     bool

	acquires  uint64
	hits      uint64
	evictions uint64
}

// New creates a Pool backed by device. maxIdleAge <= 0 uses
// DefaultMaxIdleAge.
func New(device gpudevice.Device, maxIdleAge time.Duration) *Pool {
	if maxIdleAge <= 0 {
		maxIdleAge = DefaultMaxIdleAge
	}
	return &Pool{
		device:     device,
		idle:       make(map[gpucore.Descriptor][]*idleEntry),
		idleOrder:  list.New(),
		maxIdleAge: maxIdleAge,
	}
}

// Acquire returns a Locator for desc, reusing an idle resource with a
// matching descriptor if one exists, or allocating a fresh one from the
// device otherwise.
func (p *Pool) Acquire(desc gpucore.Descriptor) (*resource.Locator, error) {
	if err := desc.Validate(); err != nil {
		return nil, terrastream.NewError(terrastream.InvalidDescriptor, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.acquires++

	if bucket := p.idle[desc]; len(bucket) > 0 {
		e := bucket[len(bucket)-1]
		p.idle[desc] = bucket[:len(bucket)-1]
		p.idleOrder.Remove(e.elem)
		p.hits++
		p.mu.Unlock()

		terrastream.Logger().Debug("pool: acquire hit", "descriptor", desc)
		return resource.NewPooled(desc, e.buffer, e.texture, e.views, p), nil
	}
	p.mu.Unlock()

	buffer, texture, views, err := p.device.CreateResource(desc)
	if err != nil {
		return nil, terrastream.NewError(terrastream.InvalidDescriptor, err)
	}
	terrastream.Logger().Debug("pool: acquire miss, allocated", "descriptor", desc)
	return resource.NewPooled(desc, buffer, texture, views, p), nil
}

// Release implements resource.Releaser. Called exactly once per
// resource, when its last Locator reference is closed.
func (p *Pool) Release(marker gpucore.Descriptor, buffer gpucore.BufferID, texture gpucore.TextureID, _, _ uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.device.DestroyResource(marker, buffer, texture)
		return
	}

	e := &idleEntry{
		desc:      marker,
		buffer:    buffer,
		texture:   texture,
		idleSince: time.Now(),
	}
	e.elem = p.idleOrder.PushBack(e)
	p.idle[marker] = append(p.idle[marker], e)
}

// Reap destroys idle resources that have been idle longer than the
// pool's configured max age, oldest first. It returns the number of
// resources reclaimed.
func (p *Pool) Reap(now time.Time) int {
	p.mu.Lock()
	var toDestroy []*idleEntry
	for {
		front := p.idleOrder.Front()
		if front == nil {
			break
		}
		e := front.Value.(*idleEntry)
		if now.Sub(e.idleSince) < p.maxIdleAge {
			break
		}
		p.idleOrder.Remove(front)
		p.removeFromBucket(e)
		toDestroy = append(toDestroy, e)
		p.evictions++
	}
	p.mu.Unlock()

	for _, e := range toDestroy {
		p.device.DestroyResource(e.desc, e.buffer, e.texture)
	}
	if len(toDestroy) > 0 {
		terrastream.Logger().Info("pool: reaped idle resources", "count", len(toDestroy))
	}
	return len(toDestroy)
}

// removeFromBucket deletes e from its descriptor bucket. Caller must
// hold p.mu.
func (p *Pool) removeFromBucket(e *idleEntry) {
	bucket := p.idle[e.desc]
	for i, candidate := range bucket {
		if candidate == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(p.idle, e.desc)
	} else {
		p.idle[e.desc] = bucket
	}
}

// RunReaper calls Reap every interval until ctx is cancelled. Intended
// to run in its own goroutine for the lifetime of the pool.
func (p *Pool) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Reap(now)
		}
	}
}

// Close destroys every idle resource and marks the pool closed; any
// in-flight Locator still holding a reference will free its resource
// directly on Close rather than returning it here.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = make(map[gpucore.Descriptor][]*idleEntry)
	p.idleOrder.Init()
	p.mu.Unlock()

	for _, bucket := range idle {
		for _, e := range bucket {
			p.device.DestroyResource(e.desc, e.buffer, e.texture)
		}
	}
}

// Stats reports pool utilization for diagnostics.
type Stats struct {
	Idle      int
	Acquires  uint64
	Hits      uint64
	Evictions uint64
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:      p.idleOrder.Len(),
		Acquires:  p.acquires,
		Hits:      p.hits,
		Evictions: p.evictions,
	}
}

var _ fmt.Stringer = Stats{}

// String implements fmt.Stringer.
func (s Stats) String() string {
	hitRate := 0.0
	if s.Acquires > 0 {
		hitRate = float64(s.Hits) / float64(s.Acquires)
	}
	return fmt.Sprintf("pool[idle=%d acquires=%d hit_rate=%.2f evictions=%d]", s.Idle, s.Acquires, hitRate, s.Evictions)
}
