package datasource

import "sync"

// MemoryPacket is a Source backed by an owned, in-memory buffer: a
// single subresource, consumed exactly once.
type MemoryPacket struct {
	mu       sync.Mutex
	data     []byte
	rowPitch uint64
	consumed bool
}

// NewMemoryPacket wraps data as a one-shot, single-subresource Source.
// rowPitch is the byte stride between rows; pass 0 if the data has no
// row structure (e.g. a plain linear-buffer upload).
func NewMemoryPacket(data []byte, rowPitch uint64) *MemoryPacket {
	return &MemoryPacket{data: data, rowPitch: rowPitch}
}

// GetBytes implements Source.
func (p *MemoryPacket) GetBytes(subresource int) ([]byte, error) {
	if subresource != 0 {
		return nil, ErrSubresourceRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return nil, ErrConsumed
	}
	p.consumed = true
	return p.data, nil
}

// RowPitch implements Source.
func (p *MemoryPacket) RowPitch(subresource int) uint64 {
	if subresource != 0 {
		return 0
	}
	return p.rowPitch
}

// SlicePitch implements Source. MemoryPacket has no slice structure.
func (p *MemoryPacket) SlicePitch(int) uint64 { return 0 }

// SubresourceCount implements Source. MemoryPacket always describes
// exactly one subresource.
func (p *MemoryPacket) SubresourceCount() int { return 1 }

// EmptyPacket is a Source that supplies zero-filled bytes of a fixed
// size, without holding any backing allocation until GetBytes is
// called. It creates a resource with defined-but-blank contents (e.g.
// the Tile Atlas texture before anything has streamed in).
type EmptyPacket struct {
	mu       sync.Mutex
	size     int
	rowPitch uint64
	consumed bool
}

// NewEmptyPacket creates a Source that returns size zero bytes.
func NewEmptyPacket(size int, rowPitch uint64) *EmptyPacket {
	return &EmptyPacket{size: size, rowPitch: rowPitch}
}

// GetBytes implements Source, allocating the zero-filled slice lazily.
func (p *EmptyPacket) GetBytes(subresource int) ([]byte, error) {
	if subresource != 0 {
		return nil, ErrSubresourceRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return nil, ErrConsumed
	}
	p.consumed = true
	return make([]byte, p.size), nil
}

// RowPitch implements Source.
func (p *EmptyPacket) RowPitch(subresource int) uint64 {
	if subresource != 0 {
		return 0
	}
	return p.rowPitch
}

// SlicePitch implements Source.
func (p *EmptyPacket) SlicePitch(int) uint64 { return 0 }

// SubresourceCount implements Source.
func (p *EmptyPacket) SubresourceCount() int { return 1 }
