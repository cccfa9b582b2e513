// Package bitmap implements a fixed-capacity bit-heap used to track
// free slots in the tile atlas: one bit per slot, a zero meaning free.
package bitmap

import "math/bits"

// Heap is a bit-per-slot occupancy tracker over a fixed number of
// slots, word-packed for fast "first free" scans.
type Heap struct {
	words []uint64
	n     int
}

// New returns a Heap tracking n slots, all initially free.
func New(n int) *Heap {
	if n < 0 {
		n = 0
	}
	return &Heap{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of slots this heap tracks.
func (h *Heap) Len() int { return h.n }

// Test reports whether slot i is occupied.
func (h *Heap) Test(i int) bool {
	if i < 0 || i >= h.n {
		return false
	}
	return h.words[i/64]&(uint64(1)<<uint(i%64)) != 0
}

// Set marks slot i occupied.
func (h *Heap) Set(i int) {
	if i < 0 || i >= h.n {
		return
	}
	h.words[i/64] |= uint64(1) << uint(i%64)
}

// Clear marks slot i free.
func (h *Heap) Clear(i int) {
	if i < 0 || i >= h.n {
		return
	}
	h.words[i/64] &^= uint64(1) << uint(i%64)
}

// FirstFree returns the lowest-indexed free slot, and false if every
// tracked slot is occupied.
func (h *Heap) FirstFree() (int, bool) {
	for w, word := range h.words {
		if word == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^word)
		idx := w*64 + bit
		if idx < h.n {
			return idx, true
		}
	}
	return 0, false
}

// Occupied returns the number of set bits, i.e. slots in use.
func (h *Heap) Occupied() int {
	count := 0
	for _, word := range h.words {
		count += bits.OnesCount64(word)
	}
	return count
}

// Free returns the number of slots still available.
func (h *Heap) Free() int { return h.n - h.Occupied() }
