package dma

import (
	"sync"
)

// AllocAlign is the alignment of every span handed out by an Arena. 64
// bytes keeps regions cache-line aligned for the accelerator's DMA engine.
const AllocAlign = 64

// DefaultCarveoutBase is the device address of the first byte of an
// Arena's carveout when the caller does not specify one.
const DefaultCarveoutBase uint32 = 0x40000000

type span struct {
	off  uint32
	size uint32
}

// Arena is a fixed-size memory carveout from which DMA regions are
// allocated. It models the reserved-memory pool the accelerator can reach
// directly: one contiguous area, first-fit span allocation, and zeroing on
// free so stale model weights or feature maps never leak between owners.
type Arena struct {
	mu   sync.Mutex
	data []byte
	base uint32
	free []span

	allocated uint32
	allocs    uint64
	frees     uint64
	failures  uint64
}

// NewArena creates a carveout of the given size with device addresses
// starting at base. A base of zero selects DefaultCarveoutBase.
func NewArena(size uint32, base uint32) *Arena {
	if base == 0 {
		base = DefaultCarveoutBase
	}
	return &Arena{
		data: make([]byte, size),
		base: base,
		free: []span{{off: 0, size: size}},
	}
}

// Size returns the total carveout size in bytes.
func (a *Arena) Size() uint32 {
	return uint32(len(a.data))
}

// Alloc carves a region of the given size out of the arena, first-fit.
func (a *Arena) Alloc(size uint32) (*Region, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	rounded := (size + AllocAlign - 1) &^ uint32(AllocAlign-1)

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.free {
		if s.size < rounded {
			continue
		}
		off := s.off
		if s.size == rounded {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{off: s.off + rounded, size: s.size - rounded}
		}
		a.allocated += rounded
		a.allocs++
		r := &Region{
			Size:       size,
			CPU:        a.data[off : off+size : off+rounded],
			DeviceAddr: a.base + off,
		}
		r.release = func() { a.releaseSpan(span{off: off, size: rounded}) }
		return r, nil
	}

	a.failures++
	return nil, ErrOutOfMemory
}

// releaseSpan returns a span to the free list, coalescing with adjacent
// free spans so the arena does not fragment permanently.
func (a *Arena) releaseSpan(s span) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.allocated -= s.size
	a.frees++

	// Insert sorted by offset.
	pos := len(a.free)
	for i, f := range a.free {
		if f.off > s.off {
			pos = i
			break
		}
	}
	a.free = append(a.free, span{})
	copy(a.free[pos+1:], a.free[pos:])
	a.free[pos] = s

	// Coalesce with the next span, then the previous one.
	if pos+1 < len(a.free) && a.free[pos].off+a.free[pos].size == a.free[pos+1].off {
		a.free[pos].size += a.free[pos+1].size
		a.free = append(a.free[:pos+1], a.free[pos+2:]...)
	}
	if pos > 0 && a.free[pos-1].off+a.free[pos-1].size == a.free[pos].off {
		a.free[pos-1].size += a.free[pos].size
		a.free = append(a.free[:pos], a.free[pos+1:]...)
	}
}

// Stats reports allocator statistics.
func (a *Arena) Stats() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	return map[string]interface{}{
		"type":       "carveout",
		"size":       len(a.data),
		"allocated":  a.allocated,
		"free_spans": len(a.free),
		"allocs":     a.allocs,
		"frees":      a.frees,
		"failures":   a.failures,
	}
}
