package nnrt

import (
	"sync/atomic"

	"github.com/behrlich/rpmsg-nnrt/internal/dma"
)

// Buffer is a reference-counted, user-visible memory object wrapping one
// DMA region. Multiple holders (the creating session, every inference
// that lists it as an IFM/OFM) share it via refcount increments.
type Buffer struct {
	region   *dma.Region
	refcount int32
}

// CreateBuffer allocates a fresh DMA region of size bytes and returns a
// Buffer holding the creator's single reference.
func CreateBuffer(size uint32) (*Buffer, error) {
	region, err := dma.Alloc(size)
	if err != nil {
		if err == dma.ErrInvalidSize {
			return nil, NewError("BUFFER_CREATE", ErrInvalidArgument, "size must be non-zero")
		}
		return nil, NewError("BUFFER_CREATE", ErrOutOfMemory, err.Error())
	}
	return &Buffer{region: region, refcount: 1}, nil
}

// Map returns a bounds-checked view of the region's bytes in [offset,
// offset+length). Contents are backed by the same slice the accelerator
// side would observe, so mutations through this view are visible there.
func (b *Buffer) Map(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(b.region.Size) {
		return nil, NewError("BUFFER_MAP", ErrInvalidArgument, "window out of bounds")
	}
	return b.region.CPU[offset : offset+length], nil
}

// Size returns the buffer's size in bytes.
func (b *Buffer) Size() uint32 { return b.region.Size }

// DeviceAddr returns the device-visible address backing this buffer, used
// to populate wire-level buffer references.
func (b *Buffer) DeviceAddr() uint32 { return b.region.DeviceAddr }

// Get increments the buffer's refcount. Safe without external locking:
// an increment on an already-held reference needs no lock (§5).
func (b *Buffer) Get() {
	atomic.AddInt32(&b.refcount, 1)
}

// Put decrements the refcount, destroying the buffer and releasing its
// DMA region when it reaches zero.
func (b *Buffer) Put() {
	if atomic.AddInt32(&b.refcount, -1) == 0 {
		b.region.Free()
	}
}

// RefCount returns the current reference count; exposed for tests that
// verify refcount conservation (§8).
func (b *Buffer) RefCount() int32 {
	return atomic.LoadInt32(&b.refcount)
}
