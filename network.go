package nnrt

import (
	"sync/atomic"

	"github.com/behrlich/rpmsg-nnrt/internal/dma"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// Network represents a loaded model, either firmware-resident (selected by
// index) or user-supplied (copied into a fresh DMA region at creation
// time). Exactly one of region/index is meaningful, matching Kind.
type Network struct {
	kind     wire.NetworkKind
	region   *dma.Region
	index    uint32
	refcount int32
}

// CreateNetworkFromIndex creates a Network referring to a firmware-resident
// model selected by numeric index.
func CreateNetworkFromIndex(index uint32) *Network {
	return &Network{kind: wire.NetworkKindIndex, index: index, refcount: 1}
}

// CreateNetworkFromBuffer copies payload into a freshly allocated DMA
// region and creates a Network wrapping it. The caller's payload slice is
// not retained past this call.
func CreateNetworkFromBuffer(payload []byte) (*Network, error) {
	if len(payload) == 0 {
		return nil, NewError("NETWORK_CREATE", ErrInvalidArgument, "payload must be non-empty")
	}
	region, err := dma.Alloc(uint32(len(payload)))
	if err != nil {
		return nil, NewError("NETWORK_CREATE", ErrOutOfMemory, err.Error())
	}
	copy(region.CPU, payload)
	return &Network{kind: wire.NetworkKindBuffer, region: region, refcount: 1}, nil
}

// Kind reports which NetworkRef variant this network populates on the wire.
func (n *Network) Kind() wire.NetworkKind { return n.kind }

// Ref builds the wire-level NetworkRef describing this network, for
// embedding in NETWORK_INFO_REQ and INFERENCE_REQ packets.
func (n *Network) Ref() wire.NetworkRef {
	switch n.kind {
	case wire.NetworkKindIndex:
		return wire.NetworkRef{Kind: n.kind, Index: n.index}
	default:
		return wire.NetworkRef{Kind: n.kind, DevicePtr: n.region.DeviceAddr, Size: n.region.Size}
	}
}

// Get increments the network's refcount.
func (n *Network) Get() {
	atomic.AddInt32(&n.refcount, 1)
}

// Put decrements the refcount, releasing the backing DMA region (if any)
// when it reaches zero. Index-backed networks have nothing to release.
func (n *Network) Put() {
	if atomic.AddInt32(&n.refcount, -1) == 0 && n.region != nil {
		n.region.Free()
	}
}

// RefCount returns the current reference count.
func (n *Network) RefCount() int32 {
	return atomic.LoadInt32(&n.refcount)
}
