package wire

import (
	"unsafe"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
)

// Buffer is the wire representation of one DMA-backed buffer reference.
type Buffer struct {
	DevicePtr uint32
	Size      uint32
}

// Compile-time size check: 8 bytes on the wire.
var _ [8]byte = [unsafe.Sizeof(Buffer{})]byte{}

// NetworkRef is the wire representation of a network reference: either a
// DMA buffer (kind=BUFFER) or a firmware-resident model index (kind=INDEX).
type NetworkRef struct {
	Kind      NetworkKind
	DevicePtr uint32 // valid when Kind == NetworkKindBuffer
	Size      uint32 // valid when Kind == NetworkKindBuffer
	Index     uint32 // valid when Kind == NetworkKindIndex
}

// ErrPayload is the ERR packet body: a firmware-reported fatal condition.
type ErrPayload struct {
	ErrType uint32
	Msg     [constants.ErrMsgLen]byte
}

// InferenceReq is the INFERENCE_REQ packet body.
type InferenceReq struct {
	IFMCount            uint32
	IFM                 [constants.BufferMax]Buffer
	OFMCount            uint32
	OFM                 [constants.BufferMax]Buffer
	Network             NetworkRef
	PMUCfg              [constants.PMUMax]uint8
	CycleCounterEnable  uint32
}

// InferenceRsp is the INFERENCE_RSP packet body.
type InferenceRsp struct {
	OFMCount           uint32
	OFMSize            [constants.BufferMax]uint32
	Status             Status
	PMUCfg             [constants.PMUMax]uint8
	PMUCount           [constants.PMUMax]uint64
	CycleCounterEnable uint32
	CycleCounterCount  uint64
}

// VersionRsp is the VERSION_RSP packet body.
type VersionRsp struct {
	Major uint8
	Minor uint8
	Patch uint8
	_pad  uint8
}

// CapabilitiesRsp is the CAPABILITIES_RSP packet body: 13 x u32.
type CapabilitiesRsp struct {
	HWVersionMajor    uint32
	HWVersionMinor    uint32
	HWVersionPatch    uint32
	DriverVersionMajor uint32
	DriverVersionMinor uint32
	DriverVersionPatch uint32
	ProductMajor      uint32
	MACCountPerCycle  uint32
	CmdStreamVersion  uint32
	CustomDMA         uint32
	Reserved          [3]uint32
}

// NetworkInfoReq is the NETWORK_INFO_REQ packet body.
type NetworkInfoReq struct {
	Network NetworkRef
}

// NetworkInfoRsp is the NETWORK_INFO_RSP packet body.
type NetworkInfoRsp struct {
	Desc     [constants.NetworkDescLen]byte
	IFMCount uint32
	IFMSize  [constants.FDMax]uint32
	OFMCount uint32
	OFMSize  [constants.FDMax]uint32
	Status   Status
}

// CancelInferenceReq is the CANCEL_INFERENCE_REQ packet body.
type CancelInferenceReq struct {
	InferenceHandle uint64
}

// CancelInferenceRsp is the CANCEL_INFERENCE_RSP packet body.
type CancelInferenceRsp struct {
	Status Status
}
