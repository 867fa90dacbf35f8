// Package wire defines the rpmsg wire protocol: the 16-byte packet header,
// the per-type payload structs, and their manual little-endian
// marshal/unmarshal functions.
package wire

import "github.com/behrlich/rpmsg-nnrt/internal/constants"

// PacketType identifies the payload that follows a Header.
type PacketType uint32

const (
	TypeErr                 PacketType = 1
	TypePing                PacketType = 2
	TypePong                PacketType = 3
	TypeInferenceReq        PacketType = 4
	TypeInferenceRsp        PacketType = 5
	TypeVersionReq          PacketType = 6
	TypeVersionRsp          PacketType = 7
	TypeCapabilitiesReq     PacketType = 8
	TypeCapabilitiesRsp     PacketType = 9
	TypeNetworkInfoReq      PacketType = 10
	TypeNetworkInfoRsp      PacketType = 11
	TypeCancelInferenceReq  PacketType = 12
	TypeCancelInferenceRsp  PacketType = 13
)

func (t PacketType) String() string {
	switch t {
	case TypeErr:
		return "ERR"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeInferenceReq:
		return "INFERENCE_REQ"
	case TypeInferenceRsp:
		return "INFERENCE_RSP"
	case TypeVersionReq:
		return "VERSION_REQ"
	case TypeVersionRsp:
		return "VERSION_RSP"
	case TypeCapabilitiesReq:
		return "CAPABILITIES_REQ"
	case TypeCapabilitiesRsp:
		return "CAPABILITIES_RSP"
	case TypeNetworkInfoReq:
		return "NETWORK_INFO_REQ"
	case TypeNetworkInfoRsp:
		return "NETWORK_INFO_RSP"
	case TypeCancelInferenceReq:
		return "CANCEL_INFERENCE_REQ"
	case TypeCancelInferenceRsp:
		return "CANCEL_INFERENCE_RSP"
	default:
		return "UNKNOWN"
	}
}

// Status is the response status code carried by several response payloads.
type Status uint32

const (
	StatusOK       Status = 0
	StatusError    Status = 1
	StatusRunning  Status = 2
	StatusRejected Status = 3
	StatusAborted  Status = 4
	StatusAborting Status = 5
)

// NetworkKind selects which variant of NetworkRef is populated.
type NetworkKind uint32

const (
	NetworkKindBuffer NetworkKind = 1
	NetworkKindIndex  NetworkKind = 2
)

// HeaderSize is the fixed size, in bytes, of every packet's header.
const HeaderSize = 16

// Header is the common prefix of every packet in both directions.
type Header struct {
	Magic uint32
	Type  PacketType
	MsgID uint64
}

// MagicOK reports whether the header's magic matches the expected constant.
func (h Header) MagicOK() bool {
	return h.Magic == constants.WireMagic
}
