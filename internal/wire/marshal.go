package wire

import "encoding/binary"

// MarshalError reports a wire encode/decode failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrUnknownType      MarshalError = "unknown packet type"
)

// Payload byte sizes, exact — the dispatcher (§4.7) rejects any size
// mismatch as BadMessage rather than accepting a partial payload.
const (
	SizeErrPayload          = 4 + 128
	SizeInferenceReq        = 4 + 16*8 + 4 + 16*8 + 12 + 8 + 4
	SizeInferenceRsp        = 4 + 16*4 + 4 + 8 + 8*8 + 4 + 8
	SizeVersionRsp          = 4
	SizeCapabilitiesRsp     = 13 * 4
	SizeNetworkInfoReq      = 12
	SizeNetworkInfoRsp      = 32 + 4 + 16*4 + 4 + 16*4 + 4
	SizeCancelInferenceReq  = 8
	SizeCancelInferenceRsp  = 4
)

// EncodeHeader writes a Header to the front of a fresh buffer sized for
// header+payloadLen and returns it.
func EncodeHeader(h Header, payloadLen int) []byte {
	buf := make([]byte, HeaderSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Type))
	binary.LittleEndian.PutUint64(buf[8:16], h.MsgID)
	return buf
}

// DecodeHeader reads a Header from the front of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrInsufficientData
	}
	return Header{
		Magic: binary.LittleEndian.Uint32(data[0:4]),
		Type:  PacketType(binary.LittleEndian.Uint32(data[4:8])),
		MsgID: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

func marshalBuffer(buf []byte, b Buffer) {
	binary.LittleEndian.PutUint32(buf[0:4], b.DevicePtr)
	binary.LittleEndian.PutUint32(buf[4:8], b.Size)
}

func unmarshalBuffer(data []byte) Buffer {
	return Buffer{
		DevicePtr: binary.LittleEndian.Uint32(data[0:4]),
		Size:      binary.LittleEndian.Uint32(data[4:8]),
	}
}

func marshalNetworkRef(buf []byte, n NetworkRef) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n.Kind))
	switch n.Kind {
	case NetworkKindIndex:
		binary.LittleEndian.PutUint32(buf[4:8], n.Index)
		binary.LittleEndian.PutUint32(buf[8:12], 0)
	default:
		binary.LittleEndian.PutUint32(buf[4:8], n.DevicePtr)
		binary.LittleEndian.PutUint32(buf[8:12], n.Size)
	}
}

func unmarshalNetworkRef(data []byte) NetworkRef {
	kind := NetworkKind(binary.LittleEndian.Uint32(data[0:4]))
	n := NetworkRef{Kind: kind}
	if kind == NetworkKindIndex {
		n.Index = binary.LittleEndian.Uint32(data[4:8])
	} else {
		n.DevicePtr = binary.LittleEndian.Uint32(data[4:8])
		n.Size = binary.LittleEndian.Uint32(data[8:12])
	}
	return n
}

// MarshalErrPayload encodes an ERR payload.
func MarshalErrPayload(p ErrPayload) []byte {
	buf := make([]byte, SizeErrPayload)
	binary.LittleEndian.PutUint32(buf[0:4], p.ErrType)
	copy(buf[4:], p.Msg[:])
	return buf
}

// UnmarshalErrPayload decodes an ERR payload.
func UnmarshalErrPayload(data []byte) (ErrPayload, error) {
	if len(data) != SizeErrPayload {
		return ErrPayload{}, ErrInsufficientData
	}
	var p ErrPayload
	p.ErrType = binary.LittleEndian.Uint32(data[0:4])
	copy(p.Msg[:], data[4:])
	return p, nil
}

// MarshalInferenceReq encodes an INFERENCE_REQ payload.
func MarshalInferenceReq(p InferenceReq) []byte {
	buf := make([]byte, SizeInferenceReq)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:off+4], p.IFMCount)
	off += 4
	for i := range p.IFM {
		marshalBuffer(buf[off:off+8], p.IFM[i])
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], p.OFMCount)
	off += 4
	for i := range p.OFM {
		marshalBuffer(buf[off:off+8], p.OFM[i])
		off += 8
	}
	marshalNetworkRef(buf[off:off+12], p.Network)
	off += 12
	copy(buf[off:off+8], p.PMUCfg[:])
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], p.CycleCounterEnable)
	off += 4
	return buf
}

// UnmarshalInferenceReq decodes an INFERENCE_REQ payload.
func UnmarshalInferenceReq(data []byte) (InferenceReq, error) {
	if len(data) != SizeInferenceReq {
		return InferenceReq{}, ErrInsufficientData
	}
	var p InferenceReq
	off := 0
	p.IFMCount = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := range p.IFM {
		p.IFM[i] = unmarshalBuffer(data[off : off+8])
		off += 8
	}
	p.OFMCount = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := range p.OFM {
		p.OFM[i] = unmarshalBuffer(data[off : off+8])
		off += 8
	}
	p.Network = unmarshalNetworkRef(data[off : off+12])
	off += 12
	copy(p.PMUCfg[:], data[off:off+8])
	off += 8
	p.CycleCounterEnable = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	return p, nil
}

// MarshalInferenceRsp encodes an INFERENCE_RSP payload.
func MarshalInferenceRsp(p InferenceRsp) []byte {
	buf := make([]byte, SizeInferenceRsp)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:off+4], p.OFMCount)
	off += 4
	for i := range p.OFMSize {
		binary.LittleEndian.PutUint32(buf[off:off+4], p.OFMSize[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.Status))
	off += 4
	copy(buf[off:off+8], p.PMUCfg[:])
	off += 8
	for i := range p.PMUCount {
		binary.LittleEndian.PutUint64(buf[off:off+8], p.PMUCount[i])
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], p.CycleCounterEnable)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], p.CycleCounterCount)
	off += 8
	return buf
}

// UnmarshalInferenceRsp decodes an INFERENCE_RSP payload.
func UnmarshalInferenceRsp(data []byte) (InferenceRsp, error) {
	if len(data) != SizeInferenceRsp {
		return InferenceRsp{}, ErrInsufficientData
	}
	var p InferenceRsp
	off := 0
	p.OFMCount = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := range p.OFMSize {
		p.OFMSize[i] = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	p.Status = Status(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	copy(p.PMUCfg[:], data[off:off+8])
	off += 8
	for i := range p.PMUCount {
		p.PMUCount[i] = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
	}
	p.CycleCounterEnable = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	p.CycleCounterCount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	return p, nil
}

// MarshalVersionRsp encodes a VERSION_RSP payload.
func MarshalVersionRsp(p VersionRsp) []byte {
	buf := make([]byte, SizeVersionRsp)
	buf[0] = p.Major
	buf[1] = p.Minor
	buf[2] = p.Patch
	buf[3] = 0
	return buf
}

// UnmarshalVersionRsp decodes a VERSION_RSP payload.
func UnmarshalVersionRsp(data []byte) (VersionRsp, error) {
	if len(data) != SizeVersionRsp {
		return VersionRsp{}, ErrInsufficientData
	}
	return VersionRsp{Major: data[0], Minor: data[1], Patch: data[2]}, nil
}

// MarshalCapabilitiesRsp encodes a CAPABILITIES_RSP payload.
func MarshalCapabilitiesRsp(p CapabilitiesRsp) []byte {
	buf := make([]byte, SizeCapabilitiesRsp)
	fields := []uint32{
		p.HWVersionMajor, p.HWVersionMinor, p.HWVersionPatch,
		p.DriverVersionMajor, p.DriverVersionMinor, p.DriverVersionPatch,
		p.ProductMajor, p.MACCountPerCycle, p.CmdStreamVersion, p.CustomDMA,
		p.Reserved[0], p.Reserved[1], p.Reserved[2],
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], f)
	}
	return buf
}

// UnmarshalCapabilitiesRsp decodes a CAPABILITIES_RSP payload.
func UnmarshalCapabilitiesRsp(data []byte) (CapabilitiesRsp, error) {
	if len(data) != SizeCapabilitiesRsp {
		return CapabilitiesRsp{}, ErrInsufficientData
	}
	var fields [13]uint32
	for i := range fields {
		fields[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	return CapabilitiesRsp{
		HWVersionMajor: fields[0], HWVersionMinor: fields[1], HWVersionPatch: fields[2],
		DriverVersionMajor: fields[3], DriverVersionMinor: fields[4], DriverVersionPatch: fields[5],
		ProductMajor: fields[6], MACCountPerCycle: fields[7], CmdStreamVersion: fields[8],
		CustomDMA: fields[9], Reserved: [3]uint32{fields[10], fields[11], fields[12]},
	}, nil
}

// MarshalNetworkInfoReq encodes a NETWORK_INFO_REQ payload.
func MarshalNetworkInfoReq(p NetworkInfoReq) []byte {
	buf := make([]byte, SizeNetworkInfoReq)
	marshalNetworkRef(buf, p.Network)
	return buf
}

// UnmarshalNetworkInfoReq decodes a NETWORK_INFO_REQ payload.
func UnmarshalNetworkInfoReq(data []byte) (NetworkInfoReq, error) {
	if len(data) != SizeNetworkInfoReq {
		return NetworkInfoReq{}, ErrInsufficientData
	}
	return NetworkInfoReq{Network: unmarshalNetworkRef(data)}, nil
}

// MarshalNetworkInfoRsp encodes a NETWORK_INFO_RSP payload.
func MarshalNetworkInfoRsp(p NetworkInfoRsp) []byte {
	buf := make([]byte, SizeNetworkInfoRsp)
	off := 0
	copy(buf[off:off+32], p.Desc[:])
	off += 32
	binary.LittleEndian.PutUint32(buf[off:off+4], p.IFMCount)
	off += 4
	for i := range p.IFMSize {
		binary.LittleEndian.PutUint32(buf[off:off+4], p.IFMSize[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], p.OFMCount)
	off += 4
	for i := range p.OFMSize {
		binary.LittleEndian.PutUint32(buf[off:off+4], p.OFMSize[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.Status))
	off += 4
	return buf
}

// UnmarshalNetworkInfoRsp decodes a NETWORK_INFO_RSP payload.
func UnmarshalNetworkInfoRsp(data []byte) (NetworkInfoRsp, error) {
	if len(data) != SizeNetworkInfoRsp {
		return NetworkInfoRsp{}, ErrInsufficientData
	}
	var p NetworkInfoRsp
	off := 0
	copy(p.Desc[:], data[off:off+32])
	off += 32
	p.IFMCount = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := range p.IFMSize {
		p.IFMSize[i] = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	p.OFMCount = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := range p.OFMSize {
		p.OFMSize[i] = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	p.Status = Status(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	return p, nil
}

// MarshalCancelInferenceReq encodes a CANCEL_INFERENCE_REQ payload.
func MarshalCancelInferenceReq(p CancelInferenceReq) []byte {
	buf := make([]byte, SizeCancelInferenceReq)
	binary.LittleEndian.PutUint64(buf[0:8], p.InferenceHandle)
	return buf
}

// UnmarshalCancelInferenceReq decodes a CANCEL_INFERENCE_REQ payload.
func UnmarshalCancelInferenceReq(data []byte) (CancelInferenceReq, error) {
	if len(data) != SizeCancelInferenceReq {
		return CancelInferenceReq{}, ErrInsufficientData
	}
	return CancelInferenceReq{InferenceHandle: binary.LittleEndian.Uint64(data[0:8])}, nil
}

// MarshalCancelInferenceRsp encodes a CANCEL_INFERENCE_RSP payload.
func MarshalCancelInferenceRsp(p CancelInferenceRsp) []byte {
	buf := make([]byte, SizeCancelInferenceRsp)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Status))
	return buf
}

// UnmarshalCancelInferenceRsp decodes a CANCEL_INFERENCE_RSP payload.
func UnmarshalCancelInferenceRsp(data []byte) (CancelInferenceRsp, error) {
	if len(data) != SizeCancelInferenceRsp {
		return CancelInferenceRsp{}, ErrInsufficientData
	}
	return CancelInferenceRsp{Status: Status(binary.LittleEndian.Uint32(data[0:4]))}, nil
}
