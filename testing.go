package nnrt

import (
	"context"
	"errors"
	"sync"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/transport"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// ErrTransportClosed is returned by MockTransport operations after Close.
var ErrTransportClosed = errors.New("nnrt: mock transport closed")

// MockTransport is an in-process Transport double with a configurable
// transmit-slot pool and call tracking. Tests drive the firmware side by
// delivering response packets with Deliver, or by attaching a
// StubFirmware that answers automatically.
type MockTransport struct {
	mu        sync.Mutex
	slots     int // -1 means unlimited
	sent      [][]byte
	onSend    func(packet []byte)
	closed    bool
	sendCalls int
	noSlot    int

	rx     chan []byte
	closeC chan struct{}
}

// NewMockTransport creates a transport double with unlimited transmit slots.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		slots:  -1,
		rx:     make(chan []byte, 64),
		closeC: make(chan struct{}),
	}
}

// SetSlots fixes the number of available transmit slots. Each successful
// TrySend consumes one; AddSlot returns one.
func (m *MockTransport) SetSlots(n int) {
	m.mu.Lock()
	m.slots = n
	m.mu.Unlock()
}

// AddSlot frees one transmit slot.
func (m *MockTransport) AddSlot() {
	m.mu.Lock()
	if m.slots >= 0 {
		m.slots++
	}
	m.mu.Unlock()
}

// OnSend installs a callback invoked (outside the transport's lock) with
// a copy of every successfully sent packet.
func (m *MockTransport) OnSend(fn func(packet []byte)) {
	m.mu.Lock()
	m.onSend = fn
	m.mu.Unlock()
}

// TrySend implements Transport.
func (m *MockTransport) TrySend(packet []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrTransportClosed
	}
	m.sendCalls++
	if m.slots == 0 {
		m.noSlot++
		m.mu.Unlock()
		return transport.ErrNoSlot
	}
	if m.slots > 0 {
		m.slots--
	}
	cp := append([]byte(nil), packet...)
	m.sent = append(m.sent, cp)
	cb := m.onSend
	m.mu.Unlock()

	if cb != nil {
		cb(cp)
	}
	return nil
}

// Deliver queues a packet for the host's receive loop, as if firmware
// had sent it.
func (m *MockTransport) Deliver(packet []byte) {
	cp := append([]byte(nil), packet...)
	select {
	case m.rx <- cp:
	case <-m.closeC:
	}
}

// Recv implements Transport.
func (m *MockTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closeC:
		return nil, ErrTransportClosed
	case p := <-m.rx:
		return p, nil
	}
}

// Close implements Transport. Idempotent.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closeC)
	}
	return nil
}

// Sent returns copies of every packet sent so far.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// SendCalls returns how many times TrySend was invoked, including
// attempts rejected for want of a slot.
func (m *MockTransport) SendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

// NoSlotCalls returns how many TrySend attempts found no transmit slot.
func (m *MockTransport) NoSlotCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noSlot
}

// Compile-time interface check
var _ Transport = (*MockTransport)(nil)

// StubFirmware emulates the accelerator firmware behind a MockTransport:
// it decodes each request the host sends and delivers a canned response,
// so the full request/response cycle is testable without hardware.
//
// Fields are read under the stub's lock on every request; tests may
// mutate them between operations via their setters.
type StubFirmware struct {
	mu sync.Mutex
	tr *MockTransport

	version      wire.VersionRsp
	capabilities wire.CapabilitiesRsp
	networkInfo  wire.NetworkInfoRsp

	// autoRespond controls whether INFERENCE_REQ is answered immediately
	// with inferenceRsp. When false, requests accumulate and the test
	// completes them explicitly via CompleteInference.
	autoRespond  bool
	inferenceRsp wire.InferenceRsp

	// respondToCancel controls whether CANCEL_INFERENCE_REQ is answered.
	respondToCancel bool
	cancelRsp       wire.CancelInferenceRsp

	inferences []PendingInference
	cancels    []PendingCancel
	pings      int
}

// PendingInference records one INFERENCE_REQ the stub received.
type PendingInference struct {
	MsgID uint64
	Req   wire.InferenceReq
}

// PendingCancel records one CANCEL_INFERENCE_REQ the stub received.
type PendingCancel struct {
	MsgID  uint64
	Handle uint64
}

// NewStubFirmware attaches a firmware emulator to tr. Defaults: the
// expected protocol version, empty capabilities, a valid one-in/one-out
// network-info, immediate OK inference responses, and OK cancels.
func NewStubFirmware(tr *MockTransport) *StubFirmware {
	fw := &StubFirmware{
		tr:      tr,
		version: wire.VersionRsp{Major: constants.ExpectedVersionMajor, Minor: constants.ExpectedVersionMinor, Patch: 0},
		networkInfo: wire.NetworkInfoRsp{
			IFMCount: 1,
			OFMCount: 1,
			Status:   wire.StatusOK,
		},
		autoRespond:     true,
		inferenceRsp:    wire.InferenceRsp{Status: wire.StatusOK, OFMCount: 1},
		respondToCancel: true,
		cancelRsp:       wire.CancelInferenceRsp{Status: wire.StatusOK},
	}
	copy(fw.networkInfo.Desc[:], "stub-network")
	tr.OnSend(fw.handle)
	return fw
}

// SetVersion overrides the VERSION_RSP the stub reports.
func (fw *StubFirmware) SetVersion(v wire.VersionRsp) {
	fw.mu.Lock()
	fw.version = v
	fw.mu.Unlock()
}

// SetCapabilities overrides the CAPABILITIES_RSP the stub reports.
func (fw *StubFirmware) SetCapabilities(c wire.CapabilitiesRsp) {
	fw.mu.Lock()
	fw.capabilities = c
	fw.mu.Unlock()
}

// SetNetworkInfo overrides the NETWORK_INFO_RSP the stub reports.
func (fw *StubFirmware) SetNetworkInfo(n wire.NetworkInfoRsp) {
	fw.mu.Lock()
	fw.networkInfo = n
	fw.mu.Unlock()
}

// SetInferenceResponse overrides the INFERENCE_RSP body used for
// auto-responses (the msg_id is filled per request).
func (fw *StubFirmware) SetInferenceResponse(r wire.InferenceRsp) {
	fw.mu.Lock()
	fw.inferenceRsp = r
	fw.mu.Unlock()
}

// SetAutoRespond toggles immediate inference responses.
func (fw *StubFirmware) SetAutoRespond(auto bool) {
	fw.mu.Lock()
	fw.autoRespond = auto
	fw.mu.Unlock()
}

// SetRespondToCancel toggles cancel responses; disable it to exercise
// the cancel-timeout path.
func (fw *StubFirmware) SetRespondToCancel(respond bool) {
	fw.mu.Lock()
	fw.respondToCancel = respond
	fw.mu.Unlock()
}

// SetCancelResponse overrides the CANCEL_INFERENCE_RSP status.
func (fw *StubFirmware) SetCancelResponse(r wire.CancelInferenceRsp) {
	fw.mu.Lock()
	fw.cancelRsp = r
	fw.mu.Unlock()
}

// Inferences returns the INFERENCE_REQs received so far.
func (fw *StubFirmware) Inferences() []PendingInference {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]PendingInference(nil), fw.inferences...)
}

// Cancels returns the CANCEL_INFERENCE_REQs received so far.
func (fw *StubFirmware) Cancels() []PendingCancel {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]PendingCancel(nil), fw.cancels...)
}

// Pings returns how many PINGs the stub received.
func (fw *StubFirmware) Pings() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.pings
}

// CompleteInference delivers an INFERENCE_RSP for the given correlation
// id; used with SetAutoRespond(false) to control completion timing.
func (fw *StubFirmware) CompleteInference(msgID uint64, rsp wire.InferenceRsp) {
	fw.deliver(wire.TypeInferenceRsp, msgID, wire.MarshalInferenceRsp(rsp))
}

// CompleteCancel delivers a CANCEL_INFERENCE_RSP for the given
// correlation id of the cancel request.
func (fw *StubFirmware) CompleteCancel(msgID uint64, rsp wire.CancelInferenceRsp) {
	fw.deliver(wire.TypeCancelInferenceRsp, msgID, wire.MarshalCancelInferenceRsp(rsp))
}

// Crash delivers an ERR packet carrying msg, as a crashing firmware would.
func (fw *StubFirmware) Crash(msg string) {
	var p wire.ErrPayload
	p.ErrType = 1
	copy(p.Msg[:len(p.Msg)-1], msg)
	fw.deliver(wire.TypeErr, 0, wire.MarshalErrPayload(p))
}

func (fw *StubFirmware) deliver(typ wire.PacketType, msgID uint64, payload []byte) {
	packet := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: typ, MsgID: msgID}, len(payload))
	copy(packet[wire.HeaderSize:], payload)
	fw.tr.Deliver(packet)
}

func (fw *StubFirmware) handle(packet []byte) {
	hdr, err := wire.DecodeHeader(packet)
	if err != nil {
		return
	}
	payload := packet[wire.HeaderSize:]

	fw.mu.Lock()
	defer fw.mu.Unlock()

	switch hdr.Type {
	case wire.TypeVersionReq:
		rsp := wire.MarshalVersionRsp(fw.version)
		fw.deliverLocked(wire.TypeVersionRsp, hdr.MsgID, rsp)

	case wire.TypeCapabilitiesReq:
		rsp := wire.MarshalCapabilitiesRsp(fw.capabilities)
		fw.deliverLocked(wire.TypeCapabilitiesRsp, hdr.MsgID, rsp)

	case wire.TypeNetworkInfoReq:
		rsp := wire.MarshalNetworkInfoRsp(fw.networkInfo)
		fw.deliverLocked(wire.TypeNetworkInfoRsp, hdr.MsgID, rsp)

	case wire.TypeInferenceReq:
		req, decErr := wire.UnmarshalInferenceReq(payload)
		if decErr != nil {
			return
		}
		fw.inferences = append(fw.inferences, PendingInference{MsgID: hdr.MsgID, Req: req})
		if fw.autoRespond {
			rsp := fw.inferenceRsp
			rsp.PMUCfg = req.PMUCfg
			rsp.CycleCounterEnable = req.CycleCounterEnable
			fw.deliverLocked(wire.TypeInferenceRsp, hdr.MsgID, wire.MarshalInferenceRsp(rsp))
		}

	case wire.TypeCancelInferenceReq:
		req, decErr := wire.UnmarshalCancelInferenceReq(payload)
		if decErr != nil {
			return
		}
		fw.cancels = append(fw.cancels, PendingCancel{MsgID: hdr.MsgID, Handle: req.InferenceHandle})
		if fw.respondToCancel {
			fw.deliverLocked(wire.TypeCancelInferenceRsp, hdr.MsgID, wire.MarshalCancelInferenceRsp(fw.cancelRsp))
		}

	case wire.TypePing:
		fw.pings++
		fw.deliverLocked(wire.TypePong, 0, nil)
	}
}

func (fw *StubFirmware) deliverLocked(typ wire.PacketType, msgID uint64, payload []byte) {
	packet := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: typ, MsgID: msgID}, len(payload))
	copy(packet[wire.HeaderSize:], payload)
	fw.tr.Deliver(packet)
}
