package nnrt

import (
	"context"
	"sync"
	"time"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/mailbox"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// pendingRequest is the completion record shared between a request state
// machine and the protocol dispatcher. done is closed exactly once, either
// by Complete (normal response) or FailCallback (firmware crash / mailbox
// shutdown); the close happens-before any read of result/err in doRequest,
// so no additional locking is required across that handoff.
type pendingRequest struct {
	once   sync.Once
	done   chan struct{}
	result []byte
	err    error
}

func (p *pendingRequest) complete(payload []byte) {
	p.once.Do(func() {
		p.result = payload
		close(p.done)
	})
}

func (p *pendingRequest) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// doRequest implements the common shape of §4.5's request state machines:
// register in the mailbox table, send under the device-wide lock (which
// Mailbox.SendBlocking releases and reacquires across suspension), release
// the lock and wait on the completion signal with a fixed timeout, then
// reacquire the lock to read the result and deregister.
func doRequest(ctx context.Context, mb *mailbox.Mailbox, kind mailbox.Kind, op string, msgType wire.PacketType, payload []byte, timeout time.Duration) ([]byte, error) {
	pr := &pendingRequest{done: make(chan struct{})}

	mb.Lock()
	entry, err := mb.RegisterRequest(kind, pr.fail, pr.complete)
	if err != nil {
		mb.Unlock()
		return nil, mapMailboxError(op, err)
	}

	packet := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: msgType, MsgID: uint64(entry.ID)}, len(payload))
	copy(packet[wire.HeaderSize:], payload)

	sendErr := mb.SendBlocking(ctx, packet)
	if sendErr != nil {
		mb.Deregister(entry)
		mb.Unlock()
		return nil, mapMailboxError(op, sendErr)
	}
	mb.Unlock()

	var waitErr error
	select {
	case <-pr.done:
	case <-time.After(timeout):
		waitErr = NewRequestError(op, "", entry.ID, ErrTimeout, "firmware did not respond in time")
		// A missed response deadline is a device-wide fatal condition, not
		// a per-request hiccup: the firmware is considered hung.
		mb.CrashReporter().ReportCrash("response timeout", waitErr)
	case <-ctx.Done():
		waitErr = NewRequestError(op, "", entry.ID, ErrInterrupted, "request cancelled")
	}

	mb.Lock()
	mb.Deregister(entry)
	mb.Unlock()

	if waitErr != nil {
		return nil, waitErr
	}
	if pr.err != nil {
		return nil, mapMailboxError(op, pr.err)
	}
	return pr.result, nil
}

// mapMailboxError translates mailbox sentinel errors into the runtime's
// structured error taxonomy.
func mapMailboxError(op string, err error) error {
	switch err {
	case mailbox.ErrNoDevice:
		return NewError(op, ErrNoDevice, "device shut down")
	case mailbox.ErrTimeout:
		return NewError(op, ErrTimeout, "send timed out")
	case mailbox.ErrInterrupted:
		return NewError(op, ErrInterrupted, "send interrupted")
	case mailbox.ErrOutOfIDs:
		return NewError(op, ErrFaulted, "no correlation ids available")
	case mailbox.ErrNotFound:
		return NewError(op, ErrNotFound, "request not found")
	case mailbox.ErrKindMismatch:
		return NewError(op, ErrKindMismatch, "response kind mismatch")
	default:
		return WrapError(op, err)
	}
}

// RequestVersion performs the Version Check state machine: send
// VERSION_REQ, wait for VERSION_RSP, and validate against the expected
// protocol version.
func RequestVersion(ctx context.Context, mb *mailbox.Mailbox) (wire.VersionRsp, error) {
	payload, err := doRequest(ctx, mb, mailbox.KindVersion, "VERSION_CHECK", wire.TypeVersionReq, nil, constants.VersionTimeout)
	if err != nil {
		return wire.VersionRsp{}, err
	}
	rsp, decErr := wire.UnmarshalVersionRsp(payload)
	if decErr != nil {
		return wire.VersionRsp{}, NewError("VERSION_CHECK", ErrBadMessage, decErr.Error())
	}
	if rsp.Major != constants.ExpectedVersionMajor || rsp.Minor != constants.ExpectedVersionMinor {
		return rsp, NewError("VERSION_CHECK", ErrProtocolError, "unsupported firmware protocol version")
	}
	return rsp, nil
}

// RequestCapabilities performs the Capabilities query state machine.
func RequestCapabilities(ctx context.Context, mb *mailbox.Mailbox) (wire.CapabilitiesRsp, error) {
	payload, err := doRequest(ctx, mb, mailbox.KindCapabilities, "CAPABILITIES", wire.TypeCapabilitiesReq, nil, constants.CapabilitiesTimeout)
	if err != nil {
		return wire.CapabilitiesRsp{}, err
	}
	rsp, decErr := wire.UnmarshalCapabilitiesRsp(payload)
	if decErr != nil {
		return wire.CapabilitiesRsp{}, NewError("CAPABILITIES", ErrBadMessage, decErr.Error())
	}
	return rsp, nil
}

// RequestNetworkInfo performs the Network-Info query state machine,
// validating the response against FD_MAX and NUL-termination constraints.
func RequestNetworkInfo(ctx context.Context, mb *mailbox.Mailbox, n *Network) (wire.NetworkInfoRsp, error) {
	req := wire.NetworkInfoReq{Network: n.Ref()}
	payload := wire.MarshalNetworkInfoReq(req)

	raw, err := doRequest(ctx, mb, mailbox.KindNetworkInfo, "NETWORK_INFO", wire.TypeNetworkInfoReq, payload, constants.NetworkInfoTimeout)
	if err != nil {
		return wire.NetworkInfoRsp{}, err
	}
	rsp, decErr := wire.UnmarshalNetworkInfoRsp(raw)
	if decErr != nil {
		return wire.NetworkInfoRsp{}, NewError("NETWORK_INFO", ErrBadMessage, decErr.Error())
	}
	if rsp.IFMCount > constants.FDMax || rsp.OFMCount > constants.FDMax {
		return rsp, NewError("NETWORK_INFO", ErrTooManyFiles, "ifm/ofm count exceeds FD_MAX")
	}
	if !nulTerminated(rsp.Desc[:]) {
		return rsp, NewError("NETWORK_INFO", ErrMessageTooLong, "description not NUL-terminated")
	}
	if rsp.Status != wire.StatusOK {
		return rsp, NewError("NETWORK_INFO", ErrBadFile, "firmware reported network-info failure")
	}
	return rsp, nil
}

func nulTerminated(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}

// RequestCancelInference performs the Cancel-Inference state machine
// against a running inference's handle (its correlation id).
func RequestCancelInference(ctx context.Context, mb *mailbox.Mailbox, inferenceHandle uint64) (wire.CancelInferenceRsp, error) {
	payload := wire.MarshalCancelInferenceReq(wire.CancelInferenceReq{InferenceHandle: inferenceHandle})
	raw, err := doRequest(ctx, mb, mailbox.KindCancelInference, "CANCEL_INFERENCE", wire.TypeCancelInferenceReq, payload, constants.CancelInferenceTimeout)
	if err != nil {
		return wire.CancelInferenceRsp{}, err
	}
	rsp, decErr := wire.UnmarshalCancelInferenceRsp(raw)
	if decErr != nil {
		return wire.CancelInferenceRsp{}, NewError("CANCEL_INFERENCE", ErrBadMessage, decErr.Error())
	}
	return rsp, nil
}
