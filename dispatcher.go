package nnrt

import (
	"fmt"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/interfaces"
	"github.com/behrlich/rpmsg-nnrt/internal/logging"
	"github.com/behrlich/rpmsg-nnrt/internal/mailbox"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// Dispatcher is the single entry point for inbound packets: it validates
// the header, routes response packets to their waiter by kind-matched
// correlation id, and handles the unsolicited PING/PONG/ERR packet types.
type Dispatcher struct {
	mb        *mailbox.Mailbox
	transport interfaces.Transport
	logger    *logging.Logger
	crash     interfaces.CrashReporter
}

// NewDispatcher builds a Dispatcher bound to a mailbox and the transport
// used to answer PING with PONG.
func NewDispatcher(mb *mailbox.Mailbox, transport interfaces.Transport, logger *logging.Logger, crash interfaces.CrashReporter) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if crash == nil {
		crash = interfaces.NoOpCrashReporter{}
	}
	return &Dispatcher{mb: mb, transport: transport, logger: logger, crash: crash}
}

// responseKind maps a response packet type to the mailbox Kind it must
// kind-match against in the outstanding-request table.
var responseKind = map[wire.PacketType]mailbox.Kind{
	wire.TypeVersionRsp:         mailbox.KindVersion,
	wire.TypeCapabilitiesRsp:    mailbox.KindCapabilities,
	wire.TypeNetworkInfoRsp:     mailbox.KindNetworkInfo,
	wire.TypeInferenceRsp:       mailbox.KindInference,
	wire.TypeCancelInferenceRsp: mailbox.KindCancelInference,
}

// expectedSize returns the exact payload size required for a response
// packet type; the dispatcher rejects any mismatch as BadMessage rather
// than accepting a partial payload.
var expectedSize = map[wire.PacketType]int{
	wire.TypeVersionRsp:         wire.SizeVersionRsp,
	wire.TypeCapabilitiesRsp:    wire.SizeCapabilitiesRsp,
	wire.TypeNetworkInfoRsp:     wire.SizeNetworkInfoRsp,
	wire.TypeInferenceRsp:       wire.SizeInferenceRsp,
	wire.TypeCancelInferenceRsp: wire.SizeCancelInferenceRsp,
}

// OnPacket processes one inbound packet. It is the callback a Transport's
// receive loop invokes for every packet it reads.
func (d *Dispatcher) OnPacket(data []byte) error {
	// A packet arriving means the transport drained at least one message;
	// a transmit slot may have freed up with it.
	defer d.mb.WakeSender()

	hdr, err := wire.DecodeHeader(data)
	if err != nil {
		d.logger.Warn("dropping undersized packet", "len", len(data))
		return NewError("DISPATCH", ErrBadMessage, "packet shorter than header")
	}
	if !hdr.MagicOK() {
		d.logger.Warn("dropping packet with bad magic", "magic", hdr.Magic)
		return NewError("DISPATCH", ErrBadMessage, "bad magic")
	}

	payload := data[wire.HeaderSize:]

	switch hdr.Type {
	case wire.TypeErr:
		return d.handleErr(payload)
	case wire.TypePing:
		return d.handlePing()
	case wire.TypePong:
		d.logger.Debug("received unsolicited pong")
		return nil
	default:
		kind, ok := responseKind[hdr.Type]
		if !ok {
			return NewError("DISPATCH", ErrProtocolError, fmt.Sprintf("unexpected packet type %s", hdr.Type))
		}
		return d.handleResponse(hdr, kind, payload)
	}
}

func (d *Dispatcher) handleErr(payload []byte) error {
	errPayload, err := wire.UnmarshalErrPayload(payload)
	if err != nil {
		return NewError("DISPATCH", ErrBadMessage, "malformed ERR payload")
	}
	msg := nulTerminatedString(errPayload.Msg[:])
	reason := NewError("FIRMWARE_CRASH", ErrFaulted, msg)
	d.crash.ReportCrash(msg, reason)
	d.mb.FailAll(reason)
	return nil
}

func (d *Dispatcher) handlePing() error {
	pong := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: wire.TypePong, MsgID: 0}, 0)
	if err := d.transport.TrySend(pong); err != nil {
		d.logger.Warn("failed to answer ping with pong", "error", err)
	}
	return nil
}

func (d *Dispatcher) handleResponse(hdr wire.Header, kind mailbox.Kind, payload []byte) error {
	expected, known := expectedSize[hdr.Type]
	if known && len(payload) != expected {
		return NewError("DISPATCH", ErrBadMessage, fmt.Sprintf("%s payload size %d, want %d", hdr.Type, len(payload), expected))
	}

	d.mb.Lock()
	entry, err := d.mb.Find(int64(hdr.MsgID), kind)
	d.mb.Unlock()
	if err != nil {
		// Stale or already-timed-out responses are logged and discarded
		// without state mutation; the kind-matched lookup already failed.
		d.logger.Debug("discarding response for unknown or mismatched request", "msg_id", hdr.MsgID, "type", hdr.Type)
		return nil
	}

	cp := append([]byte(nil), payload...)
	if entry.Complete != nil {
		entry.Complete(cp)
	}
	return nil
}

func nulTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
