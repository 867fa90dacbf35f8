package nnrt

import (
	"context"
	"sync/atomic"
	"syscall"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/mailbox"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// PMUConfig selects which accelerator performance counters an inference
// collects. Events fills the first PMUEventMax slots of the wire-level
// config array; the remainder is reserved.
type PMUConfig struct {
	Events             [constants.PMUEventMax]uint8
	CycleCounterEnable bool
}

// Inference is a long-running accelerator job: one execution of a Network
// against a set of IFM buffers, producing OFM buffers. It holds strong
// references to every participating buffer and to the network for its
// whole lifetime, and is itself reference counted: the creator holds one
// reference, and the mailbox holds one from just before the send until the
// response or failure broadcast arrives (dropped again if the send fails).
//
// All mutable state below the refcount is guarded by the device-wide
// serialization lock (the mailbox's).
type Inference struct {
	mb       *mailbox.Mailbox
	entry    *mailbox.Entry
	network  *Network
	ifm      []*Buffer
	ofm      []*Buffer
	refcount int32

	status      wire.Status
	pmuCfg      [constants.PMUMax]uint8
	pmuCount    [constants.PMUMax]uint64
	cycleEnable uint32
	cycleCount  uint64
	ofmCount    uint32
	ofmSize     [constants.BufferMax]uint32
	done        bool
	doneCh      chan struct{}

	// onDone, if set, observes the terminal status. Invoked once, with the
	// lock held; must not block or call back into the mailbox.
	onDone func(status wire.Status)
}

// InferenceStatus is a point-in-time snapshot of an inference's progress
// and collected PMU counters. If Done is false the counters may be zero.
type InferenceStatus struct {
	Status             wire.Status
	Done               bool
	PMUEventConfig     [constants.PMUEventMax]uint8
	PMUEventCount      [constants.PMUEventMax]uint64
	CycleCounterEnable bool
	CycleCounterCount  uint64

	// OFMSize carries the firmware-reported size of each output feature
	// map, populated when the inference completed OK. It can legitimately
	// differ from the size the OFM buffer was created with.
	OFMSize []uint32
}

// StartInference validates the buffer lists, registers in the mailbox,
// acquires references on every participant, and sends the inference
// request. On success the returned inference is RUNNING and the caller
// owns one reference (release it with Put).
func StartInference(ctx context.Context, mb *mailbox.Mailbox, network *Network, ifm, ofm []*Buffer, pmu PMUConfig) (*Inference, error) {
	return startInference(ctx, mb, network, ifm, ofm, pmu, nil)
}

// startInference is StartInference plus a terminal-status observer. The
// observer must be installed before the send: a response can complete
// the inference before the creator regains control.
func startInference(ctx context.Context, mb *mailbox.Mailbox, network *Network, ifm, ofm []*Buffer, pmu PMUConfig, onDone func(wire.Status)) (*Inference, error) {
	if len(ifm) > constants.FDMax || len(ofm) > constants.FDMax {
		return nil, NewError("INFERENCE_CREATE", ErrFaulted, "too many feature map buffers")
	}

	inf := &Inference{
		mb:       mb,
		network:  network,
		ifm:      append([]*Buffer(nil), ifm...),
		ofm:      append([]*Buffer(nil), ofm...),
		refcount: 1,
		status:   wire.StatusError,
		doneCh:   make(chan struct{}),
		onDone:   onDone,
	}
	copy(inf.pmuCfg[:], pmu.Events[:])
	if pmu.CycleCounterEnable {
		inf.cycleEnable = 1
	}

	mb.Lock()
	entry, err := mb.RegisterRequest(mailbox.KindInference, inf.failCallback, inf.handleResponse)
	if err != nil {
		mb.Unlock()
		return nil, mapMailboxError("INFERENCE_CREATE", err)
	}
	inf.entry = entry

	for _, b := range inf.ifm {
		b.Get()
	}
	for _, b := range inf.ofm {
		b.Get()
	}
	network.Get()

	req := wire.InferenceReq{
		IFMCount:           uint32(len(inf.ifm)),
		OFMCount:           uint32(len(inf.ofm)),
		Network:            network.Ref(),
		PMUCfg:             inf.pmuCfg,
		CycleCounterEnable: inf.cycleEnable,
	}
	for i, b := range inf.ifm {
		req.IFM[i] = wire.Buffer{DevicePtr: b.DeviceAddr(), Size: b.Size()}
	}
	for i, b := range inf.ofm {
		req.OFM[i] = wire.Buffer{DevicePtr: b.DeviceAddr(), Size: b.Size()}
	}

	payload := wire.MarshalInferenceReq(req)
	packet := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: wire.TypeInferenceReq, MsgID: uint64(entry.ID)}, len(payload))
	copy(packet[wire.HeaderSize:], payload)

	// The mailbox owns a reference until the response or fail broadcast.
	// It must be in place before the send: SendBlocking releases the lock
	// while transmitting, and the response can race in through that window.
	inf.get()
	inf.status = wire.StatusRunning

	if sendErr := mb.SendBlocking(ctx, packet); sendErr != nil {
		if inf.done {
			// A failure broadcast raced the send attempt and already
			// consumed the mailbox's reference; drop only the creator's.
			mb.Unlock()
			inf.Put()
			return nil, mapMailboxError("INFERENCE_CREATE", sendErr)
		}
		inf.status = wire.StatusError
		mb.Deregister(entry)
		mb.Unlock()
		inf.Put() // mailbox's reference
		inf.Put() // creator's reference; releases buffers and network
		return nil, mapMailboxError("INFERENCE_CREATE", sendErr)
	}
	mb.Unlock()

	return inf, nil
}

// CorrelationID returns the inference's correlation id, which doubles as
// its wire-level handle in CANCEL_INFERENCE_REQ.
func (inf *Inference) CorrelationID() int64 { return inf.entry.ID }

// handleResponse is the mailbox completion callback, invoked by the
// protocol dispatcher when INFERENCE_RSP arrives.
func (inf *Inference) handleResponse(payload []byte) {
	rsp, decErr := wire.UnmarshalInferenceRsp(payload)

	inf.mb.Lock()
	if inf.done {
		inf.mb.Unlock()
		return
	}

	switch {
	case decErr != nil:
		inf.status = wire.StatusError
	case inf.status == wire.StatusAborting || inf.status == wire.StatusAborted:
		// A cancel latched ABORTING; the job's own outcome no longer matters.
		inf.status = wire.StatusAborted
	case rsp.Status == wire.StatusOK && rsp.OFMCount <= constants.BufferMax:
		inf.status = wire.StatusOK
		inf.pmuCfg = rsp.PMUCfg
		inf.pmuCount = rsp.PMUCount
		inf.cycleEnable = rsp.CycleCounterEnable
		inf.cycleCount = rsp.CycleCounterCount
		inf.ofmCount = rsp.OFMCount
		inf.ofmSize = rsp.OFMSize
	case rsp.Status == wire.StatusRejected:
		inf.status = wire.StatusRejected
	case rsp.Status == wire.StatusAborted:
		inf.status = wire.StatusAborted
	default:
		inf.status = wire.StatusError
	}

	inf.completeLocked()
	inf.mb.Unlock()

	inf.Put()
}

// failCallback is invoked by the mailbox failure broadcast on firmware
// crash or teardown.
func (inf *Inference) failCallback(err error) {
	inf.mb.Lock()
	if inf.done {
		inf.mb.Unlock()
		return
	}
	if inf.status == wire.StatusAborting {
		inf.status = wire.StatusAborted
	} else {
		inf.status = wire.StatusError
	}
	inf.completeLocked()
	inf.mb.Unlock()

	inf.Put()
}

func (inf *Inference) completeLocked() {
	inf.done = true
	if inf.onDone != nil {
		inf.onDone(inf.status)
	}
	close(inf.doneCh)
}

// Done reports whether the inference has reached a terminal state. Once
// true it never becomes false again.
func (inf *Inference) Done() bool {
	inf.mb.Lock()
	defer inf.mb.Unlock()
	return inf.done
}

// DoneChan returns a channel closed exactly once when the inference
// reaches a terminal state; the poll surface.
func (inf *Inference) DoneChan() <-chan struct{} { return inf.doneCh }

// Wait blocks until the inference is done or ctx is cancelled.
func (inf *Inference) Wait(ctx context.Context) error {
	select {
	case <-inf.doneCh:
		return nil
	case <-ctx.Done():
		return NewError("INFERENCE_WAIT", ErrInterrupted, "wait cancelled")
	}
}

// Status returns a snapshot of the inference's state and PMU counters.
func (inf *Inference) Status() InferenceStatus {
	inf.mb.Lock()
	defer inf.mb.Unlock()

	st := InferenceStatus{
		Status:             inf.status,
		Done:               inf.done,
		CycleCounterEnable: inf.cycleEnable != 0,
		CycleCounterCount:  inf.cycleCount,
	}
	copy(st.PMUEventConfig[:], inf.pmuCfg[:constants.PMUEventMax])
	copy(st.PMUEventCount[:], inf.pmuCount[:constants.PMUEventMax])

	n := inf.ofmCount
	if n > constants.BufferMax {
		n = constants.BufferMax
	}
	if n > 0 {
		st.OFMSize = append([]uint32(nil), inf.ofmSize[:n]...)
	}
	return st
}

// Cancel runs the cancel sub-protocol against this inference. The
// returned status is the user-visible cancel outcome: StatusOK when
// firmware acknowledged the abort, StatusError when the inference had
// already finished or the cancel itself failed.
func (inf *Inference) Cancel(ctx context.Context) (wire.Status, error) {
	inf.mb.Lock()
	if inf.done {
		inf.mb.Unlock()
		return wire.StatusError, nil
	}
	// Hold the target alive for the duration of the cancel, and latch
	// ABORTING so neither the inference response nor a failure broadcast
	// can overwrite the abort with a normal outcome.
	inf.get()
	inf.status = wire.StatusAborting
	handle := uint64(inf.entry.ID)
	inf.mb.Unlock()

	rsp, err := RequestCancelInference(ctx, inf.mb, handle)
	if err != nil {
		inf.Put()
		cerr := WrapError("CANCEL_INFERENCE", err)
		cerr.Errno = syscall.EFAULT
		return wire.StatusError, cerr
	}

	inf.mb.Lock()
	inf.status = wire.StatusAborted
	inf.mb.Unlock()
	inf.Put()

	if rsp.Status == wire.StatusOK {
		return wire.StatusOK, nil
	}
	return wire.StatusError, nil
}

func (inf *Inference) get() {
	atomic.AddInt32(&inf.refcount, 1)
}

// Get increments the inference's refcount.
func (inf *Inference) Get() { inf.get() }

// Put drops one reference. The last Put deregisters the inference from
// the mailbox and releases every buffer and network reference it holds.
func (inf *Inference) Put() {
	if atomic.AddInt32(&inf.refcount, -1) != 0 {
		return
	}

	inf.mb.Lock()
	inf.mb.Deregister(inf.entry)
	inf.mb.Unlock()

	for _, b := range inf.ifm {
		b.Put()
	}
	for _, b := range inf.ofm {
		b.Put()
	}
	inf.network.Put()
}

// RefCount returns the current reference count.
func (inf *Inference) RefCount() int32 {
	return atomic.LoadInt32(&inf.refcount)
}
