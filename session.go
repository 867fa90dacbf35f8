// Package nnrt is the host-side RPC runtime for a neural-network
// accelerator: it multiplexes user operations onto one rpmsg transport
// endpoint, correlates asynchronous firmware replies, manages DMA-backed
// buffers shared with the accelerator, and cleans up on firmware crash.
package nnrt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/dma"
	"github.com/behrlich/rpmsg-nnrt/internal/handles"
	"github.com/behrlich/rpmsg-nnrt/internal/interfaces"
	"github.com/behrlich/rpmsg-nnrt/internal/logging"
	"github.com/behrlich/rpmsg-nnrt/internal/mailbox"
	"github.com/behrlich/rpmsg-nnrt/internal/rxloop"
	"github.com/behrlich/rpmsg-nnrt/internal/wire"
)

// Transport re-exports the transport contract for embedders providing
// their own endpoint implementation.
type Transport = interfaces.Transport

// CrashReporter re-exports the crash-reporting hook the runtime calls
// when it concludes firmware is unresponsive.
type CrashReporter = interfaces.CrashReporter

// SessionOptions contains tunables for opening a session.
type SessionOptions struct {
	// CarveoutSize is the size of the DMA carveout backing this session's
	// buffers and user-supplied networks.
	CarveoutSize uint32

	// CarveoutBase is the device address of the carveout (0 selects the
	// allocator default).
	CarveoutBase uint32

	// PingMinInterval and PingBurst configure the ping rate limiter.
	PingMinInterval time.Duration
	PingBurst       int

	// Logger for debug/info messages (if nil, the package default)
	Logger *logging.Logger

	// CrashReporter receives firmware crash indications (if nil, discarded)
	CrashReporter CrashReporter

	// Observer for metrics collection (if nil, records to the session's
	// built-in Metrics)
	Observer Observer
}

// DefaultSessionOptions returns default session options.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		CarveoutSize:    64 << 20, // 64MB carveout
		PingMinInterval: constants.PingMinInterval,
		PingBurst:       constants.PingBurst,
	}
}

// Session is one open handle onto the device facade: the host-side
// equivalent of an opened character-device file descriptor. It owns a
// mailbox over the transport, a receive loop feeding the protocol
// dispatcher, a DMA carveout, and an fd-style handle table.
type Session struct {
	// ID is a unique session identifier used in logs.
	ID string

	// Minor is the process-wide session minor number.
	Minor int

	opts     SessionOptions
	tr       interfaces.Transport
	mb       *mailbox.Mailbox
	disp     *Dispatcher
	rx       *rxloop.Runner
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
	arena    *dma.Arena
	handles  *handles.Table

	version wire.VersionRsp
	caps    wire.CapabilitiesRsp

	pingMu     sync.Mutex
	pingTokens int
	pingLast   time.Time

	closeOnce sync.Once
}

// observingCrashReporter tees crash indications into the session observer
// before forwarding to the embedder's reporter.
type observingCrashReporter struct {
	inner    interfaces.CrashReporter
	observer Observer
}

func (r *observingCrashReporter) ReportCrash(reason string, err error) {
	r.observer.ObserveCrash()
	r.inner.ReportCrash(reason, err)
}

// Open creates a session over the given transport and performs the
// startup handshake: version check first, then the capabilities query.
// A version mismatch aborts startup before capabilities are requested.
func Open(ctx context.Context, tr interfaces.Transport, opts *SessionOptions) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	options := DefaultSessionOptions()
	if opts != nil {
		options = *opts
		if options.CarveoutSize == 0 {
			options.CarveoutSize = DefaultSessionOptions().CarveoutSize
		}
		if options.PingMinInterval == 0 {
			options.PingMinInterval = constants.PingMinInterval
		}
		if options.PingBurst == 0 {
			options.PingBurst = constants.PingBurst
		}
	}

	minor, err := handles.AcquireMinor()
	if err != nil {
		return nil, WrapError("SESSION_OPEN", err)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Minor:   minor,
		opts:    options,
		tr:      tr,
		metrics: NewMetrics(),
		handles: handles.NewTable(),
		arena:   dma.NewArena(options.CarveoutSize, options.CarveoutBase),
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	s.logger = logger.WithSession(s.ID)

	s.observer = options.Observer
	if s.observer == nil {
		s.observer = NewMetricsObserver(s.metrics)
	}

	var crash interfaces.CrashReporter = interfaces.NoOpCrashReporter{}
	if options.CrashReporter != nil {
		crash = options.CrashReporter
	}
	crash = &observingCrashReporter{inner: crash, observer: s.observer}

	s.mb = mailbox.New(tr, s.logger, crash)
	s.disp = NewDispatcher(s.mb, tr, s.logger, crash)

	// The receive loop outlives the open call's context; it stops only at
	// session close.
	s.rx, err = rxloop.New(context.Background(), rxloop.Config{
		Transport: tr,
		Handler:   s.onPacket,
		Logger:    s.logger,
		OnTransportError: func(err error) {
			s.logger.Error("transport failed, failing outstanding requests", "error", err)
			s.mb.FailAll(NewSessionError("SESSION", s.ID, ErrNoDevice, "transport failed"))
		},
	})
	if err != nil {
		handles.ReleaseMinor(minor)
		return nil, WrapError("SESSION_OPEN", err)
	}
	s.rx.Start()

	s.pingTokens = options.PingBurst
	s.pingLast = time.Now()

	if err := s.handshake(ctx); err != nil {
		s.teardown()
		return nil, err
	}

	s.logger.Info("session open",
		"minor", s.Minor,
		"fw_version", s.version,
		"carveout", options.CarveoutSize)
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	version, err := s.timedRequest("VERSION_CHECK", func() (interface{}, error) {
		return RequestVersion(ctx, s.mb)
	})
	if err != nil {
		return err
	}
	s.version = version.(wire.VersionRsp)

	caps, err := s.timedRequest("CAPABILITIES", func() (interface{}, error) {
		return RequestCapabilities(ctx, s.mb)
	})
	if err != nil {
		return err
	}
	s.caps = caps.(wire.CapabilitiesRsp)
	return nil
}

// timedRequest runs fn and feeds its round-trip latency and outcome to
// the observer.
func (s *Session) timedRequest(op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	v, err := fn()
	s.observer.ObserveRequest(op, uint64(time.Since(start).Nanoseconds()), err == nil)
	return v, err
}

// onPacket is the receive-loop handler feeding the protocol dispatcher.
func (s *Session) onPacket(packet []byte) error {
	err := s.disp.OnPacket(packet)
	s.observer.ObservePacket(err != nil)
	return err
}

// DriverVersion returns the firmware protocol version learned at startup.
func (s *Session) DriverVersion() wire.VersionRsp { return s.version }

// Capabilities returns the firmware capabilities learned at startup.
func (s *Session) Capabilities() wire.CapabilitiesRsp { return s.caps }

// Ping sends a PING packet. Pings carry no correlation id; firmware
// answers with PONG, which the dispatcher logs. A token-bucket limiter
// bounds the ping rate so a tight ping loop cannot starve real requests
// of transmit slots.
func (s *Session) Ping(ctx context.Context) error {
	if !s.takePingToken() {
		return NewSessionError("PING", s.ID, ErrInvalidArgument, "ping rate limit exceeded")
	}

	packet := wire.EncodeHeader(wire.Header{Magic: constants.WireMagic, Type: wire.TypePing, MsgID: 0}, 0)

	start := time.Now()
	s.mb.Lock()
	err := s.mb.SendBlocking(ctx, packet)
	s.mb.Unlock()
	s.observer.ObserveRequest("PING", uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return mapMailboxError("PING", err)
	}
	return nil
}

func (s *Session) takePingToken() bool {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	refill := int(time.Since(s.pingLast) / s.opts.PingMinInterval)
	if refill > 0 {
		s.pingTokens += refill
		if s.pingTokens > s.opts.PingBurst {
			s.pingTokens = s.opts.PingBurst
		}
		s.pingLast = s.pingLast.Add(time.Duration(refill) * s.opts.PingMinInterval)
	}
	if s.pingTokens == 0 {
		return false
	}
	s.pingTokens--
	return true
}

// CreateBuffer allocates a DMA-backed buffer from the session carveout
// and returns its handle.
func (s *Session) CreateBuffer(size uint32) (int32, error) {
	region, err := s.arena.Alloc(size)
	if err != nil {
		if err == dma.ErrInvalidSize {
			return -1, NewSessionError("BUFFER_CREATE", s.ID, ErrInvalidArgument, "size must be non-zero")
		}
		return -1, NewSessionError("BUFFER_CREATE", s.ID, ErrOutOfMemory, err.Error())
	}
	buf := &Buffer{region: region, refcount: 1}
	return s.handles.Insert(buf), nil
}

// Buffer resolves a buffer handle.
func (s *Session) Buffer(fd int32) (*Buffer, error) {
	v, err := s.handles.Get(fd)
	if err != nil {
		return nil, NewSessionError("BUFFER_GET", s.ID, ErrFaulted, "bad buffer handle")
	}
	buf, ok := v.(*Buffer)
	if !ok {
		return nil, NewSessionError("BUFFER_GET", s.ID, ErrFaulted, "handle is not a buffer")
	}
	return buf, nil
}

// CreateNetworkFromIndex creates a network referring to a
// firmware-resident model and returns its handle.
func (s *Session) CreateNetworkFromIndex(index uint32) (int32, error) {
	n := CreateNetworkFromIndex(index)
	return s.handles.Insert(n), nil
}

// CreateNetworkFromBuffer copies the caller's model bytes into a fresh
// carveout region and returns the network's handle. The payload slice is
// not retained.
func (s *Session) CreateNetworkFromBuffer(payload []byte) (int32, error) {
	if len(payload) == 0 {
		return -1, NewSessionError("NETWORK_CREATE", s.ID, ErrInvalidArgument, "payload must be non-empty")
	}
	region, err := s.arena.Alloc(uint32(len(payload)))
	if err != nil {
		return -1, NewSessionError("NETWORK_CREATE", s.ID, ErrOutOfMemory, err.Error())
	}
	copy(region.CPU, payload)
	n := &Network{kind: wire.NetworkKindBuffer, region: region, refcount: 1}
	return s.handles.Insert(n), nil
}

// Network resolves a network handle.
func (s *Session) Network(fd int32) (*Network, error) {
	v, err := s.handles.Get(fd)
	if err != nil {
		return nil, NewSessionError("NETWORK_GET", s.ID, ErrFaulted, "bad network handle")
	}
	n, ok := v.(*Network)
	if !ok {
		return nil, NewSessionError("NETWORK_GET", s.ID, ErrFaulted, "handle is not a network")
	}
	return n, nil
}

// NetworkInfo queries firmware for a network's description and feature
// map geometry.
func (s *Session) NetworkInfo(ctx context.Context, networkFD int32) (wire.NetworkInfoRsp, error) {
	n, err := s.Network(networkFD)
	if err != nil {
		return wire.NetworkInfoRsp{}, err
	}
	rsp, rerr := s.timedRequest("NETWORK_INFO", func() (interface{}, error) {
		return RequestNetworkInfo(ctx, s.mb, n)
	})
	if rerr != nil {
		return wire.NetworkInfoRsp{}, rerr
	}
	return rsp.(wire.NetworkInfoRsp), nil
}

// CreateInference dispatches an inference of the given network over the
// IFM buffer handles, producing into the OFM buffer handles, and returns
// the inference's handle. Handle-count and handle-resolution failures
// return Faulted before any correlation id is consumed or any buffer
// reference acquired.
func (s *Session) CreateInference(ctx context.Context, networkFD int32, ifmFDs, ofmFDs []int32, pmu PMUConfig) (int32, error) {
	if len(ifmFDs) > constants.FDMax || len(ofmFDs) > constants.FDMax {
		return -1, NewSessionError("INFERENCE_CREATE", s.ID, ErrFaulted, "too many feature map handles")
	}

	n, err := s.Network(networkFD)
	if err != nil {
		return -1, err
	}
	ifm, err := s.resolveBuffers(ifmFDs)
	if err != nil {
		return -1, err
	}
	ofm, err := s.resolveBuffers(ofmFDs)
	if err != nil {
		return -1, err
	}

	obs := s.observer
	start := time.Now()
	inf, err := startInference(ctx, s.mb, n, ifm, ofm, pmu,
		func(status wire.Status) { obs.ObserveInference(status) })
	s.observer.ObserveRequest("INFERENCE_CREATE", uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return -1, err
	}

	return s.handles.Insert(inf), nil
}

func (s *Session) resolveBuffers(fds []int32) ([]*Buffer, error) {
	bufs := make([]*Buffer, 0, len(fds))
	for _, fd := range fds {
		b, err := s.Buffer(fd)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
	}
	return bufs, nil
}

// Inference resolves an inference handle.
func (s *Session) Inference(fd int32) (*Inference, error) {
	v, err := s.handles.Get(fd)
	if err != nil {
		return nil, NewSessionError("INFERENCE_GET", s.ID, ErrFaulted, "bad inference handle")
	}
	inf, ok := v.(*Inference)
	if !ok {
		return nil, NewSessionError("INFERENCE_GET", s.ID, ErrFaulted, "handle is not an inference")
	}
	return inf, nil
}

// CancelInference runs the cancel sub-protocol against an inference
// handle, recording the round trip.
func (s *Session) CancelInference(ctx context.Context, inferenceFD int32) (wire.Status, error) {
	inf, err := s.Inference(inferenceFD)
	if err != nil {
		return wire.StatusError, err
	}
	start := time.Now()
	status, cerr := inf.Cancel(ctx)
	s.observer.ObserveRequest("CANCEL_INFERENCE", uint64(time.Since(start).Nanoseconds()), cerr == nil)
	return status, cerr
}

// CloseHandle releases a handle, dropping the session's reference on the
// object behind it.
func (s *Session) CloseHandle(fd int32) error {
	v, err := s.handles.Remove(fd)
	if err != nil {
		return NewSessionError("HANDLE_CLOSE", s.ID, ErrFaulted, "bad handle")
	}
	putHandle(v)
	return nil
}

func putHandle(v interface{}) {
	switch h := v.(type) {
	case *Buffer:
		h.Put()
	case *Network:
		h.Put()
	case *Inference:
		h.Put()
	}
}

// Outstanding reports the number of requests currently registered in the
// session's mailbox.
func (s *Session) Outstanding() int { return s.mb.Outstanding() }

// Metrics returns the session's metrics.
func (s *Session) Metrics() *Metrics { return s.metrics }

// MetricsSnapshot returns a point-in-time snapshot of session metrics.
func (s *Session) MetricsSnapshot() MetricsSnapshot { return s.metrics.Snapshot() }

// SessionInfo contains a snapshot of a session's identity and state.
type SessionInfo struct {
	ID           string                 `json:"id"`
	Minor        int                    `json:"minor"`
	Version      wire.VersionRsp        `json:"version"`
	Capabilities wire.CapabilitiesRsp   `json:"capabilities"`
	Outstanding  int                    `json:"outstanding"`
	OpenHandles  int                    `json:"open_handles"`
	Carveout     map[string]interface{} `json:"carveout"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		Minor:        s.Minor,
		Version:      s.version,
		Capabilities: s.caps,
		Outstanding:  s.mb.Outstanding(),
		OpenHandles:  s.handles.Len(),
		Carveout:     s.arena.Stats(),
	}
}

// Close tears the session down: fails every outstanding request, shuts
// down the mailbox sender, stops the receive loop, releases the
// transport endpoint, and drops whatever handles the user left open.
func (s *Session) Close() error {
	s.closeOnce.Do(s.teardown)
	return nil
}

func (s *Session) teardown() {
	s.mb.FailAll(NewSessionError("SESSION_CLOSE", s.ID, ErrNoDevice, "session closed"))
	s.mb.Shutdown()
	s.rx.Close()
	s.tr.Close()

	for _, v := range s.handles.Drain() {
		putHandle(v)
	}

	handles.ReleaseMinor(s.Minor)
	s.metrics.Stop()
	s.logger.Info("session closed")
}
