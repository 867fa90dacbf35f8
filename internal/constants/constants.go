// Package constants holds the fixed limits and timeouts of the rpmsg
// neural-network accelerator protocol.
package constants

import "time"

// Wire protocol limits (§6 of the wire format).
const (
	// BufferMax is the maximum number of IFM or OFM buffers on one inference.
	BufferMax = 16

	// FDMax is the maximum number of file-descriptor-like handles accepted
	// in any single request (IFM/OFM list lengths).
	FDMax = 16

	// PMUEventMax is the number of configurable PMU event slots.
	PMUEventMax = 4

	// PMUMax is the width of the wire-level PMU config/count arrays.
	PMUMax = 8

	// NetworkDescLen is the fixed size of the NETWORK_INFO_RSP description field.
	NetworkDescLen = 32

	// ErrMsgLen is the fixed size of the ERR payload's message field.
	ErrMsgLen = 128
)

// Protocol version this runtime expects from firmware. Minor-version
// differences in patch are accepted; major/minor mismatches are fatal.
const (
	ExpectedVersionMajor = 0
	ExpectedVersionMinor = 2
)

// WireMagic is the constant header magic for every packet, in both
// directions.
const WireMagic uint32 = 0x41457631

// Per-request-class timeouts. These bound how long a caller will wait for
// a firmware response before the wait is treated as a fatal, device-wide
// condition.
const (
	SendTimeout           = 15 * time.Second
	VersionTimeout        = 2 * time.Second
	CapabilitiesTimeout   = 2 * time.Second
	CancelInferenceTimeout = 2 * time.Second
	NetworkInfoTimeout    = 3 * time.Second
)

// PingMinInterval and PingBurst bound the rate at which a session may emit
// pings, guarding against a caller flooding the transmit-slot pool with a
// tight ping loop.
const (
	PingMinInterval = 10 * time.Millisecond
	PingBurst       = 4
)

// TransmitSlots is the default size of the transport's outbound slot
// budget, used to size the semaphore backing the bundled Transport
// implementations.
const TransmitSlots = 64

// CorrelationIDLimit bounds correlation id allocation to [0, CorrelationIDLimit).
const CorrelationIDLimit = 1<<31 - 1
