// Package interfaces provides internal interface definitions shared across
// the rpmsg-nnrt packages. These are separate from the public API to avoid
// circular imports between the root package and internal packages.
package interfaces

import "context"

// Transport is the out-of-scope collaborator this runtime depends on: an
// ordered, length-preserving, bidirectional packet channel with a finite
// outbound slot budget.
type Transport interface {
	// TrySend attempts a non-blocking send of one complete packet. It
	// returns ErrNoSlot (a sentinel recognized via errors.Is) when the
	// transport's outbound slot budget is exhausted, distinct from any
	// other error.
	TrySend(packet []byte) error

	// Recv blocks until one complete packet has arrived, or ctx is done.
	Recv(ctx context.Context) ([]byte, error)

	// Close tears down the endpoint; any blocked TrySend/Recv return an error.
	Close() error
}

// Logger interface for optional logging, satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// CrashReporter is invoked when the runtime concludes firmware is
// unresponsive or has crashed (an ERR packet, a fatal request timeout, or
// a cancel that timed out). The remote-processor lifecycle manager
// (out of scope, §1) is expected to restart firmware in response.
type CrashReporter interface {
	ReportCrash(reason string, err error)
}

// NoOpCrashReporter discards crash reports; useful for tests and for
// embedders that wire crash handling through a different channel.
type NoOpCrashReporter struct{}

func (NoOpCrashReporter) ReportCrash(reason string, err error) {}
