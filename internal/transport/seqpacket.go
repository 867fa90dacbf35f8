// Package transport provides concrete realizations of the
// interfaces.Transport contract: a reliable, ordered, length-preserving
// bidirectional packet channel whose try_send reports slot exhaustion
// distinctly from any other error.
package transport

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/logging"
)

// ErrNoSlot is returned by TrySend when the transmit-slot budget is
// exhausted; Mailbox.SendBlocking treats this, and only this, as a reason
// to suspend rather than fail.
var ErrNoSlot = errors.New("transport: no transmit slot available")

// SeqpacketTransport implements interfaces.Transport over a
// unix.SOCK_SEQPACKET socket pair, which preserves message boundaries the
// way the rpmsg character device does on real hardware.
type SeqpacketTransport struct {
	fd     int
	slots  *semaphore.Weighted
	logger *logging.Logger
	closed chan struct{}
}

// DialSeqpacket connects to an already-listening SOCK_SEQPACKET endpoint
// at path (e.g. an rpmsg character device's equivalent on this host).
func DialSeqpacket(path string, slotCount int64) (*SeqpacketTransport, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: connect %s: %w", path, err)
	}
	return newSeqpacketTransport(fd, slotCount), nil
}

func newSeqpacketTransport(fd int, slotCount int64) *SeqpacketTransport {
	if slotCount <= 0 {
		slotCount = constants.TransmitSlots
	}
	return &SeqpacketTransport{
		fd:     fd,
		slots:  semaphore.NewWeighted(slotCount),
		logger: logging.Default(),
		closed: make(chan struct{}),
	}
}

// NewSeqpacketTransportPair returns two connected in-process transports,
// useful for integration tests that want the real socket machinery
// without a filesystem path.
func NewSeqpacketTransportPair(slotCount int64) (a, b *SeqpacketTransport, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: socketpair: %w", err)
	}
	return newSeqpacketTransport(fds[0], slotCount), newSeqpacketTransport(fds[1], slotCount), nil
}

// TrySend attempts a non-blocking send of one complete packet.
func (t *SeqpacketTransport) TrySend(packet []byte) error {
	if !t.slots.TryAcquire(1) {
		return ErrNoSlot
	}
	err := unix.Send(t.fd, packet, unix.MSG_DONTWAIT)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			t.slots.Release(1)
			return ErrNoSlot
		}
		t.slots.Release(1)
		return fmt.Errorf("transport: send: %w", err)
	}
	// The slot is freed once the peer has drained enough of its receive
	// buffer to accept another message; since SOCK_SEQPACKET has no
	// explicit "transmit complete" signal, a conservative release point is
	// as soon as the syscall returns, matching the contract's same
	// cooperative-scheduling assumption the Mailbox already serializes
	// around.
	t.slots.Release(1)
	return nil
}

// Recv blocks until one complete packet has arrived, or ctx is done.
func (t *SeqpacketTransport) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 64*1024)
		n, _, err := unix.Recvfrom(t.fd, buf, 0)
		if err != nil {
			done <- result{err: fmt.Errorf("transport: recv: %w", err)}
			return
		}
		done <- result{buf: buf[:n]}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, errors.New("transport: closed")
	case r := <-done:
		return r.buf, r.err
	}
}

// Close tears down the endpoint.
func (t *SeqpacketTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return unix.Close(t.fd)
}
