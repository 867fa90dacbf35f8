// Package mailbox implements the correlation-ID allocator, outstanding
// request table, fair blocking sender, and failure broadcast that form the
// concurrency core of the rpmsg runtime.
package mailbox

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/behrlich/rpmsg-nnrt/internal/constants"
	"github.com/behrlich/rpmsg-nnrt/internal/interfaces"
	"github.com/behrlich/rpmsg-nnrt/internal/logging"
	"github.com/behrlich/rpmsg-nnrt/internal/transport"
)

// Kind distinguishes the request classes that share the id-table, so a
// response carrying a stale id with the wrong kind is rejected rather than
// silently misrouted.
type Kind int

const (
	KindVersion Kind = iota
	KindCapabilities
	KindNetworkInfo
	KindInference
	KindCancelInference
)

// Entry is the outstanding-request record held in the id-table from
// registration until explicit deregistration. FailCallback is invoked by
// FailAll after the mailbox lock has been released (see FailAll), so it
// may take the lock itself. Complete is invoked by the protocol dispatcher
// when a matching response arrives, likewise without the lock held.
type Entry struct {
	ID           int64
	Kind         Kind
	FailCallback func(err error)
	Complete     func(payload []byte)
}

// Sentinel sender errors, distinct from a hard transport failure.
var (
	ErrNoDevice     = sentinelErr("mailbox: shut down")
	ErrTimeout      = sentinelErr("mailbox: send timed out")
	ErrInterrupted  = sentinelErr("mailbox: interrupted")
	ErrOutOfIDs     = sentinelErr("mailbox: no correlation ids available")
	ErrNotFound     = sentinelErr("mailbox: entry not found")
	ErrKindMismatch = sentinelErr("mailbox: kind mismatch")
)

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

// Mailbox is the device-wide serialization point: its lock protects the
// id-table, the send wait queue, and — by convention, since callers are
// expected to hold it via Lock/Unlock — every request's mutable state and
// every handle's lifecycle-transition refcounts.
type Mailbox struct {
	mu sync.Mutex

	transport interfaces.Transport
	logger    *logging.Logger
	crash     interfaces.CrashReporter

	table  map[int64]*Entry
	nextID int64

	shutdown bool
	sending  bool
	waiters  *list.List // of chan struct{}
}

// New creates a Mailbox bound to the given transport.
func New(t interfaces.Transport, logger *logging.Logger, crash interfaces.CrashReporter) *Mailbox {
	if logger == nil {
		logger = logging.Default()
	}
	if crash == nil {
		crash = interfaces.NoOpCrashReporter{}
	}
	return &Mailbox{
		transport: t,
		logger:    logger,
		crash:     crash,
		table:     make(map[int64]*Entry),
		waiters:   list.New(),
	}
}

// Lock acquires the device-wide serialization lock.
func (m *Mailbox) Lock() { m.mu.Lock() }

// Unlock releases the device-wide serialization lock.
func (m *Mailbox) Unlock() { m.mu.Unlock() }

// Register allocates the next unused correlation id and inserts entry.
// Must be called with the lock held (i.e. between Lock/Unlock, or via the
// request state machines which take care of this).
func (m *Mailbox) Register(kind Kind, fail func(error)) (*Entry, error) {
	return m.RegisterRequest(kind, fail, nil)
}

// RegisterRequest is Register plus a completion callback invoked by the
// protocol dispatcher when a matching response arrives.
func (m *Mailbox) RegisterRequest(kind Kind, fail func(error), complete func([]byte)) (*Entry, error) {
	if m.shutdown {
		return nil, ErrNoDevice
	}
	id, ok := m.allocateIDLocked()
	if !ok {
		return nil, ErrOutOfIDs
	}
	e := &Entry{ID: id, Kind: kind, FailCallback: fail, Complete: complete}
	m.table[id] = e
	return e, nil
}

func (m *Mailbox) allocateIDLocked() (int64, bool) {
	for i := int64(0); i < constants.CorrelationIDLimit; i++ {
		id := m.nextID
		m.nextID++
		if m.nextID >= constants.CorrelationIDLimit {
			m.nextID = 0
		}
		if _, used := m.table[id]; !used {
			return id, true
		}
	}
	return 0, false
}

// Deregister removes entry from the table. Idempotent: safe to call even
// if the response already arrived and removed it, or if it was never
// present.
func (m *Mailbox) Deregister(e *Entry) {
	if e == nil {
		return
	}
	delete(m.table, e.ID)
}

// Find looks up an entry by correlation id, enforcing the kind match.
func (m *Mailbox) Find(id int64, expectedKind Kind) (*Entry, error) {
	e, ok := m.table[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Kind != expectedKind {
		return nil, ErrKindMismatch
	}
	return e, nil
}

// FailAll empties the table under the lock, then invokes every removed
// entry's FailCallback after releasing it; used on firmware crash and
// mailbox teardown. The callbacks do not run under the lock.
func (m *Mailbox) FailAll(reason error) {
	m.mu.Lock()
	entries := make([]*Entry, 0, len(m.table))
	for _, e := range m.table {
		entries = append(entries, e)
	}
	m.table = make(map[int64]*Entry)
	m.mu.Unlock()

	// The lock is not held here: a callback that touches shared request
	// state (such as an inference's fail path) takes the lock itself.
	for _, e := range entries {
		if e.FailCallback != nil {
			e.FailCallback(reason)
		}
	}
}

// Shutdown sets the shutdown flag and wakes every blocked sender with
// ErrNoDevice. It does not drain the id-table; call FailAll separately.
func (m *Mailbox) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	for m.waiters.Len() > 0 {
		front := m.waiters.Front()
		ch := m.waiters.Remove(front).(chan struct{})
		close(ch)
	}
	m.mu.Unlock()
}

// SendBlocking serializes transmission over the transport's finite slot
// pool with FIFO fairness among waiters, releasing the lock while
// suspended and reacquiring it before returning (§5's core correctness
// requirement).
//
// Callers must hold the lock on entry; SendBlocking releases and
// reacquires it internally across suspension points and returns with it
// held again.
func (m *Mailbox) SendBlocking(ctx context.Context, packet []byte) error {
	deadline := time.Now().Add(constants.SendTimeout)
	// A waiter that was woken and has to wait again goes back to the head
	// of the queue, ahead of senders that arrived after it.
	woken := false

	for {
		if m.shutdown {
			return ErrNoDevice
		}

		if !m.sending {
			m.sending = true
			m.mu.Unlock()
			err := m.transport.TrySend(packet)
			m.mu.Lock()
			m.sending = false

			if errors.Is(err, transport.ErrNoSlot) {
				ch := m.enqueueWaiterLocked()
				if woken {
					m.waiters.MoveToFront(m.waiters.Back())
				}
				if waitErr := m.waitLocked(ctx, ch, deadline); waitErr != nil {
					return waitErr
				}
				woken = true
				continue
			}

			m.wakeNextLocked()
			return err
		}

		ch := m.enqueueWaiterLocked()
		if woken {
			m.waiters.MoveToFront(m.waiters.Back())
		}
		if waitErr := m.waitLocked(ctx, ch, deadline); waitErr != nil {
			return waitErr
		}
		woken = true
	}
}

func (m *Mailbox) enqueueWaiterLocked() chan struct{} {
	ch := make(chan struct{})
	m.waiters.PushBack(ch)
	return ch
}

// waitLocked must be called with the lock held; it releases the lock for
// the actual wait and reacquires it before returning, per call site.
func (m *Mailbox) waitLocked(ctx context.Context, ch chan struct{}, deadline time.Time) error {
	m.mu.Unlock()
	var err error
	select {
	case <-ch:
		// Woken by a successful send or by shutdown; the caller's loop
		// re-checks the shutdown flag before the next attempt.
	case <-time.After(time.Until(deadline)):
		err = ErrTimeout
	case <-ctx.Done():
		err = ErrInterrupted
	}
	m.mu.Lock()

	if err != nil {
		m.removeWaiterLocked(ch)
	}
	return err
}

func (m *Mailbox) removeWaiterLocked(target chan struct{}) {
	for e := m.waiters.Front(); e != nil; e = e.Next() {
		if e.Value.(chan struct{}) == target {
			m.waiters.Remove(e)
			return
		}
	}
}

// wakeNextLocked wakes exactly one waiter, if any, after a successful send.
func (m *Mailbox) wakeNextLocked() {
	if m.waiters.Len() == 0 {
		return
	}
	front := m.waiters.Front()
	ch := m.waiters.Remove(front).(chan struct{})
	close(ch)
}

// WakeSender wakes one blocked sender, if any. The dispatcher calls this
// after processing an inbound packet, since a received packet implies the
// transport may have freed a transmit slot.
func (m *Mailbox) WakeSender() {
	m.mu.Lock()
	m.wakeNextLocked()
	m.mu.Unlock()
}

// Outstanding reports the number of entries currently registered; used by
// tests to assert no-orphans-after-shutdown.
func (m *Mailbox) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}

// CrashReporter exposes the configured crash reporter to request state
// machines that need to report a fatal timeout.
func (m *Mailbox) CrashReporter() interfaces.CrashReporter { return m.crash }

// Logger exposes the mailbox's logger.
func (m *Mailbox) Logger() *logging.Logger { return m.logger }
