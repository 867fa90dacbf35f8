package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/rpmsg-nnrt/internal/transport"
)

// slotTransport is a minimal interfaces.Transport double whose TrySend
// fails with transport.ErrNoSlot until slots become available, letting
// tests drive the fair-send and timeout paths deterministically.
type slotTransport struct {
	mu    sync.Mutex
	slots int
	sent  [][]byte
}

func (s *slotTransport) TrySend(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots <= 0 {
		return transport.ErrNoSlot
	}
	s.slots--
	cp := append([]byte(nil), packet...)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *slotTransport) Recv(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *slotTransport) Close() error { return nil }

func (s *slotTransport) addSlot() {
	s.mu.Lock()
	s.slots++
	s.mu.Unlock()
}

func TestRegisterFindDeregister(t *testing.T) {
	mb := New(&slotTransport{}, nil, nil)

	mb.Lock()
	e, err := mb.Register(KindVersion, nil)
	require.NoError(t, err)
	mb.Unlock()

	mb.Lock()
	got, err := mb.Find(e.ID, KindVersion)
	require.NoError(t, err)
	require.Equal(t, e, got)
	mb.Unlock()

	mb.Lock()
	mb.Deregister(e)
	_, err = mb.Find(e.ID, KindVersion)
	mb.Unlock()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestKindIsolation(t *testing.T) {
	mb := New(&slotTransport{}, nil, nil)

	mb.Lock()
	e, err := mb.Register(KindInference, nil)
	require.NoError(t, err)
	_, lookupErr := mb.Find(e.ID, KindVersion)
	mb.Unlock()

	require.ErrorIs(t, lookupErr, ErrKindMismatch)

	// The entry must remain registered after a kind mismatch.
	mb.Lock()
	_, err = mb.Find(e.ID, KindInference)
	mb.Unlock()
	require.NoError(t, err)
}

func TestCorrelationUniqueness(t *testing.T) {
	mb := New(&slotTransport{}, nil, nil)
	seen := make(map[int64]bool)

	mb.Lock()
	for i := 0; i < 500; i++ {
		e, err := mb.Register(KindPing(i), nil)
		require.NoError(t, err)
		require.False(t, seen[e.ID], "correlation id %d reused while still registered", e.ID)
		seen[e.ID] = true
		if i%3 == 0 {
			mb.Deregister(e)
			delete(seen, e.ID)
		}
	}
	mb.Unlock()
}

// KindPing is a test helper that cycles through the real Kind values so
// registrations exercise more than one kind.
func KindPing(i int) Kind {
	return Kind(i % 5)
}

func TestNoOrphansAfterFailAll(t *testing.T) {
	mb := New(&slotTransport{}, nil, nil)

	var mu sync.Mutex
	failed := make(map[int64]bool)

	mb.Lock()
	var entries []*Entry
	for i := 0; i < 3; i++ {
		id := int64(i)
		e, err := mb.Register(KindVersion, func(err error) {
			mu.Lock()
			failed[id] = true
			mu.Unlock()
		})
		require.NoError(t, err)
		entries = append(entries, e)
	}
	mb.Unlock()

	mb.FailAll(ErrNoDevice)

	require.Equal(t, 0, mb.Outstanding())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 3)
}

func TestShutdownRejectsRegister(t *testing.T) {
	mb := New(&slotTransport{}, nil, nil)
	mb.Shutdown()

	mb.Lock()
	_, err := mb.Register(KindVersion, nil)
	mb.Unlock()
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestSendBlockingSucceedsImmediatelyWithSlot(t *testing.T) {
	tr := &slotTransport{slots: 1}
	mb := New(tr, nil, nil)

	mb.Lock()
	err := mb.SendBlocking(context.Background(), []byte("hello"))
	mb.Unlock()

	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
}

func TestSendBlockingWaitsForSlotThenSucceeds(t *testing.T) {
	tr := &slotTransport{slots: 0}
	mb := New(tr, nil, nil)

	done := make(chan error, 1)
	go func() {
		mb.Lock()
		err := mb.SendBlocking(context.Background(), []byte("payload"))
		mb.Unlock()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tr.addSlot()
	mb.WakeSender() // as the dispatcher does after an inbound packet

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SendBlocking did not return after slot became available")
	}
}

func TestFairSendOrdering(t *testing.T) {
	tr := &slotTransport{slots: 0}
	mb := New(tr, nil, nil)

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			mb.Lock()
			err := mb.SendBlocking(context.Background(), []byte("x"))
			mb.Unlock()
			results <- err
		}()
		time.Sleep(5 * time.Millisecond) // encourage FIFO submission order
	}

	go func() {
		for i := 0; i < n; i++ {
			time.Sleep(10 * time.Millisecond)
			tr.addSlot()
			// Freeing a slot wakes nobody by itself; the dispatcher
			// wakes one sender after each inbound packet.
			mb.WakeSender()
		}
	}()

	successes := 0
	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err == nil {
				successes++
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for fair-send results")
		}
	}
	require.Equal(t, n, successes)
}
