package rxloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chanTransport is a Transport double backed by a channel.
type chanTransport struct {
	rx     chan []byte
	failRx error
	mu     sync.Mutex
}

func (c *chanTransport) TrySend(packet []byte) error { return nil }

func (c *chanTransport) Recv(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	failErr := c.failRx
	c.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-c.rx:
		return p, nil
	}
}

func (c *chanTransport) Close() error { return nil }

func TestRunnerDeliversPackets(t *testing.T) {
	tr := &chanTransport{rx: make(chan []byte, 4)}
	got := make(chan []byte, 4)

	r, err := New(context.Background(), Config{
		Transport: tr,
		Handler: func(p []byte) error {
			got <- p
			return nil
		},
	})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	tr.rx <- []byte("one")
	tr.rx <- []byte("two")

	require.Equal(t, []byte("one"), <-got)
	require.Equal(t, []byte("two"), <-got)
}

func TestRunnerHandlerErrorDoesNotKillLoop(t *testing.T) {
	tr := &chanTransport{rx: make(chan []byte, 4)}
	got := make(chan []byte, 4)

	r, err := New(context.Background(), Config{
		Transport: tr,
		Handler: func(p []byte) error {
			got <- p
			return errors.New("bad packet")
		},
	})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	tr.rx <- []byte("a")
	tr.rx <- []byte("b")

	require.Equal(t, []byte("a"), <-got)
	require.Equal(t, []byte("b"), <-got)
}

func TestRunnerReportsTransportError(t *testing.T) {
	tr := &chanTransport{rx: make(chan []byte)}
	tr.failRx = errors.New("endpoint gone")

	reported := make(chan error, 1)
	r, err := New(context.Background(), Config{
		Transport:        tr,
		Handler:          func(p []byte) error { return nil },
		OnTransportError: func(err error) { reported <- err },
	})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	select {
	case err := <-reported:
		require.ErrorContains(t, err, "endpoint gone")
	case <-time.After(time.Second):
		t.Fatal("transport error never reported")
	}
}

func TestRunnerCloseStopsLoop(t *testing.T) {
	tr := &chanTransport{rx: make(chan []byte)}
	r, err := New(context.Background(), Config{
		Transport: tr,
		Handler:   func(p []byte) error { return nil },
	})
	require.NoError(t, err)
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the receive loop")
	}
}

func TestRunnerRequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), Config{Handler: func(p []byte) error { return nil }})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Transport: &chanTransport{}})
	require.Error(t, err)
}
