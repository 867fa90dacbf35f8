package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*SeqpacketTransport, *SeqpacketTransport) {
	t.Helper()
	a, b, err := NewSeqpacketTransportPair(4)
	if err != nil {
		t.Skipf("seqpacket socketpair unavailable: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSeqpacketRoundTrip(t *testing.T) {
	a, b := newPair(t)

	require.NoError(t, a.TrySend([]byte("hello firmware")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello firmware"), got)
}

func TestSeqpacketPreservesMessageBoundaries(t *testing.T) {
	a, b := newPair(t)

	require.NoError(t, a.TrySend([]byte("one")))
	require.NoError(t, a.TrySend([]byte("twotwo")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), first)

	second, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("twotwo"), second)
}

func TestSeqpacketRecvHonorsContext(t *testing.T) {
	a, _ := newPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Recv(ctx)
	require.Error(t, err)
}

func TestSeqpacketCloseIsIdempotent(t *testing.T) {
	a, _ := newPair(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
