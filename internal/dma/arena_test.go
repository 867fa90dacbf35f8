package dma

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocFree(t *testing.T) {
	a := NewArena(4096, 0)

	r, err := a.Alloc(256)
	require.NoError(t, err)
	require.Equal(t, uint32(256), r.Size)
	require.Equal(t, DefaultCarveoutBase, r.DeviceAddr)
	require.Len(t, r.CPU, 256)

	r.CPU[0] = 0xAB
	r.Free()
	require.Nil(t, r.CPU)

	// The span is returned to the arena and zeroed.
	r2, err := a.Alloc(256)
	require.NoError(t, err)
	require.Equal(t, DefaultCarveoutBase, r2.DeviceAddr)
	require.Equal(t, byte(0), r2.CPU[0])
}

func TestArenaZeroSize(t *testing.T) {
	a := NewArena(4096, 0)
	_, err := a.Alloc(0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestArenaExhaustion(t *testing.T) {
	a := NewArena(1024, 0)

	r, err := a.Alloc(1024)
	require.NoError(t, err)

	_, err = a.Alloc(64)
	require.ErrorIs(t, err, ErrOutOfMemory)

	r.Free()
	_, err = a.Alloc(64)
	require.NoError(t, err)
}

func TestArenaCoalescing(t *testing.T) {
	a := NewArena(4096, 0)

	regions := make([]*Region, 4)
	for i := range regions {
		r, err := a.Alloc(1024)
		require.NoError(t, err)
		regions[i] = r
	}

	// Free out of order; spans must coalesce back into one.
	regions[1].Free()
	regions[3].Free()
	regions[0].Free()
	regions[2].Free()

	r, err := a.Alloc(4096)
	require.NoError(t, err)
	r.Free()
}

func TestArenaAlignment(t *testing.T) {
	a := NewArena(4096, 0)

	r1, err := a.Alloc(10)
	require.NoError(t, err)
	r2, err := a.Alloc(10)
	require.NoError(t, err)

	require.Equal(t, uint32(0), r1.DeviceAddr%AllocAlign)
	require.Equal(t, uint32(0), r2.DeviceAddr%AllocAlign)
	require.GreaterOrEqual(t, r2.DeviceAddr-r1.DeviceAddr, uint32(AllocAlign))
}

func BenchmarkArenaAllocFree(b *testing.B) {
	a := NewArena(1<<20, 0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r, err := a.Alloc(4096)
		if err != nil {
			b.Fatal(err)
		}
		r.Free()
	}
}
