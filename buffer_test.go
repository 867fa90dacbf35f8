package nnrt

import "testing"

func TestCreateBufferZeroSize(t *testing.T) {
	_, err := CreateBuffer(0)
	if !IsCode(err, ErrInvalidArgument) {
		t.Fatalf("CreateBuffer(0) error = %v, want ErrInvalidArgument", err)
	}
}

func TestCreateBufferAndMap(t *testing.T) {
	b, err := CreateBuffer(64)
	if err != nil {
		t.Fatalf("CreateBuffer(64) returned error: %v", err)
	}
	if b.Size() != 64 {
		t.Fatalf("Size() = %d, want 64", b.Size())
	}

	view, err := b.Map(0, 64)
	if err != nil {
		t.Fatalf("Map(0,64) returned error: %v", err)
	}
	view[0] = 0x42
	view2, _ := b.Map(0, 1)
	if view2[0] != 0x42 {
		t.Fatal("Map views should share backing memory")
	}
}

func TestBufferMapOutOfBounds(t *testing.T) {
	b, _ := CreateBuffer(16)
	if _, err := b.Map(10, 16); !IsCode(err, ErrInvalidArgument) {
		t.Fatalf("Map out of bounds error = %v, want ErrInvalidArgument", err)
	}
}

func TestBufferRefcounting(t *testing.T) {
	b, _ := CreateBuffer(32)
	if b.RefCount() != 1 {
		t.Fatalf("initial RefCount() = %d, want 1", b.RefCount())
	}
	b.Get()
	if b.RefCount() != 2 {
		t.Fatalf("RefCount() after Get() = %d, want 2", b.RefCount())
	}
	b.Put()
	if b.RefCount() != 1 {
		t.Fatalf("RefCount() after Put() = %d, want 1", b.RefCount())
	}
	b.Put()
	if b.RefCount() != 0 {
		t.Fatalf("RefCount() after final Put() = %d, want 0", b.RefCount())
	}
}
