package gpucore

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/vision"
)

func newTestPool(t *testing.T, capacity int) (*SoftwareAdapter, *TexturePool) {
	t.Helper()
	adapter := NewSoftwareAdapter(WithWorkers(2))
	t.Cleanup(adapter.Close)

	pool, err := NewTexturePool(adapter, capacity)
	if err != nil {
		t.Fatalf("NewTexturePool: %v", err)
	}
	return adapter, pool
}

func TestNewTexturePool(t *testing.T) {
	adapter := NewSoftwareAdapter(WithWorkers(1))
	defer adapter.Close()

	tests := []struct {
		name     string
		adapter  Adapter
		capacity int
		want     int
		wantErr  error
	}{
		{"default capacity", adapter, 0, DefaultPoolCapacity, nil},
		{"explicit capacity", adapter, 3, 3, nil},
		{"negative capacity", adapter, -1, 0, vision.ErrInvalidArgument},
		{"nil adapter", nil, 4, 0, vision.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewTexturePool(tt.adapter, tt.capacity)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pool.Capacity() != tt.want {
				t.Errorf("Capacity() = %d, want %d", pool.Capacity(), tt.want)
			}
		})
	}
}

func TestTexturePool_LIFOReuse(t *testing.T) {
	_, pool := newTestPool(t, 4)

	a, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two live allocations returned the same texture")
	}

	if err := pool.Free(a); err != nil {
		t.Fatal(err)
	}
	if err := pool.Free(b); err != nil {
		t.Fatal(err)
	}

	// b was freed last, so it comes back first.
	c, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if c != b {
		t.Errorf("Allocate after Free(a), Free(b) = %d, want %d", c.ID(), b.ID())
	}
}

func TestTexturePool_OutOfMemory(t *testing.T) {
	_, pool := newTestPool(t, 2)

	for range 2 {
		if _, err := pool.Allocate(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := pool.Allocate(); !errors.Is(err, vision.ErrOutOfMemory) {
		t.Errorf("third Allocate err = %v, want ErrOutOfMemory", err)
	}
	if pool.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", pool.InUse())
	}
}

func TestTexturePool_DoubleFree(t *testing.T) {
	_, pool := newTestPool(t, 2)

	tex, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Free(tex); err != nil {
		t.Fatal(err)
	}
	if err := pool.Free(tex); !errors.Is(err, vision.ErrIllegalOperation) {
		t.Errorf("second Free err = %v, want ErrIllegalOperation", err)
	}
	if pool.InUse() != 0 {
		t.Errorf("InUse() = %d after double free, want 0", pool.InUse())
	}
}

func TestTexturePool_ForeignTexture(t *testing.T) {
	_, p1 := newTestPool(t, 2)
	_, p2 := newTestPool(t, 2)

	tex, err := p1.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p2.Free(tex); !errors.Is(err, vision.ErrIllegalOperation) {
		t.Errorf("Free on foreign pool err = %v, want ErrIllegalOperation", err)
	}
	if err := p2.Free(nil); !errors.Is(err, vision.ErrIllegalOperation) {
		t.Errorf("Free(nil) err = %v, want ErrIllegalOperation", err)
	}
}

func TestTexturePool_ReleaseReportsLeaks(t *testing.T) {
	adapter, pool := newTestPool(t, 3)

	kept, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	returned, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Free(returned); err != nil {
		t.Fatal(err)
	}

	err = pool.Release()
	if !errors.Is(err, vision.ErrIllegalOperation) {
		t.Fatalf("Release err = %v, want leak report", err)
	}
	if adapter.Textures() != 0 {
		t.Errorf("adapter has %d live textures after Release, want 0", adapter.Textures())
	}
	if _, err := pool.Allocate(); !errors.Is(err, vision.ErrIllegalOperation) {
		t.Errorf("Allocate after Release err = %v, want ErrIllegalOperation", err)
	}
	if err := pool.Release(); err != nil {
		t.Errorf("second Release err = %v, want nil", err)
	}
	_ = kept
}

func TestTexturePool_Concurrent(t *testing.T) {
	_, pool := newTestPool(t, 8)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				tex, err := pool.Allocate()
				if err != nil {
					t.Error(err)
					return
				}
				if err := pool.Free(tex); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if pool.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0", pool.InUse())
	}
}
