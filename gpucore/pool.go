package gpucore

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/gogpu/vision"
)

// DefaultPoolCapacity is the number of textures a pool hands out when no
// capacity is given.
const DefaultPoolCapacity = 64

// TexturePool is a fixed-capacity allocator of reusable textures.
//
// Free slots form a LIFO list: the texture freed last is the next one
// allocated. Backend textures are created on first use of a slot and kept
// until Release, so steady-state pipelines allocate nothing.
//
// Thread safety: All methods are safe for concurrent use.
type TexturePool struct {
	mu       sync.Mutex
	adapter  Adapter
	slots    []*Texture
	free     []int // stack of free slot indices, top at the end
	inUse    []bool
	released bool
}

// NewTexturePool creates a pool of up to capacity textures.
// A capacity of 0 means DefaultPoolCapacity.
func NewTexturePool(adapter Adapter, capacity int) (*TexturePool, error) {
	if adapter == nil {
		return nil, vision.InvalidArgument("gpucore: texture pool requires an adapter")
	}
	if capacity == 0 {
		capacity = DefaultPoolCapacity
	}
	if capacity < 0 {
		return nil, vision.InvalidArgument("gpucore: texture pool capacity %d", capacity)
	}

	p := &TexturePool{
		adapter: adapter,
		slots:   make([]*Texture, capacity),
		free:    make([]int, capacity),
		inUse:   make([]bool, capacity),
	}
	// Slot 0 on top so allocation order is deterministic.
	for i := range capacity {
		p.free[i] = capacity - 1 - i
	}
	return p, nil
}

// Capacity returns the maximum number of textures the pool hands out.
func (p *TexturePool) Capacity() int {
	return len(p.slots)
}

// InUse returns the number of textures currently allocated.
func (p *TexturePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, used := range p.inUse {
		if used {
			n++
		}
	}
	return n
}

// Adapter returns the adapter the pool allocates from.
func (p *TexturePool) Adapter() Adapter {
	return p.adapter
}

// Allocate hands out a texture. Its contents and size are unspecified.
// Returns ErrOutOfMemory when every slot is in use.
func (p *TexturePool) Allocate() (*Texture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil, vision.IllegalOperation("gpucore: allocate from a released texture pool")
	}
	if len(p.free) == 0 {
		return nil, fmt.Errorf("%w: exhausted texture pool (capacity: %d)", vision.ErrOutOfMemory, len(p.slots))
	}

	slot := p.free[len(p.free)-1]
	t := p.slots[slot]
	if t == nil {
		id, err := p.adapter.CreateTexture(Descriptor2D(fmt.Sprintf("pool[%d]", slot), 1, 1))
		if err != nil {
			return nil, fmt.Errorf("gpucore: create pooled texture: %w", err)
		}
		t = &Texture{id: id, adapter: p.adapter, pool: p, slot: slot}
		p.slots[slot] = t
	}

	p.free = p.free[:len(p.free)-1]
	p.inUse[slot] = true
	vision.Logger().Debug("gpucore: texture allocated", "slot", slot, "inUse", len(p.slots)-len(p.free))
	return t, nil
}

// Free returns a texture to the pool.
// Freeing a texture twice, or one this pool did not allocate, is an illegal
// operation.
func (p *TexturePool) Free(t *Texture) error {
	if t == nil {
		return vision.IllegalOperation("gpucore: free of nil texture")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.pool != p || p.slots[t.slot] != t {
		return vision.IllegalOperation("gpucore: texture %d is not managed by this pool", t.id)
	}
	if !p.inUse[t.slot] {
		return vision.IllegalOperation("gpucore: double free of texture %d", t.id)
	}

	p.inUse[t.slot] = false
	p.free = append(p.free, t.slot)
	vision.Logger().Debug("gpucore: texture freed", "slot", t.slot, "inUse", len(p.slots)-len(p.free))
	return nil
}

// Release destroys every backend texture. Textures still allocated are
// reported as leaks; they are destroyed as well.
// Release is safe to call multiple times.
func (p *TexturePool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil
	}
	p.released = true

	var err error
	for slot, t := range p.slots {
		if t == nil {
			continue
		}
		if p.inUse[slot] {
			err = multierr.Append(err, vision.IllegalOperation("gpucore: texture %d leaked", t.id))
		}
		p.adapter.DestroyTexture(t.id)
		p.slots[slot] = nil
		p.inUse[slot] = false
	}
	p.free = p.free[:0]
	return err
}
