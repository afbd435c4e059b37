package gpucore

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/vision"
	"github.com/gogpu/vision/internal/parallel"
)

// MaxTextureSide is the largest texture side accepted by SoftwareAdapter.
// It matches the common WebGPU maxTextureDimension2D limit.
const MaxTextureSide = 8192

// SoftwareOption configures a SoftwareAdapter.
type SoftwareOption func(*softwareOptions)

type softwareOptions struct {
	workers int
}

// WithWorkers sets the number of goroutines executing kernel passes.
// Zero or a negative value means GOMAXPROCS.
func WithWorkers(n int) SoftwareOption {
	return func(o *softwareOptions) {
		o.workers = n
	}
}

// SoftwareAdapter is an in-memory Adapter that runs kernels on the CPU.
//
// Kernel passes are split across a worker pool. Texture operations are
// serialized by a single lock; a pass holds it for its whole duration, so
// passes never observe partially written textures.
type SoftwareAdapter struct {
	mu       sync.Mutex
	textures map[TextureID]*softTexture
	nextID   TextureID
	workers  *parallel.Pool
	passes   uint64
}

type softTexture struct {
	label  string
	width  int
	height int
	data   []byte
}

// NewSoftwareAdapter creates a CPU adapter.
func NewSoftwareAdapter(opts ...SoftwareOption) *SoftwareAdapter {
	var o softwareOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &SoftwareAdapter{
		textures: make(map[TextureID]*softTexture),
		workers:  parallel.NewPool(o.workers),
	}
}

// Close stops the worker pool. Textures still alive are discarded.
func (a *SoftwareAdapter) Close() {
	a.workers.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.textures); n > 0 {
		vision.Logger().Debug("gpucore: discarding live textures", "count", n)
	}
	clear(a.textures)
}

// Passes returns the number of kernel passes dispatched so far.
func (a *SoftwareAdapter) Passes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.passes
}

// Textures returns the number of live textures.
func (a *SoftwareAdapter) Textures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.textures)
}

// CreateTexture implements Adapter.
func (a *SoftwareAdapter) CreateTexture(desc *TextureDescriptor) (TextureID, error) {
	if desc == nil {
		return InvalidID, vision.InvalidArgument("gpucore: nil texture descriptor")
	}
	if desc.Format != TextureFormat && desc.Format != gputypes.TextureFormatUndefined {
		return InvalidID, vision.NotSupported("gpucore: texture format %v", desc.Format)
	}
	if desc.Size.DepthOrArrayLayers > 1 {
		return InvalidID, vision.NotSupported("gpucore: %d array layers", desc.Size.DepthOrArrayLayers)
	}
	w, h := int(desc.Size.Width), int(desc.Size.Height)
	if err := checkSize(w, h); err != nil {
		return InvalidID, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	id := a.nextID
	a.textures[id] = &softTexture{
		label:  desc.Label,
		width:  w,
		height: h,
		data:   make([]byte, w*h*BytesPerTexel),
	}
	return id, nil
}

// DestroyTexture implements Adapter.
func (a *SoftwareAdapter) DestroyTexture(id TextureID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.textures, id)
}

// ResizeTexture implements Adapter.
func (a *SoftwareAdapter) ResizeTexture(id TextureID, width, height int) error {
	if err := checkSize(width, height); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.lookup(id)
	if err != nil {
		return err
	}
	t.resize(width, height)
	return nil
}

// TextureSize implements Adapter.
func (a *SoftwareAdapter) TextureSize(id TextureID) (int, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	return t.width, t.height, nil
}

// WriteTexture implements Adapter.
func (a *SoftwareAdapter) WriteTexture(id TextureID, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.lookup(id)
	if err != nil {
		return err
	}
	if len(data) != len(t.data) {
		return vision.InvalidArgument("gpucore: write of %d bytes into %dx%d texture", len(data), t.width, t.height)
	}
	copy(t.data, data)
	return nil
}

// ReadTexture implements Adapter.
func (a *SoftwareAdapter) ReadTexture(id TextureID) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), t.data...), nil
}

// ReadTextureAsync implements Adapter.
func (a *SoftwareAdapter) ReadTextureAsync(id TextureID) *Readback {
	r, complete := NewReadback()
	data, err := a.ReadTexture(id)
	go complete(data, err)
	return r
}

// CopyTexture implements Adapter.
func (a *SoftwareAdapter) CopyTexture(dst, src TextureID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.lookup(src)
	if err != nil {
		return err
	}
	d, err := a.lookup(dst)
	if err != nil {
		return err
	}
	if s == d {
		return nil
	}
	d.resize(s.width, s.height)
	copy(d.data, s.data)
	return nil
}

// Dispatch implements Adapter.
func (a *SoftwareAdapter) Dispatch(k *Kernel) error {
	if k == nil || k.Func == nil {
		return vision.InvalidArgument("gpucore: kernel without function")
	}
	if err := checkSize(k.Width, k.Height); err != nil {
		return fmt.Errorf("gpucore: kernel %q: %w", k.Label, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	out, err := a.lookup(k.Output)
	if err != nil {
		return fmt.Errorf("gpucore: kernel %q output: %w", k.Label, err)
	}

	inputs := make([]Sampler, len(k.Inputs))
	for i, id := range k.Inputs {
		if id == k.Output {
			return vision.IllegalOperation("gpucore: kernel %q reads its own output", k.Label)
		}
		t, err := a.lookup(id)
		if err != nil {
			return fmt.Errorf("gpucore: kernel %q input %d: %w", k.Label, i, err)
		}
		inputs[i] = NewSampler(t.width, t.height, t.data)
	}

	w := k.Width
	result := make([]byte, w*k.Height*BytesPerTexel)
	a.workers.For(w*k.Height, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			texel := k.Func(i%w, i/w, inputs)
			copy(result[i*BytesPerTexel:], texel[:])
		}
	})

	out.width, out.height, out.data = w, k.Height, result
	a.passes++
	return nil
}

func (a *SoftwareAdapter) lookup(id TextureID) (*softTexture, error) {
	t, ok := a.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	return t, nil
}

func (t *softTexture) resize(width, height int) {
	n := width * height * BytesPerTexel
	if cap(t.data) >= n {
		t.data = t.data[:n]
		clear(t.data)
	} else {
		t.data = make([]byte, n)
	}
	t.width, t.height = width, height
}

func checkSize(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxTextureSide || height > MaxTextureSide {
		return vision.InvalidArgument("gpucore: invalid texture size %dx%d", width, height)
	}
	return nil
}

// Compile-time interface check.
var _ Adapter = (*SoftwareAdapter)(nil)
