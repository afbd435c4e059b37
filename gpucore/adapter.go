package gpucore

import (
	"context"
	"errors"
)

// ErrUnknownTexture is returned when a TextureID does not name a live texture.
var ErrUnknownTexture = errors.New("gpucore: unknown texture")

// Adapter abstracts over GPU backend implementations.
//
// Implementations must be safe for concurrent use.
//
// Resource lifecycle:
//   - Textures are created with CreateTexture
//   - Textures must be explicitly destroyed with DestroyTexture
//   - IDs become invalid after destruction and are never reused
type Adapter interface {
	// === Texture Management ===

	// CreateTexture creates an RGBA8 2D texture with zeroed contents.
	CreateTexture(desc *TextureDescriptor) (TextureID, error)

	// DestroyTexture releases a texture. Unknown IDs are ignored.
	DestroyTexture(id TextureID)

	// ResizeTexture changes the texture dimensions. Contents are cleared.
	ResizeTexture(id TextureID, width, height int) error

	// TextureSize returns the current texture dimensions.
	TextureSize(id TextureID) (width, height int, err error)

	// WriteTexture uploads texel data. len(data) must equal
	// width*height*BytesPerTexel.
	WriteTexture(id TextureID, data []byte) error

	// ReadTexture downloads texel data.
	// This may cause a GPU-CPU synchronization stall.
	ReadTexture(id TextureID) ([]byte, error)

	// ReadTextureAsync starts a download and returns immediately.
	// The snapshot is taken at call time; later passes do not affect it.
	ReadTextureAsync(id TextureID) *Readback

	// CopyTexture resizes dst to the size of src and copies its contents.
	CopyTexture(dst, src TextureID) error

	// === Compute ===

	// Dispatch runs one compute pass and waits for it to complete.
	Dispatch(k *Kernel) error
}

// Readback is a pending GPU to host transfer.
type Readback struct {
	done chan struct{}
	data []byte
	err  error
}

// NewReadback returns a pending readback and the function that completes it.
// The completion function must be called exactly once.
func NewReadback() (*Readback, func(data []byte, err error)) {
	r := &Readback{done: make(chan struct{})}
	return r, func(data []byte, err error) {
		r.data, r.err = data, err
		close(r.done)
	}
}

// Wait blocks until the transfer completes or ctx is done.
func (r *Readback) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the transfer completes.
func (r *Readback) Done() <-chan struct{} {
	return r.done
}
