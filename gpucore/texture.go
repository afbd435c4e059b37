package gpucore

import (
	"context"

	"github.com/gogpu/vision"
)

// Texture is a pooled texture handle.
//
// A Texture is obtained from TexturePool.Allocate and stays valid until it
// is freed. Its dimensions change whenever a kernel writes to it or it is
// resized; Width and Height always report the current values.
type Texture struct {
	id      TextureID
	adapter Adapter
	pool    *TexturePool
	slot    int
}

// ID returns the backend texture ID.
func (t *Texture) ID() TextureID { return t.id }

// Adapter returns the adapter that owns the texture.
func (t *Texture) Adapter() Adapter { return t.adapter }

// Size returns the current dimensions.
func (t *Texture) Size() (width, height int) {
	w, h, err := t.adapter.TextureSize(t.id)
	if err != nil {
		return 0, 0
	}
	return w, h
}

// Width returns the current width.
func (t *Texture) Width() int {
	w, _ := t.Size()
	return w
}

// Height returns the current height.
func (t *Texture) Height() int {
	_, h := t.Size()
	return h
}

// Resize changes the dimensions and clears the contents.
func (t *Texture) Resize(width, height int) error {
	return t.adapter.ResizeTexture(t.id, width, height)
}

// Upload resizes the texture and writes data into it.
func (t *Texture) Upload(width, height int, data []byte) error {
	if len(data) != width*height*BytesPerTexel {
		return vision.InvalidArgument("gpucore: %d bytes for a %dx%d upload", len(data), width, height)
	}
	if err := t.adapter.ResizeTexture(t.id, width, height); err != nil {
		return err
	}
	return t.adapter.WriteTexture(t.id, data)
}

// Download reads the texture contents.
func (t *Texture) Download() ([]byte, error) {
	return t.adapter.ReadTexture(t.id)
}

// DownloadAsync starts a readback and waits for it.
func (t *Texture) DownloadAsync(ctx context.Context) ([]byte, error) {
	return t.adapter.ReadTextureAsync(t.id).Wait(ctx)
}

// CopyFrom makes t a copy of src.
func (t *Texture) CopyFrom(src *Texture) error {
	return t.adapter.CopyTexture(t.id, src.id)
}

// Clear fills the texture with zero texels, keeping its size.
func (t *Texture) Clear() error {
	w, h, err := t.adapter.TextureSize(t.id)
	if err != nil {
		return err
	}
	return t.adapter.ResizeTexture(t.id, w, h)
}
