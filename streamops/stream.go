// Package streamops implements the parallel algorithms that operate on
// keypoint streams in place: sorting, clipping, mixing, border clipping,
// shuffling, geometric transforms and filters.
//
// Streams stay in texture memory. Every operation is expressed as one or
// more kernel passes over fixed-size index spaces; no operation decodes a
// stream into a list of records. Sorting uses a bitonic network whose pass
// schedule depends only on the stream capacity.
//
// Invalid slots (end-of-list sentinels, zero padding, records flagged for
// discard) never reach the output of an operation as live records. Sorted
// outputs place the end-of-list sentinel after the last live record;
// outputs that keep slot positions write zero padding instead, so that
// decoding continues past them.
package streamops

import (
	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// Env gives an operation access to the GPU and to temporary textures.
//
// Every texture obtained with AcquireScratch is returned with FreeScratch
// before the operation returns, including on error paths.
type Env interface {
	Adapter() gpucore.Adapter
	AcquireScratch() (*gpucore.Texture, error)
	FreeScratch(t *gpucore.Texture) error
}

// PoolEnv is an Env that draws scratch textures straight from a pool.
type PoolEnv struct {
	Pool *gpucore.TexturePool
}

// Adapter implements Env.
func (e PoolEnv) Adapter() gpucore.Adapter { return e.Pool.Adapter() }

// AcquireScratch implements Env.
func (e PoolEnv) AcquireScratch() (*gpucore.Texture, error) { return e.Pool.Allocate() }

// FreeScratch implements Env.
func (e PoolEnv) FreeScratch(t *gpucore.Texture) error { return e.Pool.Free(t) }

// Stream is a keypoint stream held in a texture.
type Stream struct {
	Texture        *gpucore.Texture
	DescriptorSize int
	ExtraSize      int
	SideLength     int
}

// Capacity returns the number of record slots in the stream.
// It is zero for malformed shapes.
func (s Stream) Capacity() int {
	c, err := keypoint.Capacity(s.DescriptorSize, s.ExtraSize, s.SideLength)
	if err != nil {
		return 0
	}
	return c
}

// PixelsPerRecord returns the number of texels per record.
func (s Stream) PixelsPerRecord() int {
	return keypoint.PixelsPerRecord(s.DescriptorSize, s.ExtraSize)
}

// SameFormat reports whether both streams carry records of the same shape.
func (s Stream) SameFormat(o Stream) bool {
	return s.DescriptorSize == o.DescriptorSize && s.ExtraSize == o.ExtraSize
}

// Validate checks the shape of the stream against its texture.
func (s Stream) Validate() error {
	if s.Texture == nil {
		return vision.IllegalOperation("streamops: stream without texture")
	}
	if err := keypoint.ValidateSizes(s.DescriptorSize, s.ExtraSize); err != nil {
		return err
	}
	w, h := s.Texture.Size()
	if w != h || w != s.SideLength {
		return vision.IllegalOperation("streamops: stream side length %d does not match its %dx%d texture", s.SideLength, w, h)
	}
	return nil
}

// Upload encodes records into tex and returns the resulting stream.
func Upload(tex *gpucore.Texture, records []keypoint.Record, descriptorSize, extraSize, sideLength int) (Stream, error) {
	buf, err := keypoint.Encode(records, descriptorSize, extraSize, sideLength)
	if err != nil {
		return Stream{}, err
	}
	if err := tex.Upload(sideLength, sideLength, buf); err != nil {
		return Stream{}, err
	}
	return Stream{Texture: tex, DescriptorSize: descriptorSize, ExtraSize: extraSize, SideLength: sideLength}, nil
}

// Download reads the stream texture and decodes it.
func Download(s Stream) ([]keypoint.Record, error) {
	pixels, err := s.Texture.Download()
	if err != nil {
		return nil, err
	}
	return keypoint.DecodeAll(pixels, s.DescriptorSize, s.ExtraSize, s.SideLength)
}

// endOfListTexel returns texel part of a sentinel record.
func endOfListTexel(part int) gpucore.Texel {
	if part*gpucore.BytesPerTexel < keypoint.BaseRecordBytes {
		return gpucore.Texel{0xFF, 0xFF, 0xFF, 0xFF}
	}
	return gpucore.Texel{}
}

// header reads the record header of slot from a stream sampler.
func header(src gpucore.Sampler, slot, ppr int) keypoint.Header {
	a := src.Fetch(slot * ppr)
	b := src.Fetch(slot*ppr + 1)
	return keypoint.Header{a[0], a[1], a[2], a[3], b[0], b[1], b[2], b[3]}
}

// recordByte reads byte off of the record in slot.
func recordByte(src gpucore.Sampler, slot, ppr, off int) byte {
	t := src.Fetch(slot*ppr + off/gpucore.BytesPerTexel)
	return t[off%gpucore.BytesPerTexel]
}

func acquire(env Env, n int) ([]*gpucore.Texture, error) {
	texs := make([]*gpucore.Texture, 0, n)
	for range n {
		t, err := env.AcquireScratch()
		if err != nil {
			_ = release(env, texs)
			return nil, err
		}
		texs = append(texs, t)
	}
	return texs, nil
}

// release frees scratch textures in reverse order of acquisition.
func release(env Env, texs []*gpucore.Texture) error {
	var err error
	for i := len(texs) - 1; i >= 0; i-- {
		err = multierr.Append(err, env.FreeScratch(texs[i]))
	}
	return err
}

func dispatch(env Env, label string, out *gpucore.Texture, side int, fn gpucore.KernelFunc, inputs ...*gpucore.Texture) error {
	ids := make([]gpucore.TextureID, len(inputs))
	for i, t := range inputs {
		ids[i] = t.ID()
	}
	vision.Logger().Debug("streamops: pass", "kernel", label, "side", side)
	return env.Adapter().Dispatch(&gpucore.Kernel{
		Label:  label,
		Output: out.ID(),
		Width:  side,
		Height: side,
		Inputs: ids,
		Func:   fn,
	})
}
