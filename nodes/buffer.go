package nodes

import (
	"context"

	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// pageFlip keeps the last two inputs of a buffer node in two private
// textures. The first run outputs its own input; every later run outputs
// the input of the previous run.
type pageFlip struct {
	page   int
	primed bool
}

// store copies src into the spare page and returns the page to output and
// whether it holds the previous input.
func (p *pageFlip) store(x *pipeline.Exec, src *gpucore.Texture) (*gpucore.Texture, bool, error) {
	spare, current := x.Texture(1-p.page), x.Texture(p.page)
	if err := spare.CopyFrom(src); err != nil {
		return nil, false, err
	}
	p.page = 1 - p.page
	if !p.primed {
		p.primed = true
		return spare, false, nil
	}
	return current, true, nil
}

func (p *pageFlip) reset() { *p = pageFlip{} }

// KeypointBuffer delays a keypoint stream by one run.
type KeypointBuffer struct {
	*pipeline.Base

	flip     pageFlip
	previous streamops.Stream
}

// NewKeypointBuffer creates a keypoint buffer.
func NewKeypointBuffer(ids *pipeline.IDs, name string) (*KeypointBuffer, error) {
	n := &KeypointBuffer{}
	b, err := pipeline.NewBase(ids, name, 2, n.run, keypointFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// Release forgets the buffered stream and releases the node.
func (n *KeypointBuffer) Release(pool *gpucore.TexturePool) error {
	n.flip.reset()
	n.previous = streamops.Stream{}
	return n.Base.Release(pool)
}

func (n *KeypointBuffer) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	tex, delayed, err := n.flip.store(x, s.Texture)
	if err != nil {
		return nil, err
	}

	out := s
	if delayed {
		out = n.previous
	}
	out.Texture = tex
	n.previous = s
	return nil, writeStream(x, "", out)
}

// ImageBuffer delays an image by one run.
type ImageBuffer struct {
	*pipeline.Base

	flip     pageFlip
	previous pipeline.ImageFormat
}

// NewImageBuffer creates an image buffer.
func NewImageBuffer(ids *pipeline.IDs, name string) (*ImageBuffer, error) {
	n := &ImageBuffer{}
	b, err := pipeline.NewBase(ids, name, 2, n.run, imageFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// Release forgets the buffered image and releases the node.
func (n *ImageBuffer) Release(pool *gpucore.TexturePool) error {
	n.flip.reset()
	n.previous = pipeline.RGBA
	return n.Base.Release(pool)
}

func (n *ImageBuffer) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	m, err := x.Read("")
	if err != nil {
		return nil, err
	}
	image, format, err := m.Image()
	if err != nil {
		return nil, err
	}
	tex, delayed, err := n.flip.store(x, image)
	if err != nil {
		return nil, err
	}

	outFormat := format
	if delayed {
		outFormat = n.previous
	}
	n.previous = format
	out, err := pipeline.ImageMessage(tex, outFormat)
	if err != nil {
		return nil, err
	}
	return nil, x.Write("", out)
}
