package streamops

import (
	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// Size is a width and height in pixels.
type Size struct {
	Width, Height int
}

// Border is a margin in pixels, applied on both sides of each axis.
type Border struct {
	X, Y int
}

// BorderClip writes into dst the records of s that lie at least border
// pixels away from the edges of an image of the given size. Survivors are
// ranked by descending score and packed to the front of the stream. The
// output keeps the side length of s: dropped records become trailing
// padding rather than shrinking the stream.
func BorderClip(env Env, s Stream, image Size, border Border, dst *gpucore.Texture) (out Stream, err error) {
	if image.Width <= 0 || image.Height <= 0 {
		return Stream{}, vision.IllegalOperation("streamops: border clip without image size")
	}
	if border.X < 0 || border.Y < 0 {
		return Stream{}, vision.InvalidArgument("streamops: negative border %dx%d", border.X, border.Y)
	}
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}

	scratch, err := acquire(env, 1)
	if err != nil {
		return Stream{}, err
	}
	defer func() { err = multierr.Append(err, release(env, scratch)) }()

	ppr := s.PixelsPerRecord()
	side := s.SideLength
	left, right := float64(border.X), float64(image.Width-border.X)
	top, bottom := float64(border.Y), float64(image.Height-border.Y)

	// Flag records in the margin for discard; the sort drops them.
	mark := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		t := in[0].Fetch(q)
		if q%ppr != 1 {
			return t
		}
		h := header(in[0], q/ppr, ppr)
		if !h.Valid() {
			return t
		}
		px, py := keypoint.DecodePosition(h.X()), keypoint.DecodePosition(h.Y())
		if px < left || px >= right || py < top || py >= bottom {
			t[3] |= byte(keypoint.FlagDiscard)
		}
		return t
	}
	marked := Stream{Texture: scratch[0], DescriptorSize: s.DescriptorSize, ExtraSize: s.ExtraSize, SideLength: side}
	if err := dispatch(env, "border/mark", marked.Texture, side, mark, s.Texture); err != nil {
		return Stream{}, err
	}

	return sortAndPermute(env, marked, byScore, s.Capacity(), side, dst)
}
