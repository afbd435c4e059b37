package streamops

import (
	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// Mix writes into dst a stream holding the records of a followed by the
// records of b. The result has room for at least the sum of both
// capacities; live records are compacted to the front in that order.
//
// Both streams must share descriptor and extra sizes.
func Mix(env Env, a, b Stream, dst *gpucore.Texture) (out Stream, err error) {
	if err := a.Validate(); err != nil {
		return Stream{}, err
	}
	if err := b.Validate(); err != nil {
		return Stream{}, err
	}
	if !a.SameFormat(b) {
		return Stream{}, vision.IllegalOperation("streamops: can't mix streams of different formats (%d+%d and %d+%d bytes)",
			a.DescriptorSize, a.ExtraSize, b.DescriptorSize, b.ExtraSize)
	}

	capA, capB := a.Capacity(), b.Capacity()
	capacity := capA + capB
	side := keypoint.SideLength(capacity, a.DescriptorSize, a.ExtraSize)
	mixed := Stream{DescriptorSize: a.DescriptorSize, ExtraSize: a.ExtraSize, SideLength: side}
	if mixed.Capacity() < capacity {
		return Stream{}, vision.NotSupported("streamops: mixed capacity %d exceeds the largest stream", capacity)
	}

	scratch, err := acquire(env, 1)
	if err != nil {
		return Stream{}, err
	}
	defer func() { err = multierr.Append(err, release(env, scratch)) }()
	mixed.Texture = scratch[0]

	ppr := a.PixelsPerRecord()
	concat := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		r, part := q/ppr, q%ppr
		switch {
		case r < capA:
			return in[0].Fetch(r*ppr + part)
		case r < capacity:
			return in[1].Fetch((r-capA)*ppr + part)
		default:
			return endOfListTexel(part)
		}
	}
	if err := dispatch(env, "mix/concat", mixed.Texture, side, concat, a.Texture, b.Texture); err != nil {
		return Stream{}, err
	}

	return Compact(env, mixed, dst)
}
