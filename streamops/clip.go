package streamops

import (
	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// Permute writes into dst a stream of the given capacity whose record of
// rank r is the record of s named by perm entry r. Ranks past the end of
// perm, or naming dead slots, become end-of-list sentinels.
func Permute(env Env, s Stream, perm Permutation, capacity int, dst *gpucore.Texture) (Stream, error) {
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}
	if capacity < 0 {
		return Stream{}, vision.InvalidArgument("streamops: negative capacity %d", capacity)
	}
	return permute(env, s, perm, capacity, keypoint.SideLength(capacity, s.DescriptorSize, s.ExtraSize), dst)
}

// permute is Permute with an explicit output side length, which must hold
// capacity records.
func permute(env Env, s Stream, perm Permutation, capacity, side int, dst *gpucore.Texture) (Stream, error) {
	ppr := s.PixelsPerRecord()
	capacity = min(capacity, perm.Length)

	fn := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		r, part := q/ppr, q%ppr
		if r >= capacity {
			return endOfListTexel(part)
		}
		index, _, valid := Entry(in[0].Fetch(r))
		if !valid {
			return endOfListTexel(part)
		}
		return in[1].Fetch(index*ppr + part)
	}
	if err := dispatch(env, "permute", dst, side, fn, perm.Texture, s.Texture); err != nil {
		return Stream{}, err
	}

	return Stream{Texture: dst, DescriptorSize: s.DescriptorSize, ExtraSize: s.ExtraSize, SideLength: side}, nil
}

// Clip writes into dst the k highest-scoring records of s, best first.
// Ties keep slot order. With k at or above the capacity of s, Clip copies s
// unchanged.
func Clip(env Env, s Stream, k int, dst *gpucore.Texture) (Stream, error) {
	if k < 0 {
		return Stream{}, vision.InvalidArgument("streamops: negative clip size %d", k)
	}
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}
	if k >= s.Capacity() {
		if err := dst.CopyFrom(s.Texture); err != nil {
			return Stream{}, err
		}
		out := s
		out.Texture = dst
		return out, nil
	}
	return sortAndPermute(env, s, byScore, k, keypoint.SideLength(k, s.DescriptorSize, s.ExtraSize), dst)
}

// Compact writes into dst the live records of s in slot order, followed by
// the end-of-list sentinel. The capacity of s is kept.
func Compact(env Env, s Stream, dst *gpucore.Texture) (Stream, error) {
	return sortAndPermute(env, s, byPosition, s.Capacity(), s.SideLength, dst)
}

// sortAndPermute orders the records of s and writes the first capacity of
// them into a stream of the given side length.
func sortAndPermute(env Env, s Stream, order ordering, capacity, side int, dst *gpucore.Texture) (out Stream, err error) {
	scratch, err := acquire(env, 1)
	if err != nil {
		return Stream{}, err
	}
	defer func() { err = multierr.Append(err, release(env, scratch)) }()

	perm, err := sortPermutation(env, s, scratch[0], order)
	if err != nil {
		return Stream{}, err
	}
	return permute(env, s, perm, capacity, side, dst)
}
