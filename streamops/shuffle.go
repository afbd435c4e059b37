package streamops

import (
	"math/rand/v2"

	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// NoLimit disables the clipping step of Shuffle.
const NoLimit = -1

// RandomInvolution returns a random permutation p of [0, n) with
// p[p[i]] == i for every i. Slots are paired at random; with odd n one slot
// stays in place.
func RandomInvolution(rng *rand.Rand, n int) []int {
	p := make([]int, n)
	q := rng.Perm(n)
	for i := 0; i+1 < n; i += 2 {
		p[q[i]], p[q[i+1]] = q[i+1], q[i]
	}
	if n%2 == 1 {
		p[q[n-1]] = q[n-1]
	}
	return p
}

// Shuffle writes into dst the records of s in random order. It swaps slots
// along a random involution, so no comparison sort is needed.
//
// With maxKeypoints other than NoLimit, the live records are then packed to
// the front, keeping their shuffled order, and the stream is cut to
// maxKeypoints slots.
func Shuffle(env Env, s Stream, rng *rand.Rand, maxKeypoints int, dst *gpucore.Texture) (out Stream, err error) {
	if maxKeypoints < 0 && maxKeypoints != NoLimit {
		return Stream{}, vision.InvalidArgument("streamops: negative keypoint limit %d", maxKeypoints)
	}
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}

	capacity := s.Capacity()
	involution := RandomInvolution(rng, capacity)
	if maxKeypoints == NoLimit || maxKeypoints >= capacity {
		return ApplyInvolution(env, s, involution, dst)
	}

	scratch, err := acquire(env, 1)
	if err != nil {
		return Stream{}, err
	}
	defer func() { err = multierr.Append(err, release(env, scratch)) }()

	shuffled, err := ApplyInvolution(env, s, involution, scratch[0])
	if err != nil {
		return Stream{}, err
	}
	return sortAndPermute(env, shuffled, byPosition, maxKeypoints, keypoint.SideLength(maxKeypoints, s.DescriptorSize, s.ExtraSize), dst)
}

// ApplyInvolution writes into dst the stream whose slot i holds the record
// of slot p[i] of s. Dead slots become zero padding, so applying the same
// involution twice restores every live record to its slot.
func ApplyInvolution(env Env, s Stream, p []int, dst *gpucore.Texture) (out Stream, err error) {
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}
	capacity := s.Capacity()
	if len(p) != capacity {
		return Stream{}, vision.InvalidArgument("streamops: involution of length %d for capacity %d", len(p), capacity)
	}
	for i, j := range p {
		if j < 0 || j >= capacity || p[j] != i {
			return Stream{}, vision.InvalidArgument("streamops: not an involution at %d", i)
		}
	}

	scratch, err := acquire(env, 1)
	if err != nil {
		return Stream{}, err
	}
	defer func() { err = multierr.Append(err, release(env, scratch)) }()

	// Upload p as a permutation texture.
	permSide := ceilSqrt(max(capacity, 1))
	table := make([]byte, permSide*permSide*gpucore.BytesPerTexel)
	for i, j := range p {
		t := makeEntry(j, 0, true)
		copy(table[i*gpucore.BytesPerTexel:], t[:])
	}
	if err := scratch[0].Upload(permSide, permSide, table); err != nil {
		return Stream{}, err
	}

	ppr := s.PixelsPerRecord()
	side := s.SideLength
	fn := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		r, part := q/ppr, q%ppr
		if r >= capacity {
			return endOfListTexel(part)
		}
		src, _, _ := Entry(in[0].Fetch(r))
		if !header(in[1], src, ppr).Valid() {
			return gpucore.Texel{}
		}
		return in[1].Fetch(src*ppr + part)
	}
	if err := dispatch(env, "shuffle", dst, side, fn, scratch[0], s.Texture); err != nil {
		return Stream{}, err
	}

	return Stream{Texture: dst, DescriptorSize: s.DescriptorSize, ExtraSize: s.ExtraSize, SideLength: side}, nil
}
