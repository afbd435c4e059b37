package streamops

import (
	"math"
	"math/bits"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// MaxDescriptorSize is the largest descriptor, in bytes, a filter compares.
const MaxDescriptorSize = 64

// keepFunc decides whether record slot of the first input survives a
// slot-wise filter against the same slot of the reference.
type keepFunc func(in, ref gpucore.Sampler, slot, ppr int) bool

// pairwise runs a slot-wise filter of s against ref. Dropped and dead slots
// become zero padding, so surviving records keep their slots.
func pairwise(env Env, label string, s, ref Stream, keep keepFunc, dst *gpucore.Texture) (Stream, error) {
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}
	if err := ref.Validate(); err != nil {
		return Stream{}, err
	}
	if !s.SameFormat(ref) {
		return Stream{}, vision.IllegalOperation("streamops: %s requires streams of the same format", label)
	}

	ppr := s.PixelsPerRecord()
	side := max(s.SideLength, ref.SideLength)
	capS, capRef := s.Capacity(), ref.Capacity()

	fn := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		r := q / ppr
		if r >= capS || r >= capRef {
			return gpucore.Texel{}
		}
		if !header(in[0], r, ppr).Valid() || !header(in[1], r, ppr).Valid() {
			return gpucore.Texel{}
		}
		if !keep(in[0], in[1], r, ppr) {
			return gpucore.Texel{}
		}
		return in[0].Fetch(q)
	}
	if err := dispatch(env, label, dst, side, fn, s.Texture, ref.Texture); err != nil {
		return Stream{}, err
	}

	return Stream{Texture: dst, DescriptorSize: s.DescriptorSize, ExtraSize: s.ExtraSize, SideLength: side}, nil
}

// DistanceFilter keeps the records of s lying within threshold pixels of
// the record in the same slot of ref. Records without a live counterpart
// are dropped.
func DistanceFilter(env Env, s, ref Stream, threshold float64, dst *gpucore.Texture) (Stream, error) {
	if threshold < 0 || math.IsNaN(threshold) {
		return Stream{}, vision.InvalidArgument("streamops: distance threshold %v", threshold)
	}
	keep := func(in, ref gpucore.Sampler, slot, ppr int) bool {
		a, b := header(in, slot, ppr), header(ref, slot, ppr)
		dx := keypoint.DecodePosition(a.X()) - keypoint.DecodePosition(b.X())
		dy := keypoint.DecodePosition(a.Y()) - keypoint.DecodePosition(b.Y())
		return math.Hypot(dx, dy) <= threshold
	}
	return pairwise(env, "filter/distance", s, ref, keep, dst)
}

// HammingFilter keeps the records of s whose descriptor differs in at most
// threshold bits from the descriptor in the same slot of ref. Only 32 and
// 64 byte descriptors are supported.
func HammingFilter(env Env, s, ref Stream, threshold int, dst *gpucore.Texture) (Stream, error) {
	if threshold < 0 {
		return Stream{}, vision.InvalidArgument("streamops: hamming threshold %d", threshold)
	}
	if s.DescriptorSize != 32 && s.DescriptorSize != 64 {
		return Stream{}, vision.NotSupported("streamops: hamming filter with %d byte descriptors", s.DescriptorSize)
	}

	start := keypoint.BaseRecordBytes + s.ExtraSize
	end := start + s.DescriptorSize
	keep := func(in, ref gpucore.Sampler, slot, ppr int) bool {
		d := 0
		for off := start; off < end; off++ {
			d += bits.OnesCount8(recordByte(in, slot, ppr, off) ^ recordByte(ref, slot, ppr, off))
		}
		return d <= threshold
	}
	return pairwise(env, "filter/hamming", s, ref, keep, dst)
}

// DiscardDescriptors writes into dst a copy of s without descriptor bytes.
// The capacity is kept; the side length shrinks accordingly.
func DiscardDescriptors(env Env, s Stream, dst *gpucore.Texture) (Stream, error) {
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}

	capacity := s.Capacity()
	ppr := s.PixelsPerRecord()
	outPPR := keypoint.PixelsPerRecord(0, s.ExtraSize)
	side := keypoint.SideLength(capacity, 0, s.ExtraSize)

	// Header and extra bytes come first, so each record is a prefix copy.
	fn := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		r, part := q/outPPR, q%outPPR
		if r >= capacity {
			return endOfListTexel(part)
		}
		return in[0].Fetch(r*ppr + part)
	}
	if err := dispatch(env, "discard-descriptors", dst, side, fn, s.Texture); err != nil {
		return Stream{}, err
	}

	return Stream{Texture: dst, ExtraSize: s.ExtraSize, SideLength: side}, nil
}
