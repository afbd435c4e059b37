package streamops

import (
	"math/bits"

	"go.uber.org/multierr"

	"github.com/gogpu/vision/gpucore"
)

// Permutation is a ranking of stream slots stored in a texture.
//
// Texel r holds the entry of rank r: the slot index in bytes 0-1 (little
// endian), the slot's score byte in byte 2 and 255 in byte 3 when the slot
// holds a live record. Only the first Length texels are meaningful.
type Permutation struct {
	Texture *gpucore.Texture
	Length  int
}

// Entry decodes one permutation texel.
func Entry(t gpucore.Texel) (index int, score uint8, valid bool) {
	return int(t[0]) | int(t[1])<<8, t[2], t[3] != 0
}

func makeEntry(index int, score uint8, valid bool) gpucore.Texel {
	v := uint8(0)
	if valid {
		v = 255
	}
	return gpucore.Texel{uint8(index), uint8(index >> 8), score, v}
}

// ordering selects the sort key of a permutation.
type ordering int

const (
	// byScore ranks live records first, then by descending score, then by
	// ascending slot index.
	byScore ordering = iota

	// byPosition ranks live records first, then by ascending slot index.
	// It compacts a stream without reordering its live records.
	byPosition
)

// before reports whether entry a ranks strictly before entry b.
func (o ordering) before(a, b gpucore.Texel) bool {
	ai, as, av := Entry(a)
	bi, bs, bv := Entry(b)
	if av != bv {
		return av
	}
	if o == byScore && as != bs {
		return as > bs
	}
	return ai < bi
}

// networkSize returns the number of slots the sorting network spans: the
// smallest power of two not below capacity.
func networkSize(capacity int) int {
	if capacity <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(capacity-1))
}

// SortPasses returns the number of compare-exchange passes used to sort a
// stream of the given capacity. It depends on nothing else.
func SortPasses(capacity int) int {
	l := bits.Len(uint(networkSize(capacity))) - 1
	return l * (l + 1) / 2
}

// SortPermutation writes into dst the permutation that orders the slots of
// s by descending score, live records first. Equal scores keep slot order.
func SortPermutation(env Env, s Stream, dst *gpucore.Texture) (Permutation, error) {
	return sortPermutation(env, s, dst, byScore)
}

func sortPermutation(env Env, s Stream, dst *gpucore.Texture, order ordering) (perm Permutation, err error) {
	if err := s.Validate(); err != nil {
		return Permutation{}, err
	}

	capacity := s.Capacity()
	n := networkSize(capacity)
	side := ceilSqrt(n)
	passes := SortPasses(capacity)
	ppr := s.PixelsPerRecord()

	scratch, err := acquire(env, 1)
	if err != nil {
		return Permutation{}, err
	}
	defer func() { err = multierr.Append(err, release(env, scratch)) }()

	// Ping-pong so that the last pass lands in dst.
	cur, next := dst, scratch[0]
	if passes%2 == 1 {
		cur, next = next, cur
	}

	seed := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		i := y*side + x
		if i >= capacity {
			return makeEntry(i, 0, false)
		}
		h := header(in[0], i, ppr)
		return makeEntry(i, h.ScoreByte(), h.Valid())
	}
	if err := dispatch(env, "sort/init", cur, side, seed, s.Texture); err != nil {
		return Permutation{}, err
	}

	for k := 2; k <= n; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			if err := dispatch(env, "sort/merge", next, side, bitonicPass(n, side, k, j, order), cur); err != nil {
				return Permutation{}, err
			}
			cur, next = next, cur
		}
	}

	return Permutation{Texture: dst, Length: n}, nil
}

// bitonicPass returns the compare-exchange kernel of stage (k, j).
func bitonicPass(n, side, k, j int, order ordering) gpucore.KernelFunc {
	return func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		i := y*side + x
		if i >= n {
			return gpucore.Texel{}
		}
		l := i ^ j
		a, b := in[0].Fetch(i), in[0].Fetch(l)

		// In an ascending block the lower index keeps the better entry.
		ascending := i&k == 0
		if (i < l) == ascending {
			if order.before(b, a) {
				return b
			}
			return a
		}
		if order.before(b, a) {
			return a
		}
		return b
	}
}

func ceilSqrt(n int) int {
	s := 0
	for s*s < n {
		s++
	}
	return max(s, 1)
}
