package streamops

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
)

// Homography is a 3x3 projective transform in row-major order.
type Homography [9]float64

// Identity is the identity transform.
var Identity = Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Apply maps a point through h. Points sent to infinity map to (+Inf, +Inf).
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return math.Inf(1), math.Inf(1)
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// Transform writes into dst a copy of s with every live record moved by h.
// Positions are clamped to the encodable range.
func Transform(env Env, s Stream, h Homography, dst *gpucore.Texture) (Stream, error) {
	if err := s.Validate(); err != nil {
		return Stream{}, err
	}

	ppr := s.PixelsPerRecord()
	side := s.SideLength
	capacity := s.Capacity()

	fn := func(x, y int, in []gpucore.Sampler) gpucore.Texel {
		q := y*side + x
		t := in[0].Fetch(q)
		if q%ppr != 0 || q/ppr >= capacity {
			return t
		}
		hd := header(in[0], q/ppr, ppr)
		if !hd.Valid() {
			return t
		}
		px, py := h.Apply(keypoint.DecodePosition(hd.X()), keypoint.DecodePosition(hd.Y()))
		fx, fy := keypoint.EncodePosition(px), keypoint.EncodePosition(py)
		if fx == 0 && fy == 0 && hd.ScoreByte() == 0 {
			// Would turn into padding; keep it distinguishable.
			fx = 1
		}
		binary.LittleEndian.PutUint16(t[0:], fx)
		binary.LittleEndian.PutUint16(t[2:], fy)
		return t
	}
	if err := dispatch(env, "transform", dst, side, fn, s.Texture); err != nil {
		return Stream{}, err
	}

	return Stream{Texture: dst, DescriptorSize: s.DescriptorSize, ExtraSize: s.ExtraSize, SideLength: side}, nil
}
