package keypoint

import "math"

// The functions below are the single definition of the byte mappings of
// the record header. Stream operations, nodes and the codec all use them.

// EncodePosition converts a coordinate to fixed point, clamped to
// [0, MaxCoordinate].
func EncodePosition(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= MaxCoordinate {
		return EndOfList - 1
	}
	return uint16(math.Round(v * FixResolution))
}

// DecodePosition converts a fixed-point coordinate to pixels.
func DecodePosition(v uint16) float64 {
	return float64(v) / FixResolution
}

// EncodeLOD maps a level of detail to a byte. NaN maps to NoLOD. Values are
// clamped to [MinLOD, MaxLOD] and never reach NoLOD.
func EncodeLOD(lod float64) uint8 {
	if math.IsNaN(lod) {
		return NoLOD
	}
	lod = min(max(lod, MinLOD), MaxLOD)
	b := math.Round(255 * (lod + Log2PyramidMaxScale) / (Log2PyramidMaxScale + PyramidMaxLevels))
	return uint8(min(b, NoLOD-1))
}

// DecodeLOD maps a byte to a level of detail. NoLOD decodes to 0.
func DecodeLOD(b uint8) float64 {
	if b == NoLOD {
		return 0
	}
	return -Log2PyramidMaxScale + (Log2PyramidMaxScale+PyramidMaxLevels)*float64(b)/255
}

// EncodeRotation maps an angle in radians to a byte. The angle is first
// wrapped into [-π, π].
func EncodeRotation(theta float64) uint8 {
	if math.IsNaN(theta) || math.IsInf(theta, 0) {
		return EncodeRotation(0)
	}
	theta = math.Remainder(theta, 2*math.Pi)
	return uint8(math.Round(255 * (theta/math.Pi + 1) / 2))
}

// DecodeRotation maps a byte to an angle in [-π, π].
func DecodeRotation(b uint8) float64 {
	return (2*float64(b)/255 - 1) * math.Pi
}

// EncodeScore maps a score in [0, 1] to a byte, clamping out-of-range values.
func EncodeScore(score float64) uint8 {
	if math.IsNaN(score) || score <= 0 {
		return 0
	}
	if score >= 1 {
		return 255
	}
	return uint8(math.Round(score * 255))
}

// DecodeScore maps a byte to a score in [0, 1].
func DecodeScore(b uint8) float64 {
	return float64(b) / 255
}
