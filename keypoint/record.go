// Package keypoint defines the keypoint-stream encoding: a fixed-capacity
// binary layout that packs a variable number of keypoint records into a
// square RGBA8 texture.
//
// # Layout
//
// A stream of side length s is an s x s grid of 4-byte texels read in
// row-major order. Every record occupies [PixelsPerRecord] consecutive
// texels:
//
//	byte 0-1  X, fixed point, little endian (divide by FixResolution)
//	byte 2-3  Y, fixed point, little endian
//	byte 4    level of detail (255 = none)
//	byte 5    rotation (meaningful only with FlagOriented)
//	byte 6    score (0-255 maps to 0.0-1.0)
//	byte 7    flags
//	          extraSize bytes, then descriptorSize bytes
//
// A record whose X and Y both equal [EndOfList] terminates the list.
// A record whose X, Y and score are all zero is padding and is skipped.
package keypoint

import "math"

// Layout constants.
const (
	// BaseRecordBytes is the size of the fixed record header.
	BaseRecordBytes = 8

	// FixBits is the number of fractional bits of a coordinate.
	FixBits = 3

	// FixResolution converts fixed-point coordinates to pixels.
	FixResolution = 1 << FixBits

	// MinSideLength is the smallest side length of a stream texture.
	MinSideLength = 2

	// MaxSideLength is the largest side length of a stream texture.
	MaxSideLength = 300

	// MaxCapacity is the largest number of keypoints a source accepts.
	MaxCapacity = 8192

	// DefaultCapacity is the capacity of a source when none is set.
	DefaultCapacity = 2048

	// EndOfList is the coordinate value that marks the end of a stream.
	EndOfList = 0xFFFF

	// MaxCoordinate is the largest encodable coordinate. Larger values
	// would reach the EndOfList sentinel.
	MaxCoordinate = float64(EndOfList-1) / FixResolution
)

// Level-of-detail range. A lod byte b < 255 decodes to
// -Log2PyramidMaxScale + (Log2PyramidMaxScale+PyramidMaxLevels)*b/255.
const (
	Log2PyramidMaxScale = 1
	PyramidMaxLevels    = 4

	MinLOD = -Log2PyramidMaxScale
	MaxLOD = PyramidMaxLevels

	// NoLOD is the lod byte meaning "no level of detail".
	NoLOD = 255
)

// Flags is the per-record flag byte.
type Flags uint8

// Record flags.
const (
	FlagNone Flags = 0

	// FlagDiscard marks a record that stream operations must drop.
	FlagDiscard Flags = 1 << 0

	// FlagOriented marks a record whose rotation byte is meaningful.
	FlagOriented Flags = 1 << 1
)

// Record is one decoded keypoint.
type Record struct {
	X, Y float64

	// LOD is the pyramid level; scale = 2^LOD. NaN encodes as "none".
	LOD float64

	// Rotation is in radians, within [-π, π]. It is zero unless Flags has
	// FlagOriented.
	Rotation float64

	// Score is in [0, 1].
	Score float64

	Flags Flags

	// Extra and Descriptor hold exactly extraSize and descriptorSize bytes.
	// On encode, nil means all zeros.
	Extra      []byte
	Descriptor []byte
}

// Oriented reports whether the record carries a rotation.
func (r Record) Oriented() bool {
	return r.Flags&FlagOriented != 0
}

// Scale returns 2^LOD.
func (r Record) Scale() float64 {
	return math.Exp2(r.LOD)
}
