package keypoint

import (
	"encoding/binary"
	"iter"
	"math"

	"github.com/gogpu/vision"
)

// Header byte offsets within a record.
const (
	offX     = 0
	offY     = 2
	offLOD   = 4
	offRot   = 5
	offScore = 6
	offFlags = 7
)

// PixelsPerRecord returns the number of texels one record occupies.
func PixelsPerRecord(descriptorSize, extraSize int) int {
	return (BaseRecordBytes + max(descriptorSize, 0) + max(extraSize, 0) + 3) / 4
}

// ValidateSizes checks that descriptor and extra sizes are non-negative
// multiples of 4.
func ValidateSizes(descriptorSize, extraSize int) error {
	if descriptorSize < 0 || descriptorSize%4 != 0 {
		return vision.InvalidArgument("keypoint: descriptor size %d is not a non-negative multiple of 4", descriptorSize)
	}
	if extraSize < 0 || extraSize%4 != 0 {
		return vision.InvalidArgument("keypoint: extra size %d is not a non-negative multiple of 4", extraSize)
	}
	return nil
}

// Capacity returns the number of records a stream of the given side length
// holds.
func Capacity(descriptorSize, extraSize, sideLength int) (int, error) {
	if err := ValidateSizes(descriptorSize, extraSize); err != nil {
		return 0, err
	}
	if sideLength < 0 {
		return 0, vision.InvalidArgument("keypoint: negative side length %d", sideLength)
	}
	return sideLength * sideLength / PixelsPerRecord(descriptorSize, extraSize), nil
}

// SideLength returns the smallest side length, at least MinSideLength, whose
// capacity is at least capacity. The result is clamped to MaxSideLength, in
// which case the stream holds fewer records than requested.
func SideLength(capacity, descriptorSize, extraSize int) int {
	pixels := max(capacity, 0) * PixelsPerRecord(descriptorSize, extraSize)
	side := ceilSqrt(pixels)
	return min(max(side, MinSideLength), MaxSideLength)
}

func ceilSqrt(n int) int {
	s := int(math.Sqrt(float64(n)))
	for s*s < n {
		s++
	}
	for s > 0 && (s-1)*(s-1) >= n {
		s--
	}
	return s
}

// Encode packs records into a new stream buffer of sideLength² texels.
// Slots after the last record hold the end-of-list sentinel.
//
// Encode fails if more records are given than the stream can hold, or if a
// record carries extra or descriptor bytes of the wrong length.
func Encode(records []Record, descriptorSize, extraSize, sideLength int) ([]byte, error) {
	capacity, err := Capacity(descriptorSize, extraSize, sideLength)
	if err != nil {
		return nil, err
	}
	if len(records) > capacity {
		return nil, vision.InvalidArgument("keypoint: %d records exceed capacity %d", len(records), capacity)
	}

	stride := PixelsPerRecord(descriptorSize, extraSize) * 4
	buf := make([]byte, sideLength*sideLength*4)

	for i, r := range records {
		if r.Extra != nil && len(r.Extra) != extraSize {
			return nil, vision.InvalidArgument("keypoint: record %d has %d extra bytes, want %d", i, len(r.Extra), extraSize)
		}
		if r.Descriptor != nil && len(r.Descriptor) != descriptorSize {
			return nil, vision.InvalidArgument("keypoint: record %d has %d descriptor bytes, want %d", i, len(r.Descriptor), descriptorSize)
		}
		PutHeader(buf[i*stride:], r)
		copy(buf[i*stride+BaseRecordBytes:], r.Extra)
		copy(buf[i*stride+BaseRecordBytes+extraSize:], r.Descriptor)
	}
	for i := len(records); i < capacity; i++ {
		PutEndOfList(buf[i*stride:])
	}
	return buf, nil
}

// PutHeader writes the 8-byte header of r into b.
func PutHeader(b []byte, r Record) {
	binary.LittleEndian.PutUint16(b[offX:], EncodePosition(r.X))
	binary.LittleEndian.PutUint16(b[offY:], EncodePosition(r.Y))
	b[offLOD] = EncodeLOD(r.LOD)
	if r.Oriented() {
		b[offRot] = EncodeRotation(r.Rotation)
	} else {
		b[offRot] = EncodeRotation(0)
	}
	b[offScore] = EncodeScore(r.Score)
	b[offFlags] = byte(r.Flags)
}

// PutEndOfList writes the end-of-list sentinel header into b.
func PutEndOfList(b []byte) {
	for i := range BaseRecordBytes {
		b[i] = 0xFF
	}
}

// Header is the raw 8-byte record header.
type Header [BaseRecordBytes]byte

// X returns the fixed-point X coordinate.
func (h Header) X() uint16 { return binary.LittleEndian.Uint16(h[offX:]) }

// Y returns the fixed-point Y coordinate.
func (h Header) Y() uint16 { return binary.LittleEndian.Uint16(h[offY:]) }

// ScoreByte returns the encoded score.
func (h Header) ScoreByte() uint8 { return h[offScore] }

// Flags returns the flag byte.
func (h Header) Flags() Flags { return Flags(h[offFlags]) }

// IsEndOfList reports whether h is the end-of-list sentinel.
func (h Header) IsEndOfList() bool {
	return h.X() == EndOfList && h.Y() == EndOfList
}

// IsPadding reports whether h is uninitialized padding.
func (h Header) IsPadding() bool {
	return h.X() == 0 && h.Y() == 0 && h.ScoreByte() == 0
}

// Valid reports whether h holds a live record: neither sentinel nor padding
// nor marked for discard.
func (h Header) Valid() bool {
	return !h.IsEndOfList() && !h.IsPadding() && h.Flags()&FlagDiscard == 0
}

// Decode returns the records of a stream buffer in slot order.
//
// Decoding stops at the first end-of-list sentinel, after capacity records
// or when the buffer ends, whichever comes first. Padding records are
// skipped. A record whose extra or descriptor bytes are cut off by the end
// of the buffer is discarded.
//
// The returned sequence reads pixels lazily; pixels must not be modified
// until iteration ends. Invalid sizes yield an empty sequence.
func Decode(pixels []byte, descriptorSize, extraSize, sideLength int) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		capacity, err := Capacity(descriptorSize, extraSize, sideLength)
		if err != nil {
			return
		}
		stride := PixelsPerRecord(descriptorSize, extraSize) * 4

		for i := range capacity {
			off := i * stride
			if off+BaseRecordBytes > len(pixels) {
				return
			}
			h := Header(pixels[off : off+BaseRecordBytes])
			if h.IsEndOfList() {
				return
			}
			if h.IsPadding() {
				continue
			}

			tail := off + BaseRecordBytes
			if tail+extraSize+descriptorSize > len(pixels) {
				continue
			}
			if !yield(decodeRecord(h, pixels[tail:], descriptorSize, extraSize)) {
				return
			}
		}
	}
}

func decodeRecord(h Header, tail []byte, descriptorSize, extraSize int) Record {
	r := Record{
		X:     DecodePosition(h.X()),
		Y:     DecodePosition(h.Y()),
		LOD:   DecodeLOD(h[offLOD]),
		Score: DecodeScore(h.ScoreByte()),
		Flags: h.Flags(),
	}
	if r.Oriented() {
		r.Rotation = DecodeRotation(h[offRot])
	}
	if extraSize > 0 {
		r.Extra = append([]byte(nil), tail[:extraSize]...)
	}
	if descriptorSize > 0 {
		r.Descriptor = append([]byte(nil), tail[extraSize:extraSize+descriptorSize]...)
	}
	return r
}

// DecodeAll collects Decode into a slice. It reports invalid sizes as an
// error instead of yielding nothing.
func DecodeAll(pixels []byte, descriptorSize, extraSize, sideLength int) ([]Record, error) {
	capacity, err := Capacity(descriptorSize, extraSize, sideLength)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, min(capacity, 64))
	for r := range Decode(pixels, descriptorSize, extraSize, sideLength) {
		records = append(records, r)
	}
	return records, nil
}
