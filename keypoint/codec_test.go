package keypoint

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/gogpu/vision"
)

func TestPixelsPerRecord(t *testing.T) {
	tests := []struct {
		descriptor, extra int
		want              int
	}{
		{0, 0, 2},
		{0, 4, 3},
		{32, 0, 10},
		{64, 8, 20},
	}
	for _, tt := range tests {
		if got := PixelsPerRecord(tt.descriptor, tt.extra); got != tt.want {
			t.Errorf("PixelsPerRecord(%d, %d) = %d, want %d", tt.descriptor, tt.extra, got, tt.want)
		}
	}
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		name                    string
		descriptor, extra, side int
		want                    int
		wantErr                 error
	}{
		{"empty", 0, 0, 0, 0, nil},
		{"min side", 0, 0, MinSideLength, 2, nil},
		{"odd texel count", 0, 0, 3, 4, nil},
		{"with descriptor", 32, 0, 10, 10, nil},
		{"unaligned descriptor", 30, 0, 10, 0, vision.ErrInvalidArgument},
		{"unaligned extra", 0, 2, 10, 0, vision.ErrInvalidArgument},
		{"negative extra", 0, -4, 10, 0, vision.ErrInvalidArgument},
		{"negative side", 0, 0, -1, 0, vision.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Capacity(tt.descriptor, tt.extra, tt.side)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Capacity = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSideLength(t *testing.T) {
	tests := []struct {
		capacity, descriptor, extra int
		want                        int
	}{
		{0, 0, 0, MinSideLength},
		{1, 0, 0, MinSideLength},
		{18, 0, 0, 6},
		{32, 0, 0, 8},
		{50, 0, 0, 10},
		{DefaultCapacity, 0, 0, 64},
		{MaxCapacity, 64, 0, MaxSideLength},
	}
	for _, tt := range tests {
		if got := SideLength(tt.capacity, tt.descriptor, tt.extra); got != tt.want {
			t.Errorf("SideLength(%d, %d, %d) = %d, want %d", tt.capacity, tt.descriptor, tt.extra, got, tt.want)
		}
	}
}

func TestSideLengthCoversCapacity(t *testing.T) {
	for _, sizes := range [][2]int{{0, 0}, {32, 0}, {64, 8}, {0, 16}} {
		ppr := PixelsPerRecord(sizes[0], sizes[1])
		for c := 0; c*ppr <= MaxSideLength*MaxSideLength; c += 37 {
			side := SideLength(c, sizes[0], sizes[1])
			got, err := Capacity(sizes[0], sizes[1], side)
			if err != nil {
				t.Fatal(err)
			}
			if got < c {
				t.Fatalf("Capacity(SideLength(%d)) = %d with sizes %v", c, got, sizes)
			}
			if side > MinSideLength {
				smaller, _ := Capacity(sizes[0], sizes[1], side-1)
				if smaller >= c {
					t.Fatalf("SideLength(%d) = %d is not minimal with sizes %v", c, side, sizes)
				}
			}
		}
	}
}

// approx compares decoded records within the codec's quantization.
var approx = cmp.Options{
	cmpopts.EquateApprox(0, 1.0/FixResolution),
	cmpopts.EquateEmpty(),
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, sizes := range [][2]int{{0, 0}, {32, 0}, {0, 8}, {64, 4}} {
		descriptorSize, extraSize := sizes[0], sizes[1]
		side := SideLength(100, descriptorSize, extraSize)

		want := make([]Record, 100)
		for i := range want {
			r := Record{
				X:     1 + rng.Float64()*600,
				Y:     1 + rng.Float64()*400,
				LOD:   float64(rng.IntN(5)),
				Score: float64(1+rng.IntN(255)) / 255,
			}
			if i%3 == 0 {
				r.Flags = FlagOriented
				r.Rotation = (rng.Float64()*2 - 1) * math.Pi
			}
			if extraSize > 0 {
				r.Extra = randomBytes(rng, extraSize)
			}
			if descriptorSize > 0 {
				r.Descriptor = randomBytes(rng, descriptorSize)
			}
			want[i] = r
		}

		buf, err := Encode(want, descriptorSize, extraSize, side)
		if err != nil {
			t.Fatalf("Encode with sizes %v: %v", sizes, err)
		}
		got, err := DecodeAll(buf, descriptorSize, extraSize, side)
		if err != nil {
			t.Fatal(err)
		}

		// LOD and rotation quantize coarser than positions; compare them
		// separately.
		ignore := cmpopts.IgnoreFields(Record{}, "LOD", "Rotation")
		if diff := cmp.Diff(want, got, approx, ignore); diff != "" {
			t.Fatalf("round trip with sizes %v (-want +got):\n%s", sizes, diff)
		}
		for i := range want {
			if d := math.Abs(want[i].LOD - got[i].LOD); d > 2.5/255*5 {
				t.Errorf("record %d: lod %v -> %v", i, want[i].LOD, got[i].LOD)
			}
			if d := math.Abs(want[i].Rotation - got[i].Rotation); d > math.Pi/255+1e-9 {
				t.Errorf("record %d: rotation %v -> %v", i, want[i].Rotation, got[i].Rotation)
			}
		}
	}
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.IntN(256))
	}
	return b
}

func TestEncodeRejectsOverflow(t *testing.T) {
	records := make([]Record, 3)
	for i := range records {
		records[i] = Record{X: 1, Y: 1, Score: 1}
	}
	// Side 2 without descriptors holds 2 records.
	if _, err := Encode(records, 0, 0, 2); !errors.Is(err, vision.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	if _, err := Encode([]Record{{X: 1, Descriptor: []byte{1}}}, 4, 0, 4); !errors.Is(err, vision.ErrInvalidArgument) {
		t.Errorf("short descriptor err = %v, want ErrInvalidArgument", err)
	}
}

func TestDecodeStopsAtEndOfList(t *testing.T) {
	buf, err := Encode([]Record{{X: 1, Y: 2, Score: 0.5}}, 0, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	// A record planted after the sentinel must not be decoded.
	PutHeader(buf[2*8:], Record{X: 9, Y: 9, Score: 1})

	got, _ := DecodeAll(buf, 0, 0, 4)
	if len(got) != 1 {
		t.Fatalf("decoded %d records, want 1", len(got))
	}
}

func TestDecodeSkipsPadding(t *testing.T) {
	buf := make([]byte, 4*4*4)
	PutHeader(buf[8:], Record{X: 3, Y: 4, Score: 1})
	PutHeader(buf[24:], Record{X: 5, Y: 6, Score: 0.5})
	// Everything else is zero padding; no sentinel at all.

	got, _ := DecodeAll(buf, 0, 0, 4)
	want := []Record{
		{X: 3, Y: 4, Score: 1},
		{X: 5, Y: 6, Score: 0.5},
	}
	if diff := cmp.Diff(want, got, approx, cmpopts.IgnoreFields(Record{}, "LOD")); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDecodeDiscardsTruncatedRecords(t *testing.T) {
	records := []Record{
		{X: 1, Y: 1, Score: 1, Descriptor: make([]byte, 32)},
		{X: 2, Y: 2, Score: 1, Descriptor: make([]byte, 32)},
	}
	buf, err := Encode(records, 32, 0, 5)
	if err != nil {
		t.Fatal(err)
	}

	// Cut the buffer inside the second record's descriptor.
	stride := PixelsPerRecord(32, 0) * 4
	got, _ := DecodeAll(buf[:stride+BaseRecordBytes+10], 32, 0, 5)
	if len(got) != 1 {
		t.Fatalf("decoded %d records, want 1", len(got))
	}
	if got[0].X != 1 {
		t.Errorf("surviving record X = %v, want 1", got[0].X)
	}
}

func TestDecodeIsLazy(t *testing.T) {
	records := make([]Record, 10)
	for i := range records {
		records[i] = Record{X: float64(i + 1), Y: 1, Score: 1}
	}
	buf, err := Encode(records, 0, 0, 5)
	if err != nil {
		t.Fatal(err)
	}

	n := 0
	for range Decode(buf, 0, 0, 5) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("iterated %d records, want 3", n)
	}

	if _, err := DecodeAll(buf, 3, 0, 5); !errors.Is(err, vision.ErrInvalidArgument) {
		t.Errorf("DecodeAll with bad size err = %v, want ErrInvalidArgument", err)
	}
}

func TestDecodeUnorientedRotation(t *testing.T) {
	buf, err := Encode([]Record{{X: 1, Y: 1, Score: 1, Rotation: 2}}, 0, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := DecodeAll(buf, 0, 0, 2)
	if len(got) != 1 || got[0].Rotation != 0 {
		t.Errorf("unoriented rotation = %v, want 0", got)
	}
}
