package gpucore

// Sampler gives a kernel read-only access to one input texture.
//
// Reads outside the texture return the zero texel, mirroring a
// clamp-to-border sampler.
type Sampler struct {
	width  int
	height int
	data   []byte
}

// NewSampler wraps raw RGBA8 data. Adapters use it to expose input textures.
func NewSampler(width, height int, data []byte) Sampler {
	return Sampler{width: width, height: height, data: data}
}

// Width returns the texture width in texels.
func (s Sampler) Width() int { return s.width }

// Height returns the texture height in texels.
func (s Sampler) Height() int { return s.height }

// Len returns the number of texels.
func (s Sampler) Len() int { return s.width * s.height }

// At returns the texel at (x, y).
func (s Sampler) At(x, y int) Texel {
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return Texel{}
	}
	return s.Fetch(y*s.width + x)
}

// Fetch returns the texel at linear (row-major) index i.
func (s Sampler) Fetch(i int) Texel {
	off := i * BytesPerTexel
	if i < 0 || off+BytesPerTexel > len(s.data) {
		return Texel{}
	}
	return Texel(s.data[off : off+BytesPerTexel])
}

// KernelFunc computes the output texel at (x, y).
//
// inputs holds one sampler per entry of Kernel.Inputs, in the same order.
// A KernelFunc must not retain inputs and must not have side effects:
// invocations run concurrently and in no particular order.
type KernelFunc func(x, y int, inputs []Sampler) Texel

// Kernel describes one compute pass.
//
// Before the pass the output texture is resized to Width x Height; its
// previous contents are not visible to the pass. The output must not appear
// among the inputs.
type Kernel struct {
	// Label is an optional debug label.
	Label string

	// Output receives the result.
	Output TextureID

	// Width and Height are the output dimensions.
	Width, Height int

	// Inputs are sampled read-only.
	Inputs []TextureID

	// Func is invoked once per output texel.
	Func KernelFunc
}
