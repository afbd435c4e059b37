package nodes

import (
	"context"
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/pipeline"
)

// ImageSource uploads an image. Greyscale images are expanded to four
// channels and tagged pipeline.Greyscale.
type ImageSource struct {
	*pipeline.Base

	mu     sync.Mutex
	pixels *image.RGBA
	format pipeline.ImageFormat
}

// NewImageSource creates an image source without an image.
func NewImageSource(ids *pipeline.IDs, name string) (*ImageSource, error) {
	n := &ImageSource{}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.Out("").Expects(pipeline.KindImage),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetImage sets the image uploaded by the next runs.
func (n *ImageSource) SetImage(img image.Image) error {
	if img == nil {
		return vision.InvalidArgument("nodes: nil image")
	}
	r := img.Bounds()
	if err := checkImageSize(r.Dx(), r.Dy()); err != nil {
		return err
	}

	rgba := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, r.Min, draw.Src)
	format := pipeline.RGBA
	if _, ok := img.(*image.Gray); ok {
		format = pipeline.Greyscale
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.pixels, n.format = rgba, format
	return nil
}

func (n *ImageSource) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	n.mu.Lock()
	pixels, format := n.pixels, n.format
	n.mu.Unlock()
	if pixels == nil {
		return nil, vision.IllegalOperation("nodes: did you forget to set the image of %s?", n.Base)
	}

	tex := x.Texture(0)
	r := pixels.Bounds()
	if err := tex.Upload(r.Dx(), r.Dy(), pixels.Pix); err != nil {
		return nil, err
	}
	return nil, writeImage(x, tex, format)
}

// ImageResult is the export of an ImageSink.
type ImageResult struct {
	Image  *image.RGBA
	Format pipeline.ImageFormat
}

// ImageSink downloads an image. Its export is an ImageResult.
type ImageSink struct {
	*pipeline.Base

	mu     sync.Mutex
	result *ImageResult
}

// NewImageSink creates an image sink. An empty name selects "image".
func NewImageSink(ids *pipeline.IDs, name string) (*ImageSink, error) {
	n := &ImageSink{}
	b, err := pipeline.NewBase(ids, orDefault(name, "image"), 0, n.run,
		pipeline.In("").Expects(pipeline.KindImage),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

func (n *ImageSink) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	tex, format, err := readImage(x, "")
	if err != nil {
		return nil, err
	}
	w, h := tex.Size()
	rb := x.Adapter().ReadTextureAsync(tex.ID())
	return pipeline.AfterReadback(rb, func(pixels []byte) error {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		copy(img.Pix, pixels)
		n.mu.Lock()
		n.result = &ImageResult{Image: img, Format: format}
		n.mu.Unlock()
		return nil
	}), nil
}

// Export returns the image downloaded by the last run.
func (n *ImageSink) Export(context.Context) (any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.result == nil {
		return nil, vision.IllegalOperation("nodes: %s holds no image", n.Base)
	}
	return *n.result, nil
}

// ImageMultiplexer forwards the image of port "in0" or "in1".
type ImageMultiplexer struct {
	*pipeline.Base

	mu   sync.Mutex
	port int
}

var multiplexerPorts = [...]string{"in0", "in1"}

// NewImageMultiplexer creates a multiplexer forwarding port "in0".
func NewImageMultiplexer(ids *pipeline.IDs, name string) (*ImageMultiplexer, error) {
	n := &ImageMultiplexer{}
	b, err := pipeline.NewBase(ids, name, 0, n.run,
		pipeline.In(multiplexerPorts[0]).Expects(pipeline.KindImage),
		pipeline.In(multiplexerPorts[1]).Expects(pipeline.KindImage),
		pipeline.Out("").Expects(pipeline.KindImage),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetPort selects the forwarded input: 0 or 1.
func (n *ImageMultiplexer) SetPort(port int) error {
	if port < 0 || port >= len(multiplexerPorts) {
		return vision.InvalidArgument("nodes: multiplexer port %d", port)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.port = port
	return nil
}

func (n *ImageMultiplexer) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	n.mu.Lock()
	port := multiplexerPorts[n.port]
	n.mu.Unlock()

	m, err := x.Read(port)
	if err != nil {
		return nil, err
	}
	return nil, x.Write("", m)
}

// ImageMixer blends the images of ports "in0" and "in1":
// alpha*in0 + beta*in1 + gamma, per channel.
type ImageMixer struct {
	*pipeline.Base

	mu                 sync.Mutex
	alpha, beta, gamma float64
}

// NewImageMixer creates a mixer averaging its inputs.
func NewImageMixer(ids *pipeline.IDs, name string) (*ImageMixer, error) {
	n := &ImageMixer{alpha: 0.5, beta: 0.5}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.In("in0").Expects(pipeline.KindImage),
		pipeline.In("in1").Expects(pipeline.KindImage),
		pipeline.Out("").Expects(pipeline.KindImage),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetWeights sets the blend coefficients. gamma is in [0, 1] units.
func (n *ImageMixer) SetWeights(alpha, beta, gamma float64) error {
	for _, v := range [...]float64{alpha, beta, gamma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return vision.InvalidArgument("nodes: mixer weights %v, %v, %v", alpha, beta, gamma)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alpha, n.beta, n.gamma = alpha, beta, gamma
	return nil
}

func (n *ImageMixer) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	a, formatA, err := readImage(x, "in0")
	if err != nil {
		return nil, err
	}
	b, formatB, err := readImage(x, "in1")
	if err != nil {
		return nil, err
	}
	if formatA != formatB {
		return nil, vision.NotSupported("nodes: can't mix %s and %s images", formatA, formatB)
	}

	n.mu.Lock()
	alpha, beta, gamma := n.alpha, n.beta, n.gamma*255
	n.mu.Unlock()

	wa, ha := a.Size()
	wb, hb := b.Size()
	out := x.Texture(0)
	err = dispatch(x, "image/mix", out, max(wa, wb), max(ha, hb), func(px, py int, in []gpucore.Sampler) gpucore.Texel {
		ta, tb := in[0].At(px, py), in[1].At(px, py)
		var t gpucore.Texel
		for c := range t {
			t[c] = clampByte(alpha*float64(ta[c]) + beta*float64(tb[c]) + gamma)
		}
		return t
	}, a, b)
	if err != nil {
		return nil, err
	}
	return nil, writeImage(x, out, formatA)
}

// Greyscale converts an image to luma.
type Greyscale struct {
	*pipeline.Base
}

// NewGreyscale creates a greyscale filter.
func NewGreyscale(ids *pipeline.IDs, name string) (*Greyscale, error) {
	n := &Greyscale{}
	b, err := pipeline.NewBase(ids, name, 1, n.run, imageFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

func (n *Greyscale) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	src, _, err := readImage(x, "")
	if err != nil {
		return nil, err
	}
	w, h := src.Size()
	out := x.Texture(0)
	err = dispatch(x, "image/greyscale", out, w, h, func(px, py int, in []gpucore.Sampler) gpucore.Texel {
		t := in[0].At(px, py)
		y := clampByte(0.299*float64(t[0]) + 0.587*float64(t[1]) + 0.114*float64(t[2]))
		return gpucore.Texel{y, y, y, t[3]}
	}, src)
	if err != nil {
		return nil, err
	}
	return nil, writeImage(x, out, pipeline.Greyscale)
}

// Method is an interpolation method of Resize.
type Method int

const (
	// Bilinear interpolates between the four nearest pixels.
	Bilinear Method = iota
	// Nearest picks the nearest pixel.
	Nearest
)

// Resize scales an image to a fixed size or by a factor. A zero width or
// height in Size selects the matching Scale factor instead.
type Resize struct {
	*pipeline.Base

	mu             sync.Mutex
	width, height  int
	scaleX, scaleY float64
	method         Method
}

// NewResize creates a bilinear resize that keeps the input size.
func NewResize(ids *pipeline.IDs, name string) (*Resize, error) {
	n := &Resize{scaleX: 1, scaleY: 1}
	b, err := pipeline.NewBase(ids, name, 1, n.run, imageFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetSize sets the output size. Zero keeps the scale factor of that axis.
func (n *Resize) SetSize(width, height int) error {
	if width < 0 || height < 0 || width > gpucore.MaxTextureSide || height > gpucore.MaxTextureSide {
		return vision.InvalidArgument("nodes: resize to %dx%d", width, height)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.width, n.height = width, height
	return nil
}

// SetScale sets the scale factors used for axes without a fixed size.
func (n *Resize) SetScale(x, y float64) error {
	if !(x > 0) || !(y > 0) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return vision.InvalidArgument("nodes: resize scale %vx%v", x, y)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scaleX, n.scaleY = x, y
	return nil
}

// SetMethod sets the interpolation method.
func (n *Resize) SetMethod(m Method) error {
	if m != Bilinear && m != Nearest {
		return vision.InvalidArgument("nodes: resize method %d", m)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.method = m
	return nil
}

// outputSize returns the size of the resized image.
func (n *Resize) outputSize(w, h int) (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ow, oh := n.width, n.height
	if ow == 0 {
		ow = max(1, int(math.Round(n.scaleX*float64(w))))
	}
	if oh == 0 {
		oh = max(1, int(math.Round(n.scaleY*float64(h))))
	}
	return min(ow, gpucore.MaxTextureSide), min(oh, gpucore.MaxTextureSide)
}

func (n *Resize) scaler() draw.Scaler {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.method == Nearest {
		return draw.NearestNeighbor
	}
	return draw.BiLinear
}

func (n *Resize) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	src, format, err := readImage(x, "")
	if err != nil {
		return nil, err
	}
	w, h := src.Size()
	ow, oh := n.outputSize(w, h)
	scaler := n.scaler()
	out := x.Texture(0)

	rb := x.Adapter().ReadTextureAsync(src.ID())
	return pipeline.AfterReadback(rb, func(pixels []byte) error {
		in := &image.RGBA{Pix: pixels, Stride: w * gpucore.BytesPerTexel, Rect: image.Rect(0, 0, w, h)}
		dst := image.NewRGBA(image.Rect(0, 0, ow, oh))
		scaler.Scale(dst, dst.Bounds(), in, in.Bounds(), draw.Src, nil)
		if err := out.Upload(ow, oh, dst.Pix); err != nil {
			return err
		}
		return writeImage(x, out, format)
	}), nil
}

func readImage(x *pipeline.Exec, port string) (*gpucore.Texture, pipeline.ImageFormat, error) {
	m, err := x.Read(port)
	if err != nil {
		return nil, 0, err
	}
	return m.Image()
}

func writeImage(x *pipeline.Exec, tex *gpucore.Texture, format pipeline.ImageFormat) error {
	m, err := pipeline.ImageMessage(tex, format)
	if err != nil {
		return err
	}
	return x.Write("", m)
}

func dispatch(x *pipeline.Exec, label string, out *gpucore.Texture, w, h int, fn gpucore.KernelFunc, inputs ...*gpucore.Texture) error {
	ids := make([]gpucore.TextureID, len(inputs))
	for i, t := range inputs {
		ids[i] = t.ID()
	}
	return x.Adapter().Dispatch(&gpucore.Kernel{
		Label:  label,
		Output: out.ID(),
		Width:  w,
		Height: h,
		Inputs: ids,
		Func:   fn,
	})
}

func checkImageSize(w, h int) error {
	if w <= 0 || h <= 0 || w > gpucore.MaxTextureSide || h > gpucore.MaxTextureSide {
		return vision.InvalidArgument("nodes: image size %dx%d", w, h)
	}
	return nil
}

func clampByte(v float64) uint8 {
	return uint8(math.Round(max(0, min(255, v))))
}
