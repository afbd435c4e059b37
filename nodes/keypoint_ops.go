package nodes

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/keypoint"
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// KeypointClipper keeps the Size keypoints with the highest scores.
type KeypointClipper struct {
	*pipeline.Base

	mu   sync.Mutex
	size int
}

// NewKeypointClipper creates a clipper. The default size is
// keypoint.MaxCapacity, which keeps every keypoint.
func NewKeypointClipper(ids *pipeline.IDs, name string) (*KeypointClipper, error) {
	n := &KeypointClipper{size: keypoint.MaxCapacity}
	b, err := pipeline.NewBase(ids, name, 1, n.run, keypointFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetSize sets the maximum number of keypoints in the output.
func (n *KeypointClipper) SetSize(size int) error {
	if size < 0 || size > keypoint.MaxCapacity {
		return vision.InvalidArgument("nodes: clipper size %d not in [0, %d]", size, keypoint.MaxCapacity)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.size = size
	return nil
}

// Size returns the maximum number of keypoints in the output.
func (n *KeypointClipper) Size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

func (n *KeypointClipper) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	out, err := streamops.Clip(x, s, n.Size(), x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}

// KeypointMixer concatenates the streams of ports "in0" and "in1".
type KeypointMixer struct {
	*pipeline.Base
}

// NewKeypointMixer creates a mixer.
func NewKeypointMixer(ids *pipeline.IDs, name string) (*KeypointMixer, error) {
	n := &KeypointMixer{}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.In("in0").Expects(pipeline.KindKeypoints),
		pipeline.In("in1").Expects(pipeline.KindKeypoints),
		pipeline.Out("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

func (n *KeypointMixer) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	a, err := readStream(x, "in0")
	if err != nil {
		return nil, err
	}
	b, err := readStream(x, "in1")
	if err != nil {
		return nil, err
	}
	out, err := streamops.Mix(x, a, b, x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}

// KeypointBorderClipper drops the keypoints lying within a border of the
// image edges. The image size must be set before the first run.
type KeypointBorderClipper struct {
	*pipeline.Base

	mu     sync.Mutex
	image  streamops.Size
	border streamops.Border
}

// NewKeypointBorderClipper creates a border clipper.
func NewKeypointBorderClipper(ids *pipeline.IDs, name string) (*KeypointBorderClipper, error) {
	n := &KeypointBorderClipper{}
	b, err := pipeline.NewBase(ids, name, 1, n.run, keypointFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetImageSize sets the size of the image the keypoints were detected in.
func (n *KeypointBorderClipper) SetImageSize(size streamops.Size) error {
	if size.Width < 0 || size.Height < 0 {
		return vision.InvalidArgument("nodes: image size %dx%d", size.Width, size.Height)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.image = size
	return nil
}

// SetBorderSize sets the horizontal and vertical margins.
func (n *KeypointBorderClipper) SetBorderSize(border streamops.Border) error {
	if border.X < 0 || border.Y < 0 {
		return vision.InvalidArgument("nodes: border size %dx%d", border.X, border.Y)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.border = border
	return nil
}

func (n *KeypointBorderClipper) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	image, border := n.image, n.border
	n.mu.Unlock()
	if image.Width == 0 || image.Height == 0 {
		return nil, vision.IllegalOperation("nodes: did you forget to set the image size of %s?", n.Base)
	}
	out, err := streamops.BorderClip(x, s, image, border, x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}

// KeypointShuffler writes the keypoints in random order, optionally
// keeping only the first MaxKeypoints of them.
type KeypointShuffler struct {
	*pipeline.Base

	mu           sync.Mutex
	maxKeypoints int
	rng          *rand.Rand
}

// NewKeypointShuffler creates a shuffler with a randomly seeded generator
// and no limit.
func NewKeypointShuffler(ids *pipeline.IDs, name string) (*KeypointShuffler, error) {
	n := &KeypointShuffler{
		maxKeypoints: streamops.NoLimit,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	b, err := pipeline.NewBase(ids, name, 1, n.run, keypointFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetMaxKeypoints limits the output. streamops.NoLimit disables the limit.
func (n *KeypointShuffler) SetMaxKeypoints(limit int) error {
	if limit < 0 && limit != streamops.NoLimit {
		return vision.InvalidArgument("nodes: shuffler limit %d", limit)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maxKeypoints = limit
	return nil
}

// SetSeed makes the shuffles reproducible.
func (n *KeypointShuffler) SetSeed(seed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (n *KeypointShuffler) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := streamops.Shuffle(x, s, n.rng, n.maxKeypoints, x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}

// KeypointTransformer moves every keypoint through a homography.
type KeypointTransformer struct {
	*pipeline.Base

	mu sync.Mutex
	h  streamops.Homography
}

// NewKeypointTransformer creates a transformer with the identity transform.
func NewKeypointTransformer(ids *pipeline.IDs, name string) (*KeypointTransformer, error) {
	n := &KeypointTransformer{h: streamops.Identity}
	b, err := pipeline.NewBase(ids, name, 1, n.run, keypointFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetTransform sets the homography, in row-major order.
func (n *KeypointTransformer) SetTransform(h streamops.Homography) error {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return vision.InvalidArgument("nodes: transform %v is not finite", h)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.h = h
	return nil
}

// Transform returns the homography.
func (n *KeypointTransformer) Transform() streamops.Homography {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.h
}

func (n *KeypointTransformer) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	out, err := streamops.Transform(x, s, n.Transform(), x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}

// DiscardDescriptors strips the descriptors of a stream.
type DiscardDescriptors struct {
	*pipeline.Base
}

// NewDiscardDescriptors creates a descriptor-stripping node.
func NewDiscardDescriptors(ids *pipeline.IDs, name string) (*DiscardDescriptors, error) {
	n := &DiscardDescriptors{}
	b, err := pipeline.NewBase(ids, name, 1, n.run, keypointFilter()...)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

func (n *DiscardDescriptors) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	out, err := streamops.DiscardDescriptors(x, s, x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}
