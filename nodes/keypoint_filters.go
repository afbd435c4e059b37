package nodes

import (
	"context"
	"math"
	"sync"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// DefaultDistanceThreshold keeps every pair: no two encodable positions
// are farther apart.
const DefaultDistanceThreshold = gpucore.MaxTextureSide - 1

// DefaultHammingThreshold keeps every pair of descriptors.
const DefaultHammingThreshold = streamops.MaxDescriptorSize * 8

// KeypointDistanceFilter compares the stream of port "in" with the stream
// of port "reference" slot by slot and drops the keypoints that moved more
// than Threshold pixels.
type KeypointDistanceFilter struct {
	*pipeline.Base

	mu        sync.Mutex
	threshold float64
}

// NewKeypointDistanceFilter creates a distance filter.
func NewKeypointDistanceFilter(ids *pipeline.IDs, name string) (*KeypointDistanceFilter, error) {
	n := &KeypointDistanceFilter{threshold: DefaultDistanceThreshold}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.In("in").Expects(pipeline.KindKeypoints),
		pipeline.In("reference").Expects(pipeline.KindKeypoints),
		pipeline.Out("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetThreshold sets the maximum distance in pixels.
func (n *KeypointDistanceFilter) SetThreshold(threshold float64) error {
	if threshold < 0 || math.IsNaN(threshold) {
		return vision.InvalidArgument("nodes: distance threshold %v", threshold)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.threshold = threshold
	return nil
}

func (n *KeypointDistanceFilter) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "in")
	if err != nil {
		return nil, err
	}
	ref, err := readStream(x, "reference")
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	threshold := n.threshold
	n.mu.Unlock()

	out, err := streamops.DistanceFilter(x, s, ref, threshold, x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}

// KeypointHammingDistanceFilter compares the descriptors of the streams of
// ports "in" and "reference" slot by slot and drops the keypoints whose
// descriptors differ in more than Threshold bits. Both inputs must carry
// descriptors.
type KeypointHammingDistanceFilter struct {
	*pipeline.Base

	mu        sync.Mutex
	threshold int
}

func hasDescriptors(m pipeline.Message) bool {
	s, err := m.Keypoints()
	return err == nil && s.DescriptorSize > 0
}

// NewKeypointHammingDistanceFilter creates a Hamming distance filter.
func NewKeypointHammingDistanceFilter(ids *pipeline.IDs, name string) (*KeypointHammingDistanceFilter, error) {
	n := &KeypointHammingDistanceFilter{threshold: DefaultHammingThreshold}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.In("in").Expects(pipeline.KindKeypoints).Satisfying(hasDescriptors),
		pipeline.In("reference").Expects(pipeline.KindKeypoints).Satisfying(hasDescriptors),
		pipeline.Out("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetThreshold sets the maximum distance in bits.
func (n *KeypointHammingDistanceFilter) SetThreshold(threshold int) error {
	if threshold < 0 {
		return vision.InvalidArgument("nodes: hamming threshold %d", threshold)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.threshold = threshold
	return nil
}

func (n *KeypointHammingDistanceFilter) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "in")
	if err != nil {
		return nil, err
	}
	ref, err := readStream(x, "reference")
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	threshold := n.threshold
	n.mu.Unlock()

	out, err := streamops.HammingFilter(x, s, ref, threshold, x.Texture(0))
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", out)
}
