package nodes

import (
	"context"
	"slices"
	"sync"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/keypoint"
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// KeypointSource uploads a list of keypoints into a stream. Descriptors
// and extra bytes are dropped.
type KeypointSource struct {
	*pipeline.Base

	mu        sync.Mutex
	keypoints []keypoint.Record
	capacity  int
}

// NewKeypointSource creates a keypoint source with DefaultCapacity.
func NewKeypointSource(ids *pipeline.IDs, name string) (*KeypointSource, error) {
	n := &KeypointSource{capacity: keypoint.DefaultCapacity}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.Out("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetKeypoints sets the keypoints uploaded by the next runs. Only the first
// Capacity records are kept.
func (n *KeypointSource) SetKeypoints(records []keypoint.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keypoints = slices.Clone(records)
}

// Keypoints returns the keypoints of the source.
func (n *KeypointSource) Keypoints() []keypoint.Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.keypoints)
}

// SetCapacity sets the capacity of the output stream. A tight bound keeps
// the stream texture small.
func (n *KeypointSource) SetCapacity(capacity int) error {
	if capacity < 0 || capacity > keypoint.MaxCapacity {
		return vision.InvalidArgument("nodes: keypoint source capacity %d not in [0, %d]", capacity, keypoint.MaxCapacity)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capacity = capacity
	return nil
}

// Capacity returns the capacity of the output stream.
func (n *KeypointSource) Capacity() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.capacity
}

func (n *KeypointSource) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	n.mu.Lock()
	capacity := n.capacity
	records := make([]keypoint.Record, min(len(n.keypoints), capacity))
	for i := range records {
		r := n.keypoints[i]
		r.Extra, r.Descriptor = nil, nil
		records[i] = r
	}
	n.mu.Unlock()

	side := keypoint.SideLength(capacity, 0, 0)
	s, err := streamops.Upload(x.Texture(0), records, 0, 0, side)
	if err != nil {
		return nil, err
	}
	return nil, writeStream(x, "", s)
}

// KeypointSink downloads a stream and decodes it. Its export is the list
// of records of the last run.
type KeypointSink struct {
	*pipeline.Base

	mu        sync.Mutex
	keypoints []keypoint.Record
}

// NewKeypointSink creates a keypoint sink. An empty name selects
// "keypoints".
func NewKeypointSink(ids *pipeline.IDs, name string) (*KeypointSink, error) {
	n := &KeypointSink{}
	b, err := pipeline.NewBase(ids, orDefault(name, "keypoints"), 0, n.run,
		pipeline.In("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

func (n *KeypointSink) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	rb := x.Adapter().ReadTextureAsync(s.Texture.ID())
	return pipeline.AfterReadback(rb, func(pixels []byte) error {
		records, err := keypoint.DecodeAll(pixels, s.DescriptorSize, s.ExtraSize, s.SideLength)
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.keypoints = records
		n.mu.Unlock()
		return nil
	}), nil
}

// Export returns the keypoints decoded by the last run.
func (n *KeypointSink) Export(context.Context) (any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.keypoints), nil
}
