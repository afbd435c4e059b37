package nodes

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// KeypointPortalSink stores the latest stream it receives and publishes it
// through its Portal. Until the first run the portal holds an empty stream.
type KeypointPortalSink struct {
	*pipeline.Base
	portal *pipeline.Portal
}

// NewKeypointPortalSink creates a keypoint portal sink.
func NewKeypointPortalSink(ids *pipeline.IDs, name string) (*KeypointPortalSink, error) {
	n := &KeypointPortalSink{}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.In("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	n.portal = pipeline.NewPortal(b.Name(), pipeline.KindKeypoints)
	return n, nil
}

// Portal returns the portal of the node.
func (n *KeypointPortalSink) Portal() *pipeline.Portal { return n.portal }

// Init allocates the stored texture and publishes an empty stream.
func (n *KeypointPortalSink) Init(pool *gpucore.TexturePool) error {
	if err := n.Base.Init(pool); err != nil {
		return err
	}
	side := keypoint.SideLength(0, 0, 0)
	empty, err := streamops.Upload(n.Texture(0), nil, 0, 0, side)
	if err == nil {
		err = n.publish(empty)
	}
	if err != nil {
		return multierr.Append(err, n.Base.Unwind(pool))
	}
	return nil
}

// Release closes the portal and releases the node.
func (n *KeypointPortalSink) Release(pool *gpucore.TexturePool) error {
	n.portal.Close()
	return n.Base.Release(pool)
}

func (n *KeypointPortalSink) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	s, err := readStream(x, "")
	if err != nil {
		return nil, err
	}
	if err := x.Texture(0).CopyFrom(s.Texture); err != nil {
		return nil, err
	}
	s.Texture = x.Texture(0)
	return nil, n.publish(s)
}

func (n *KeypointPortalSink) publish(s streamops.Stream) error {
	m, err := pipeline.KeypointMessage(s)
	if err != nil {
		return err
	}
	return n.portal.Publish(m)
}

// KeypointPortalSource outputs the stream stored by a KeypointPortalSink,
// possibly of another pipeline.
type KeypointPortalSource struct {
	*pipeline.Base

	mu     sync.Mutex
	source *KeypointPortalSink
}

// NewKeypointPortalSource creates a keypoint portal source without a sink.
func NewKeypointPortalSource(ids *pipeline.IDs, name string) (*KeypointPortalSource, error) {
	n := &KeypointPortalSource{}
	b, err := pipeline.NewBase(ids, name, 0, n.run,
		pipeline.Out("").Expects(pipeline.KindKeypoints),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetSource sets the portal sink to read from. nil detaches the source.
func (n *KeypointPortalSource) SetSource(sink *KeypointPortalSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.source = sink
}

// Portals implements pipeline.PortalReader.
func (n *KeypointPortalSource) Portals() []*pipeline.Portal {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.source == nil {
		return []*pipeline.Portal{nil}
	}
	return []*pipeline.Portal{n.source.portal}
}

func (n *KeypointPortalSource) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	return nil, forwardPortal(x, n.Base, n.Portals()[0])
}

// ImagePortalSink stores the latest image it receives and publishes it
// through its Portal. Until the first run the portal holds a 1x1
// transparent image.
type ImagePortalSink struct {
	*pipeline.Base
	portal *pipeline.Portal
}

// NewImagePortalSink creates an image portal sink.
func NewImagePortalSink(ids *pipeline.IDs, name string) (*ImagePortalSink, error) {
	n := &ImagePortalSink{}
	b, err := pipeline.NewBase(ids, name, 1, n.run,
		pipeline.In("").Expects(pipeline.KindImage),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	n.portal = pipeline.NewPortal(b.Name(), pipeline.KindImage)
	return n, nil
}

// Portal returns the portal of the node.
func (n *ImagePortalSink) Portal() *pipeline.Portal { return n.portal }

// Init allocates the stored texture and publishes a blank image.
func (n *ImagePortalSink) Init(pool *gpucore.TexturePool) error {
	if err := n.Base.Init(pool); err != nil {
		return err
	}
	stored := n.Texture(0)
	err := stored.Resize(1, 1)
	if err == nil {
		var m pipeline.Message
		if m, err = pipeline.ImageMessage(stored, pipeline.RGBA); err == nil {
			err = n.portal.Publish(m)
		}
	}
	if err != nil {
		return multierr.Append(err, n.Base.Unwind(pool))
	}
	return nil
}

// Release closes the portal and releases the node.
func (n *ImagePortalSink) Release(pool *gpucore.TexturePool) error {
	n.portal.Close()
	return n.Base.Release(pool)
}

func (n *ImagePortalSink) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	m, err := x.Read("")
	if err != nil {
		return nil, err
	}
	image, format, err := m.Image()
	if err != nil {
		return nil, err
	}
	stored := x.Texture(0)
	if err := stored.CopyFrom(image); err != nil {
		return nil, err
	}
	out, err := pipeline.ImageMessage(stored, format)
	if err != nil {
		return nil, err
	}
	return nil, n.portal.Publish(out)
}

// ImagePortalSource outputs the image stored by an ImagePortalSink.
type ImagePortalSource struct {
	*pipeline.Base

	mu     sync.Mutex
	source *ImagePortalSink
}

// NewImagePortalSource creates an image portal source without a sink.
func NewImagePortalSource(ids *pipeline.IDs, name string) (*ImagePortalSource, error) {
	n := &ImagePortalSource{}
	b, err := pipeline.NewBase(ids, name, 0, n.run,
		pipeline.Out("").Expects(pipeline.KindImage),
	)
	if err != nil {
		return nil, err
	}
	n.Base = b
	return n, nil
}

// SetSource sets the portal sink to read from. nil detaches the source.
func (n *ImagePortalSource) SetSource(sink *ImagePortalSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.source = sink
}

// Portals implements pipeline.PortalReader.
func (n *ImagePortalSource) Portals() []*pipeline.Portal {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.source == nil {
		return []*pipeline.Portal{nil}
	}
	return []*pipeline.Portal{n.source.portal}
}

func (n *ImagePortalSource) run(_ context.Context, x *pipeline.Exec) (pipeline.Future, error) {
	return nil, forwardPortal(x, n.Base, n.Portals()[0])
}

func forwardPortal(x *pipeline.Exec, node fmt.Stringer, portal *pipeline.Portal) error {
	if portal == nil {
		return vision.IllegalOperation("nodes: %s has no source", node)
	}
	m, err := portal.Read()
	if err != nil {
		return err
	}
	return x.Write("", m)
}
