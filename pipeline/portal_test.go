package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
)

type portalSource struct {
	*testNode
	portal *Portal
}

func (n *portalSource) Portals() []*Portal { return []*Portal{n.portal} }

func TestPortal(t *testing.T) {
	portal := NewPortal("p", KindImage)
	_, err := portal.Read()
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))

	tex := &gpucore.Texture{}
	m, err := ImageMessage(tex, Greyscale)
	assert.NoError(t, err)
	assert.NoError(t, portal.Publish(m))
	got, err := portal.Read()
	assert.NoError(t, err)
	assert.Equal(t, KindImage, got.Kind())

	err = portal.Publish(Message{kind: KindKeypoints})
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation))

	portal.Close()
	assert.False(t, portal.IsOpen())
}

func TestInit_ClosedPortal(t *testing.T) {
	ids := new(IDs)
	portal := NewPortal("p", KindImage)
	src := &portalSource{portal: portal}
	src.testNode = newNode(t, ids, "portal", 0, func(_ context.Context, x *Exec) (Future, error) {
		m, err := src.portal.Read()
		if err != nil {
			return nil, err
		}
		return nil, x.Write("", m)
	}, Out("").Expects(KindImage))
	s := sink(t, ids, "sink")
	connect(t, src, s, "")

	p := newPipeline(t)
	err := p.Init(src, s)
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation), "got %v", err)
	assert.Contains(t, err.Error(), "portal")
	assert.Equal(t, Unbound, src.State())
	assert.Equal(t, Unbound, s.State())

	// Without a portal at all, Init fails before touching the nodes.
	src.portal = nil
	err = p.Init(src, s)
	assert.True(t, errors.Is(err, vision.ErrIllegalOperation), "got %v", err)
	assert.Equal(t, Unbound, src.State())

	// Once the portal holds data the same nodes initialize and run.
	m, err := ImageMessage(&gpucore.Texture{}, RGBA)
	assert.NoError(t, err)
	assert.NoError(t, portal.Publish(m))
	src.portal = portal
	assert.NoError(t, p.Init(src, s))
	assert.Equal(t, Initialized, src.State())
	assert.NoError(t, p.Release())
}
