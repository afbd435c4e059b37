package nodes

import (
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// readStream pulls the keypoint stream of an input port.
func readStream(x *pipeline.Exec, port string) (streamops.Stream, error) {
	m, err := x.Read(port)
	if err != nil {
		return streamops.Stream{}, err
	}
	return m.Keypoints()
}

// writeStream writes a keypoint stream to an output port.
func writeStream(x *pipeline.Exec, port string, s streamops.Stream) error {
	m, err := pipeline.KeypointMessage(s)
	if err != nil {
		return err
	}
	return x.Write(port, m)
}

// keypointFilter declares the ports of a one-in one-out keypoint node.
func keypointFilter() []pipeline.PortSpec {
	return []pipeline.PortSpec{
		pipeline.In("").Expects(pipeline.KindKeypoints),
		pipeline.Out("").Expects(pipeline.KindKeypoints),
	}
}

// imageFilter declares the ports of a one-in one-out image node.
func imageFilter() []pipeline.PortSpec {
	return []pipeline.PortSpec{
		pipeline.In("").Expects(pipeline.KindImage),
		pipeline.Out("").Expects(pipeline.KindImage),
	}
}

func orDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
