// Package nodes provides the concrete pipeline nodes: keypoint sources and
// sinks, the stream algorithms wrapped as nodes, page-flip buffers, portals
// and a few image operations.
//
// Every constructor takes the IDs allocator of the graph and a name. An
// empty name selects a default: sinks are named after what they export
// ("keypoints", "image"), other nodes get a generated name.
//
// Properties are set with setters that validate eagerly:
//
//	clipper, _ := nodes.NewKeypointClipper(ids, "")
//	if err := clipper.SetSize(100); err != nil {
//	    // ErrInvalidArgument
//	}
package nodes
