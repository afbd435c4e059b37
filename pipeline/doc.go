// Package pipeline runs graphs of processing nodes that exchange messages
// through typed ports.
//
// # Graph
//
// Nodes are created with an IDs allocator and linked with Port.ConnectTo:
//
//	ids := new(pipeline.IDs)
//	src, _ := nodes.NewKeypointSource(ids, "src")
//	sink, _ := nodes.NewKeypointSink(ids, "keypoints")
//	_ = src.Output("").ConnectTo(sink.Input(""))
//
// Pipeline.Init infers the dependencies from the input port links, sorts the
// nodes topologically and rejects cycles. The sequence must start with a
// source (a node without input ports) and contain at least one sink (a node
// without output ports that implements Exporter).
//
// # Execution
//
// Pipeline.Run executes the nodes one at a time. A node task either
// completes synchronously or returns a Future, which is awaited before the
// next node starts. Concurrent Run calls are queued and served in arrival
// order.
//
// # Resources
//
// Nodes draw textures from the pipeline's gpucore.TexturePool: private
// textures for the lifetime of the node, scratch textures for the duration
// of a single execution. Scratch textures a failing task did not free are
// returned to the pool before the error propagates.
//
// # Portals
//
// A Portal forwards the latest message of one node to nodes of the same or
// another pipeline without creating a graph edge.
package pipeline
