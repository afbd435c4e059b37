// Package vision holds what the packages of the keypoint vision toolkit
// share: the error kinds and the logger.
//
// # Overview
//
// The toolkit runs computer-vision work as a graph of nodes exchanging GPU
// textures. Keypoints travel between nodes as keypoint streams: square
// RGBA textures in which every record is a fixed number of pixels. The
// packages are layered:
//
//   - gpucore: the GPU abstraction (adapter, textures, kernels, texture
//     pool) and a software adapter that runs kernels on the CPU
//   - keypoint: the stream codec, mapping records to bytes and back
//   - streamops: operations on streams (clip, mix, border clip, shuffle,
//     transform, filters), written as kernel passes
//   - pipeline: ports, messages, the node lifecycle and the scheduler
//   - nodes: the concrete nodes built on streamops
//
// # Quick Start
//
//	ids := new(pipeline.IDs)
//	src, _ := nodes.NewKeypointSource(ids, "")
//	clip, _ := nodes.NewKeypointClipper(ids, "")
//	sink, _ := nodes.NewKeypointSink(ids, "")
//	_ = src.Output("").ConnectTo(clip.Input(""))
//	_ = clip.Output("").ConnectTo(sink.Input(""))
//
//	p, _ := pipeline.New()
//	_ = p.Init(src, clip, sink)
//	defer p.Release()
//
//	src.SetKeypoints(records)
//	results, err := p.Run(ctx)
//	best := results["keypoints"].([]keypoint.Record)
//
// # Errors
//
// Every error returned by the toolkit matches one of the kinds declared
// here with [errors.Is]: [ErrInvalidArgument] for bad values,
// [ErrIllegalOperation] for lifecycle and contract violations,
// [ErrNotSupported] for unimplemented parameter combinations,
// [ErrOutOfMemory] when the texture pool is exhausted and
// [ErrAbstractMethod] for a node without a task.
//
// # Logging
//
// The toolkit is silent by default. Use [SetLogger] to route its log/slog
// output to a handler.
package vision
