// Package gpucore provides the GPU abstractions shared by the keypoint
// toolkit: texture handles, compute kernels, the [Adapter] interface that
// hides the backend, and the fixed-capacity [TexturePool].
//
// # Architecture
//
// Algorithms never touch pixels directly. They describe a pass as a
// [Kernel] (one output texture, a set of read-only inputs and a per-texel
// function) and hand it to an [Adapter]. The adapter decides where the pass
// runs:
//
//	          +-------------------+
//	          | streamops / nodes |
//	          +---------+---------+
//	                    | Kernel, Texture
//	          +---------v---------+
//	          |      Adapter      |
//	          +---------+---------+
//	                    |
//	     +--------------+--------------+
//	     |                             |
//	+----v------------+      +---------v-------+
//	| SoftwareAdapter |      | backend adapter |
//	| (worker pool)   |      | (wgpu, ...)     |
//	+-----------------+      +-----------------+
//
// [SoftwareAdapter] is the CPU fallback. It executes each kernel pass on a
// pool of goroutines, splitting the output texels across workers the way a
// GPU splits them across invocations.
//
// # Resource Management
//
// Textures are referenced by opaque [TextureID] values owned by the adapter.
// Pipelines do not create textures directly; they draw them from a
// [TexturePool], which hands out at most a fixed number of [Texture] handles
// and reclaims them on explicit [TexturePool.Free]. Freeing a texture twice
// or freeing a texture owned by another pool is an illegal operation.
//
// All textures store RGBA8 texels (4 bytes each), row-major, without row
// padding.
package gpucore
