// Package gpucore provides the device abstraction the gpuprim compute
// primitives are written against.
//
// The [Device] interface is deliberately narrow: buffers, bind group
// layouts, bind groups, compute pipelines, a [CommandEncoder] with explicit
// barriers, and submission with completion tracking. Two implementations
// exist inside the module:
//
//	               +------------------+
//	               |     gpuprim      |
//	               | (Reduce, Scan,   |
//	               |  sorts, BVH)     |
//	               +--------+---------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +---------v--------+
//	| internal/halgpu |          | internal/refgpu  |
//	|  (hal.Device)   |          | (Go kernel       |
//	|                 |          |  mirrors, tests) |
//	+--------+--------+          +------------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	| Vulkan, Metal,  |
//	| DX12, GLES, ... |
//	+-----------------+
//
// # Descriptor sets
//
// [DescriptorPool] hands out bind groups as reference-counted arena slots.
// A primitive acquires a bind group per dispatch and pushes the strong
// reference into the submission's resource.Container; the bind group is
// destroyed once the container is released after GPU completion.
//
// # Thread Safety
//
// Device implementations and DescriptorPool are safe for concurrent use.
// A CommandEncoder must be used from one goroutine at a time.
package gpucore
