// Package gpuprim provides GPU compute primitives and a light BVH builder
// on top of them.
//
// # Overview
//
// gpuprim records parallel reduce, exclusive scan, bucket sort, radix sort
// and a flat 32-ary BVH build as compute dispatches with explicit
// barriers. Multi-pass algorithms run a fixed, host-computed number of
// passes; nothing is read back between them. [BuildLightBVH] composes the
// primitives into a spatial index of point lights for clustered or tiled
// shading.
//
// Package gpu opens devices on real GPUs. There is no CPU fallback: the
// reference device in internal/refgpu runs the same kernels on the CPU for
// tests and validation only.
//
// # Quick Start
//
//	dev, err := gpu.Open(gpu.Options{})
//	...
//	pc := gpuprim.New(dev)
//	defer pc.Close()
//
//	keys, _ := pc.AllocDeviceOnly("keys", gpucore.BufferUsageScratch, 4*n)
//	defer keys.Release()
//	...
//	err = pc.Run(ctx, "sort", func(rec *gpuprim.Recorder) error {
//	    return gpuprim.RadixSort(rec, gpuprim.RadixSortArgs{
//	        Keys: keys.Get(), Length: n,
//	        Scratch1: s1.Get(), Scratch2: s2.Get(),
//	    })
//	})
//
// # Recording Model
//
// A [Recorder] pairs a command encoder with a resource.Container. Every
// bind group and parameter slab a primitive uses is pushed into the
// container, which [Submission.Wait] releases once the GPU is done.
// Primitives end each step with a barrier on the buffers they wrote, so
// consecutive primitives on the same recorder are ordered.
//
// Arguments are checked on the host and violations panic: power-of-two
// lengths where required, non-zero counts, and buffer sizes against the
// sizing helpers ([BucketSortScratchSize], [RadixScratch1Size],
// [LightBVHScratch1Size] and friends). Device failures are returned as
// errors and never retried.
//
// # Buffer Layouts
//
// Offsets and lengths count elements. Elements are u32, vec4<f32>,
// [Pair] (8 bytes), [PointLight] (16 bytes) and [BVHNode] (32 bytes), all
// little-endian and std430 compatible.
package gpuprim
