package main

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/gogpu/gpuprim"
	"github.com/gogpu/gpuprim/gpucore"
)

type lightScene struct {
	lights    []gpuprim.PointLight
	positions [][3]float32
}

func randomScene(ctx *cli.Context, n uint32, extent float32) lightScene {
	rng := newRand(ctx)
	s := lightScene{
		lights:    make([]gpuprim.PointLight, n),
		positions: make([][3]float32, n),
	}
	for i := range s.lights {
		s.positions[i] = [3]float32{
			(rng.Float32() - 0.5) * extent,
			(rng.Float32() - 0.5) * extent,
			(rng.Float32() - 0.5) * extent,
		}
		s.lights[i] = gpuprim.PointLight{
			Color:  [3]float32{rng.Float32(), rng.Float32(), rng.Float32()},
			Radius: extent * (0.002 + 0.01*rng.Float32()),
		}
	}
	return s
}

func runBVH(ctx *cli.Context) error {
	n := uint32(ctx.Uint("lights"))
	if n == 0 {
		return errors.New("--lights must be positive")
	}
	extent := float32(ctx.Float64("extent"))
	if extent <= 0 {
		return errors.New("--extent must be positive")
	}

	pc, closeAll, err := openContext(ctx)
	if err != nil {
		return err
	}
	defer closeAll()
	rc, cancel := runContext()
	defer cancel()

	scene := randomScene(ctx, n, extent)
	lights, err := pc.AllocDeviceOnly("lights", gpucore.BufferUsageScratch, gpuprim.PointLightSize*uint64(n))
	if err != nil {
		return err
	}
	defer lights.Release()
	positions, err := pc.AllocDeviceOnly("light positions", gpucore.BufferUsageScratch, gpuprim.PositionSize*uint64(n))
	if err != nil {
		return err
	}
	defer positions.Release()
	s1, err := pc.AllocDeviceOnly("light bvh scratch1", gpucore.BufferUsageScratch, gpuprim.LightBVHScratch1Size(n))
	if err != nil {
		return err
	}
	defer s1.Release()
	s2, err := pc.AllocDeviceOnly("light bvh scratch2", gpucore.BufferUsageScratch, gpuprim.LightBVHScratch2Size(n))
	if err != nil {
		return err
	}
	defer s2.Release()

	if err := pc.WriteBuffer(lights.Get(), 0, gpuprim.EncodePointLights(scene.lights)); err != nil {
		return err
	}
	if err := pc.WriteBuffer(positions.Get(), 0, gpuprim.EncodePositions(scene.positions)); err != nil {
		return err
	}

	var root uint32
	start := time.Now()
	err = pc.Run(rc, "light bvh", func(rec *gpuprim.Recorder) error {
		var err error
		root, err = gpuprim.BuildLightBVH(rec, gpuprim.LightBVHArgs{
			Lights: lights.Get(), Positions: positions.Get(), Count: n,
			Scratch1: s1.Get(), Scratch2: s2.Get(),
		})
		return err
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	leafCount := gpuprim.LightBVHLeafCount(n)
	nodes, err := pc.ReadBVHNodes(rc, s1.Get(), 0, gpuprim.BVHNodeCount(leafCount))
	if err != nil {
		return err
	}
	levels, err := checkLightBVH(nodes, scene, leafCount)
	if err != nil {
		return err
	}

	printLevels(ctx, levels)
	report(ctx, "light bvh", n, elapsed, printer.Sprintf("root %d", root))

	if out := ctx.String("png"); out != "" {
		if err := writeLeafPNG(out, ctx.Int("size"), extent, nodes, levels, root); err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "wrote %s\n", out)
	}
	return nil
}

type levelInfo struct {
	first, count, valid uint32
}

// checkLightBVH verifies the structure the device built: every light has
// exactly one leaf whose box holds its position, and every internal node
// contains its valid children and counts them.
func checkLightBVH(nodes []gpuprim.BVHNode, scene lightScene, leafCount uint32) ([]levelInfo, error) {
	counts := gpuprim.BVHLevelCounts(leafCount)
	levels := make([]levelInfo, len(counts))
	var first uint32
	for i, c := range counts {
		levels[i] = levelInfo{first: first, count: c}
		first += c
	}

	seen := make([]bool, len(scene.lights))
	for i := uint32(0); i < leafCount; i++ {
		leaf := nodes[i]
		if leaf.IsInvalid() {
			continue
		}
		levels[0].valid++
		if !leaf.IsLeaf() || leaf.Payload >= uint32(len(seen)) || seen[leaf.Payload] {
			return nil, fmt.Errorf("light bvh: bad leaf %d: %s", i, leaf)
		}
		seen[leaf.Payload] = true
		p := scene.positions[leaf.Payload]
		if !leaf.Contains(gpuprim.BVHNode{Min: p, Max: p}) {
			return nil, fmt.Errorf("light bvh: leaf %d does not hold light %d at %v", i, leaf.Payload, p)
		}
	}
	if levels[0].valid != uint32(len(scene.lights)) {
		return nil, fmt.Errorf("light bvh: %d leaves for %d lights", levels[0].valid, len(scene.lights))
	}

	for l := 1; l < len(levels); l++ {
		for i := levels[l].first; i < levels[l].first+levels[l].count; i++ {
			node := nodes[i]
			if node.IsInvalid() {
				continue
			}
			levels[l].valid++
			var valid uint32
			for c := node.Tag; c < node.Tag+gpuprim.BVHBranching; c++ {
				child := nodes[c]
				if child.IsInvalid() {
					continue
				}
				valid++
				if !node.Contains(child) {
					return nil, fmt.Errorf("light bvh: node %d does not contain child %d", i, c)
				}
			}
			if valid != node.Payload {
				return nil, fmt.Errorf("light bvh: node %d counts %d children, has %d", i, node.Payload, valid)
			}
		}
	}
	return levels, nil
}

func printLevels(ctx *cli.Context, levels []levelInfo) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Level", "First node", "Nodes", "Valid"})
	for i, l := range levels {
		table.Append([]string{
			fmt.Sprint(i),
			printer.Sprint(l.first),
			printer.Sprint(l.count),
			printer.Sprint(l.valid),
		})
	}
	table.Render()
	fmt.Fprint(ctx.App.Writer, buf.String())
}
