// Command gpuprim runs the gpuprim compute primitives on a GPU or on the
// reference device and checks the results on the host.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "gpuprim"
	app.Usage = "run and verify GPU compute primitives"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "backend, b",
			Value:  "auto",
			Usage:  "device to run on: auto, vulkan, metal, dx12, gl, software or reference",
			EnvVar: "GPUPRIM_BACKEND",
		},
		cli.StringFlag{
			Name:  "adapter",
			Usage: "only use adapters whose name contains this value",
		},
		cli.StringFlag{
			Name:  "power",
			Value: "high",
			Usage: "adapter power preference: high or low",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: runtime.NumCPU(),
			Usage: "goroutines the reference backend spreads workgroups over",
		},
		cli.BoolFlag{
			Name:  "validate",
			Usage: "validate every kernel with naga before building its pipeline",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "devices",
			Usage:  "list the adapters every registered backend exposes",
			Action: listDevices,
		},
		{
			Name:  "reduce",
			Usage: "reduce random u32 values and compare with the host",
			Flags: []cli.Flag{
				cli.UintFlag{Name: "n", Value: 1 << 20, Usage: "number of elements"},
				cli.StringFlag{Name: "op", Value: "add", Usage: "operator: add, min or max"},
				cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			},
			Action: runReduce,
		},
		{
			Name:  "scan",
			Usage: "exclusive prefix sum of random u32 values",
			Flags: []cli.Flag{
				cli.UintFlag{Name: "n", Value: 1 << 20, Usage: "number of elements, a power of two"},
				cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			},
			Action: runScan,
		},
		{
			Name:  "sort",
			Usage: "sort random keys",
			Description: `
The radix algorithm sorts full 32-bit keys. The bucket algorithm sorts
(key, value) pairs with keys below 4096 and does not keep the order of equal
keys.`,
			Flags: []cli.Flag{
				cli.UintFlag{Name: "n", Value: 1 << 20, Usage: "number of keys"},
				cli.StringFlag{Name: "algo", Value: "radix", Usage: "radix or bucket"},
				cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			},
			Action: runSort,
		},
		{
			Name:  "bvh",
			Usage: "build a BVH over random point lights",
			Description: `
Scatter point lights in a cube, build the light BVH and check every level
against its children. With --png the leaf boxes are drawn from above.`,
			Flags: []cli.Flag{
				cli.UintFlag{Name: "lights, n", Value: 4096, Usage: "number of lights"},
				cli.Float64Flag{Name: "extent", Value: 100, Usage: "edge length of the cube the lights live in"},
				cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed"},
				cli.StringFlag{Name: "png, o", Usage: "write a top-down picture of the leaf boxes to this file"},
				cli.IntFlag{Name: "size", Value: 768, Usage: "picture edge in pixels"},
			},
			Action: runBVH,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gpuprim:", err)
		os.Exit(1)
	}
}
