package main

import (
	"strings"

	"github.com/urfave/cli"

	"github.com/gogpu/gpuprim"
	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/internal/refgpu"
)

// openContext opens the device the global flags select and wraps it in a
// gpuprim.Context. The returned function closes both.
func openContext(ctx *cli.Context) (*gpuprim.Context, func(), error) {
	logger := setupLogging(ctx)

	var dev gpucore.Device
	if strings.EqualFold(ctx.GlobalString("backend"), "reference") {
		dev = refgpu.New(refgpu.WithWorkers(ctx.GlobalInt("workers")))
	} else {
		d, err := openHAL(ctx)
		if err != nil {
			return nil, nil, err
		}
		dev = d
	}

	pc := gpuprim.New(dev,
		gpuprim.WithLogger(logger),
		gpuprim.WithValidation(ctx.GlobalBool("validate")),
	)
	logger.Info("device ready", "adapter", dev.Info().String())
	return pc, func() {
		_ = pc.Close()
		dev.Destroy()
	}, nil
}
