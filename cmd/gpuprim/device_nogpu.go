//go:build nogpu

package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"

	"github.com/gogpu/gpuprim/gpucore"
)

var errNoGPU = errors.New("built with -tags nogpu; only --backend reference is available")

func openHAL(*cli.Context) (gpucore.Device, error) {
	return nil, errNoGPU
}

func listDevices(ctx *cli.Context) error {
	fmt.Fprintln(ctx.App.Writer, "reference\tgpuprim reference device")
	return nil
}
