//go:build !nogpu

package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/gpu"
)

func halOptions(ctx *cli.Context) (gpu.Options, error) {
	opts := gpu.Options{
		AdapterName:     ctx.GlobalString("adapter"),
		PowerPreference: gputypes.PowerPreferenceHighPerformance,
	}
	switch p := strings.ToLower(ctx.GlobalString("power")); p {
	case "high", "":
	case "low":
		opts.PowerPreference = gputypes.PowerPreferenceLowPower
	default:
		return opts, fmt.Errorf("unknown power preference %q", p)
	}
	if b := ctx.GlobalString("backend"); b != "" && !strings.EqualFold(b, "auto") {
		backend, err := gpu.ParseBackend(b)
		if err != nil {
			return opts, err
		}
		opts.Backends = []gputypes.Backend{backend}
	}
	return opts, nil
}

func openHAL(ctx *cli.Context) (gpucore.Device, error) {
	opts, err := halOptions(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := gpu.Open(opts)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func listDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	adapters := gpu.Adapters()
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Backend", "Adapter", "Type", "Vendor", "Driver"})
	for _, a := range adapters {
		table.Append([]string{gpu.BackendName(a.Backend), a.Name, a.Type.String(), a.Vendor, a.Driver})
	}
	table.Append([]string{"reference", "gpuprim reference device", "Software", "", ""})
	table.Render()

	fmt.Fprintf(ctx.App.Writer, "%d adapter(s) found\n%s", len(adapters), buf.String())
	return nil
}
