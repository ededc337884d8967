//go:build linux

package cmd

import (
	"fmt"
	"io"

	"github.com/smazurov/v4l2queue/internal/devices"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

var infoContents = []v4l2.ContentType{
	v4l2.ContentVideo,
	v4l2.ContentVideoMplane,
	v4l2.ContentVBI,
	v4l2.ContentSlicedVBI,
	v4l2.ContentSDR,
	v4l2.ContentMeta,
}

// CreateInfoCmd creates the info command.
func CreateInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <device>",
		Short: "Show capabilities and formats of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := devices.Resolve(args[0])
			if err != nil {
				return err
			}
			dev, err := v4l2.OpenDevice(path, true)
			if err != nil {
				return err
			}
			defer dev.Close()
			return printInfo(cmd.OutOrStdout(), dev)
		},
	}
}

func printInfo(out io.Writer, dev *v4l2.Device) error {
	caps, err := dev.Capabilities()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Device:    %s\n", dev.Path())
	fmt.Fprintf(out, "Driver:    %s %s\n", caps.Driver, caps.VersionString())
	fmt.Fprintf(out, "Card:      %s\n", caps.Card)
	fmt.Fprintf(out, "Bus:       %s\n", caps.BusInfo)
	fmt.Fprintf(out, "Caps:      %#08x\n", caps.Effective())
	fmt.Fprintf(out, "Streaming: %t\n", caps.Streaming())

	for _, content := range infoContents {
		for _, dir := range []v4l2.Direction{v4l2.Capture, v4l2.Output} {
			typ := dir.BufferType(content)
			if !typ.Supported(caps.Effective()) {
				continue
			}
			fmt.Fprintf(out, "\n%v:\n", typ)
			if pf, err := dev.Format(typ); err == nil && pf.PixelFormat != 0 {
				fmt.Fprintf(out, "  current: %s %dx%d (%d bytes)\n",
					v4l2.FormatFourCC(pf.PixelFormat), pf.Width, pf.Height, pf.SizeImage)
			}
			formats, err := dev.Formats(typ)
			if err != nil {
				fmt.Fprintf(out, "  formats: %v\n", err)
				continue
			}
			for _, f := range formats {
				emulated := ""
				if f.Emulated {
					emulated = " (emulated)"
				}
				fmt.Fprintf(out, "  %s  %s%s\n", v4l2.FormatFourCC(f.PixelFormat), f.FormatName, emulated)
			}
		}
	}
	return nil
}
