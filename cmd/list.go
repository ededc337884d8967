//go:build linux

package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List V4L2 devices that can stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := v4l2.FindDevices()
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devices)
		},
	}
}

func printDevices(out io.Writer, devices []v4l2.DeviceInfo) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "no streaming devices found")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tDIRECTIONS\tID")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.DevicePath, d.DeviceName, directions(d.Caps), d.DeviceID)
	}
	return tw.Flush()
}

func directions(caps uint32) string {
	capture := caps&(v4l2.CapVideoCapture|v4l2.CapVideoCaptureMplane) != 0
	output := caps&(v4l2.CapVideoOutput|v4l2.CapVideoOutputMplane) != 0
	switch {
	case capture && output:
		return "capture,output"
	case output:
		return "output"
	case capture:
		return "capture"
	}
	return "-"
}
