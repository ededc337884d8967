//go:build linux

package cmd

import (
	"time"

	"github.com/smazurov/v4l2queue/internal/devices"
	"github.com/smazurov/v4l2queue/internal/output"
	"github.com/spf13/cobra"
)

// CreateOutputCmd creates the output command.
func CreateOutputCmd() *cobra.Command {
	var (
		settings StreamSettings
		source   SourceSettings
		frames   int
		fps      float64
		logLevel string
		logJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "output <device>",
		Short: "Play frames to an output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			content, mem, format, err := settings.Resolve()
			if err != nil {
				return err
			}
			setupLogging(logLevel, logJSON)
			device, err := devices.Resolve(args[0])
			if err != nil {
				return err
			}

			src, err := source.Open(format.Width, format.Height)
			if err != nil {
				return err
			}
			defer src.Close()

			ctx, cancel := signalContext()
			defer cancel()

			feeder := output.NewFeeder(output.Config{
				Device:   device,
				Content:  content,
				Memory:   mem,
				Buffers:  settings.Buffers,
				Frames:   frames,
				Format:   format,
				Interval: frameInterval(fps),
			}, src, nil)

			return feeder.Run(ctx)
		},
	}

	settings.AddFlags(cmd.Flags())
	source.AddFlags(cmd.Flags())
	cmd.Flags().IntVarP(&frames, "count", "n", 0, "Stop after this many frames; 0 plays until the source ends")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Pace frames at this rate; 0 lets the driver set the pace")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}

func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}
