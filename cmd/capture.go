//go:build linux

package cmd

import (
	"time"

	"github.com/smazurov/v4l2queue/internal/capture"
	"github.com/smazurov/v4l2queue/internal/devices"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/spf13/cobra"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var (
		settings StreamSettings
		frames   int
		dest     string
		logLevel string
		logJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "capture <device>",
		Short: "Capture frames from a device",
		Long: `Streams frames from a capture device and writes them to --output: a file, "stdout", ` +
			`a printf pattern such as frame-%05d.raw for one file per frame, or nothing.`,
		Args: cobra.ExactArgs(1),
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
			logger := logging.GetLogger("capture").With("device", device)

			sink, err := capture.OpenSink(dest)
			if err != nil {
				return err
			}
			defer sink.Close()

			ctx, cancel := signalContext()
			defer cancel()

			runner := capture.NewRunner(capture.Config{
				Device:        device,
				Content:       content,
				Memory:        mem,
				Buffers:       settings.Buffers,
				Frames:        frames,
				Format:        format,
				StatsInterval: time.Second,
			}, sink, nil)

			if err := runner.Run(ctx); err != nil {
				return err
			}
			if st := runner.Stats(); st.Corrupted > 0 {
				logger.Warn("Driver flagged corrupted frames", "corrupted", st.Corrupted, "frames", st.Frames)
			}
			return nil
		},
	}

	settings.AddFlags(cmd.Flags())
	cmd.Flags().IntVarP(&frames, "count", "n", 0, "Stop after this many frames; 0 runs until interrupted")
	cmd.Flags().StringVarP(&dest, "output", "o", "", "Frame destination; empty discards frames")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}
