//go:build linux

// Package cmd holds the device subcommands of the v4l2queue CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/internal/output"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
	"github.com/spf13/pflag"
)

// StreamSettings are the user-facing stream parameters shared by the
// server and the capture and output commands.
type StreamSettings struct {
	Content string
	Memory  string
	Buffers uint32
	Format  string
	Width   uint32
	Height  uint32
}

// AddFlags registers the settings on fs.
func (s *StreamSettings) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Content, "content", "video", "Content type (video, video-mplane, vbi, sliced-vbi, sdr, meta)")
	fs.StringVar(&s.Memory, "memory", "mmap", "Buffer memory (mmap, userptr)")
	fs.Uint32VarP(&s.Buffers, "buffers", "b", 4, "Buffers to request from the driver")
	fs.StringVarP(&s.Format, "format", "f", "", "Pixel format fourcc, e.g. YUYV; empty keeps the current one")
	fs.Uint32Var(&s.Width, "width", 0, "Frame width; 0 keeps the current one")
	fs.Uint32Var(&s.Height, "height", 0, "Frame height; 0 keeps the current one")
}

// Resolve parses the settings into stream parameters.
func (s StreamSettings) Resolve() (v4l2.ContentType, v4l2.MemoryStrategy, v4l2.PixFormat, error) {
	content, err := v4l2.ParseContentType(s.Content)
	if err != nil {
		return 0, nil, v4l2.PixFormat{}, err
	}
	mem, err := v4l2.ParseMemory(s.Memory)
	if err != nil {
		return 0, nil, v4l2.PixFormat{}, err
	}
	if s.Buffers == 0 {
		return 0, nil, v4l2.PixFormat{}, fmt.Errorf("buffer count must be at least 1")
	}

	pf := v4l2.PixFormat{Width: s.Width, Height: s.Height}
	if s.Format != "" {
		if pf.PixelFormat, err = v4l2.ParseFourCC(s.Format); err != nil {
			return 0, nil, v4l2.PixFormat{}, err
		}
	}
	return content, mem, pf, nil
}

// SourceSettings select what an output stream plays.
type SourceSettings struct {
	Source    string
	Loop      bool
	FrameSize int
}

// AddFlags registers the settings on fs.
func (s *SourceSettings) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Source, "source", "pattern", `Frame source: "pattern" or a raw frame file`)
	fs.BoolVar(&s.Loop, "loop", false, "Restart the file when it ends")
	fs.IntVar(&s.FrameSize, "frame-size", 0, "Bytes per frame in the file; defaults to width*height*2")
}

// Open opens the configured source for width x height frames.
func (s SourceSettings) Open(width, height uint32) (output.FrameSource, error) {
	if width == 0 || height == 0 {
		width, height = 640, 480
	}
	if s.Source == "" || s.Source == "pattern" {
		return output.NewPatternSource(int(width), int(height))
	}
	frameSize := s.FrameSize
	if frameSize == 0 {
		frameSize = int(width * height * 2)
	}
	return output.OpenFileSource(s.Source, frameSize, s.Loop)
}

// setupLogging initializes logging for a one-shot command.
func setupLogging(level string, json bool) {
	cfg := logging.Config{Level: level, Format: "text"}
	if json {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
