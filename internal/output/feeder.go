//go:build linux

// Package output feeds frames from a FrameSource into an output stream.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/internal/metrics"
	"github.com/smazurov/v4l2queue/internal/metrics/collectors"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// Config describes an output run.
type Config struct {
	Device  string
	Content v4l2.ContentType
	Memory  v4l2.MemoryStrategy
	Buffers uint32
	// Frames stops the feed after this many frames; 0 feeds until the
	// source is exhausted or the context is cancelled.
	Frames int
	Format v4l2.PixFormat
	// Interval paces frames; 0 submits as fast as the driver accepts them.
	Interval time.Duration
	// StatsInterval is the pool sampling period for metrics.
	StatsInterval time.Duration
}

// Stats describes the progress of a feed.
type Stats struct {
	Device  string         `json:"device"`
	Running bool           `json:"running"`
	Frames  uint64         `json:"frames"`
	Bytes   uint64         `json:"bytes"`
	Buffers int            `json:"buffers"`
	Pool    v4l2.PoolStats `json:"pool"`
}

// frame is the part of *v4l2.BufferHandle the feeder uses.
type frame interface {
	Space() ([]byte, error)
	SetLength(n int) error
	Release()
}

type frameStream interface {
	next(ctx context.Context) (frame, error)
	Drain(ctx context.Context) error
	Stats() v4l2.PoolStats
	Len() int
	Stop() error
	Close() error
}

type deviceStream struct {
	*v4l2.Stream
}

func (s deviceStream) next(ctx context.Context) (frame, error) {
	h, err := s.NextContext(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Feeder writes frames to one output device.
type Feeder struct {
	cfg    Config
	source FrameSource
	bus    *events.Bus
	logger *slog.Logger
	open   func(observer v4l2.Observer) (frameStream, error)

	mu     sync.Mutex
	stats  Stats
	stream frameStream
}

// NewFeeder creates a feeder reading from source. bus may be nil.
func NewFeeder(cfg Config, source FrameSource, bus *events.Bus) *Feeder {
	if cfg.Memory == nil {
		cfg.Memory = v4l2.Mmap
	}
	if cfg.Buffers == 0 {
		cfg.Buffers = 4
	}
	f := &Feeder{
		cfg:    cfg,
		source: source,
		bus:    bus,
		logger: logging.GetLogger("output").With("device", cfg.Device),
	}
	f.open = f.openDevice
	return f
}

func (f *Feeder) openDevice(observer v4l2.Observer) (frameStream, error) {
	dev, err := v4l2.OpenDevice(f.cfg.Device, true)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	caps, err := dev.Capabilities()
	if err != nil {
		return nil, err
	}
	typ := v4l2.Output.BufferType(f.cfg.Content)
	if !typ.Supported(caps.Effective()) || !caps.Streaming() {
		return nil, fmt.Errorf("%s (%s) does not support streaming %v", dev.Path(), caps.Card, typ)
	}

	if f.cfg.Format != (v4l2.PixFormat{}) {
		pf, err := dev.SetFormat(typ, f.cfg.Format)
		if err != nil {
			return nil, fmt.Errorf("set format: %w", err)
		}
		f.logger.Info("Negotiated format",
			"format", v4l2.FormatFourCC(pf.PixelFormat),
			"width", pf.Width,
			"height", pf.Height)
	}

	s, err := dev.Stream(f.cfg.Content, f.cfg.Buffers, v4l2.Output, f.cfg.Memory,
		v4l2.WithLogger(logging.GetLogger("v4l2").With("device", dev.Path())),
		v4l2.WithObserver(observer))
	if err != nil {
		return nil, err
	}
	return deviceStream{s}, nil
}

// Run feeds frames until the source ends, the frame limit is reached, ctx
// is cancelled or an error occurs. Only errors are returned. The source is
// left open.
func (f *Feeder) Run(ctx context.Context) error {
	observers := v4l2.MultiObserver{metrics.NewObserver(f.cfg.Device)}
	var eventObserver *events.Observer
	if f.bus != nil {
		eventObserver = events.NewObserver(f.bus, f.cfg.Device)
		observers = append(observers, eventObserver)
	}

	stream, err := f.open(observers)
	if err != nil {
		f.fail(eventObserver, err)
		return err
	}

	f.mu.Lock()
	f.stream = stream
	f.stats = Stats{Device: f.cfg.Device, Running: true, Buffers: stream.Len()}
	f.mu.Unlock()

	collector := collectors.NewPoolCollector(f.cfg.Device, stream, f.cfg.StatsInterval)
	collector.Start(ctx)

	err = f.loop(ctx, stream)
	collector.Stop()
	if serr := stream.Stop(); serr != nil && err == nil {
		err = serr
	}

	f.mu.Lock()
	f.stats.Pool = stream.Stats()
	f.stats.Running = false
	f.stream = nil
	final := f.stats
	f.mu.Unlock()

	if cerr := stream.Close(); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		f.fail(eventObserver, err)
		return err
	}
	f.logger.Info("Output finished", "frames", final.Frames, "bytes", final.Bytes)
	return nil
}

func (f *Feeder) loop(ctx context.Context, stream frameStream) error {
	var ticker *time.Ticker
	if f.cfg.Interval > 0 {
		ticker = time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()
	}

	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		h, err := stream.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		n, err := f.fill(h)
		if errors.Is(err, io.EOF) {
			// h is still held, so draining stops short of the empty buffer.
			err = f.drain(ctx, stream)
			h.Release()
			return err
		}
		h.Release()
		if err != nil {
			return err
		}

		f.mu.Lock()
		f.stats.Frames++
		f.stats.Bytes += uint64(n)
		done := f.cfg.Frames > 0 && f.stats.Frames >= uint64(f.cfg.Frames)
		f.mu.Unlock()
		if done {
			return f.drain(ctx, stream)
		}
	}
}

// drain waits until the device has played out every written frame.
func (f *Feeder) drain(ctx context.Context, stream frameStream) error {
	if err := stream.Drain(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

func (f *Feeder) fill(h frame) (int, error) {
	space, err := h.Space()
	if err != nil {
		return 0, err
	}
	n, err := f.source.Fill(space)
	if err != nil {
		return 0, err
	}
	if err := h.SetLength(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (f *Feeder) fail(obs *events.Observer, err error) {
	f.logger.Error("Output failed", "error", err)
	if obs != nil {
		obs.PublishError(err)
	}
}

// Stats returns the progress of the current or last feed.
func (f *Feeder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	if f.stream != nil {
		st.Pool = f.stream.Stats()
	}
	return st
}
