//go:build linux

// Package capture drains a capture stream into a FrameSink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/internal/metrics"
	"github.com/smazurov/v4l2queue/internal/metrics/collectors"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// Config describes a capture run.
type Config struct {
	Device  string
	Content v4l2.ContentType
	Memory  v4l2.MemoryStrategy
	Buffers uint32
	// Frames stops the run after this many frames; 0 runs until cancelled.
	Frames int
	// Format is applied with SetFormat before streaming when any field is set.
	Format v4l2.PixFormat
	// StatsInterval is the pool sampling period for metrics.
	StatsInterval time.Duration
}

// Stats describes the progress of a run.
type Stats struct {
	Device       string         `json:"device"`
	Running      bool           `json:"running"`
	StartedAt    time.Time      `json:"started_at"`
	Frames       uint64         `json:"frames"`
	Bytes        uint64         `json:"bytes"`
	Corrupted    uint64         `json:"corrupted"`
	LastSequence uint32         `json:"last_sequence"`
	Buffers      int            `json:"buffers"`
	Pool         v4l2.PoolStats `json:"pool"`
}

// frame is the part of *v4l2.BufferHandle the runner uses.
type frame interface {
	Bytes() []byte
	Descriptor() v4l2.Buffer
	Release()
}

type frameStream interface {
	next(ctx context.Context) (frame, error)
	Stats() v4l2.PoolStats
	Len() int
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

// Runner captures from one device. A Runner runs at most once at a time.
type Runner struct {
	cfg    Config
	sink   FrameSink
	bus    *events.Bus
	logger *slog.Logger
	open   func(observer v4l2.Observer) (frameStream, error)

	mu      sync.Mutex
	running bool
	stream  frameStream
	stats   Stats
}

// NewRunner creates a runner writing to sink. bus may be nil.
func NewRunner(cfg Config, sink FrameSink, bus *events.Bus) *Runner {
	if cfg.Memory == nil {
		cfg.Memory = v4l2.Mmap
	}
	if cfg.Buffers == 0 {
		cfg.Buffers = 4
	}
	r := &Runner{
		cfg:    cfg,
		sink:   sink,
		bus:    bus,
		logger: logging.GetLogger("capture").With("device", cfg.Device),
	}
	r.open = r.openDevice
	return r
}

func (r *Runner) openDevice(observer v4l2.Observer) (frameStream, error) {
	dev, err := v4l2.OpenDevice(r.cfg.Device, true)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	caps, err := dev.Capabilities()
	if err != nil {
		return nil, err
	}
	typ := v4l2.Capture.BufferType(r.cfg.Content)
	if !typ.Supported(caps.Effective()) {
		return nil, fmt.Errorf("%s (%s) does not support %v", dev.Path(), caps.Card, typ)
	}
	if !caps.Streaming() {
		return nil, fmt.Errorf("%s (%s) does not support streaming I/O", dev.Path(), caps.Card)
	}

	if r.cfg.Format != (v4l2.PixFormat{}) {
		pf, err := dev.SetFormat(typ, r.cfg.Format)
		if err != nil {
			return nil, fmt.Errorf("set format: %w", err)
		}
		r.logger.Info("Negotiated format",
			"format", v4l2.FormatFourCC(pf.PixelFormat),
			"width", pf.Width,
			"height", pf.Height,
			"size", pf.SizeImage)
	}

	s, err := dev.Stream(r.cfg.Content, r.cfg.Buffers, v4l2.Capture, r.cfg.Memory,
		v4l2.WithLogger(logging.GetLogger("v4l2").With("device", dev.Path())),
		v4l2.WithObserver(observer))
	if err != nil {
		return nil, err
	}
	return deviceStream{s}, nil
}

// Run streams until ctx is cancelled, the frame limit is reached or an
// error occurs. Cancellation is not an error. The sink is left open.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("capture already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	observers := v4l2.MultiObserver{metrics.NewObserver(r.cfg.Device)}
	var eventObserver *events.Observer
	if r.bus != nil {
		eventObserver = events.NewObserver(r.bus, r.cfg.Device)
		observers = append(observers, eventObserver)
	}

	stream, err := r.open(observers)
	if err != nil {
		r.fail(eventObserver, err)
		return err
	}

	r.mu.Lock()
	r.stream = stream
	r.stats = Stats{
		Device:    r.cfg.Device,
		Running:   true,
		StartedAt: time.Now(),
		Buffers:   stream.Len(),
	}
	r.mu.Unlock()

	collector := collectors.NewPoolCollector(r.cfg.Device, stream, r.cfg.StatsInterval)
	collector.Start(ctx)

	r.logger.Info("Capture started", "buffers", stream.Len(), "memory", r.cfg.Memory.Memory())
	err = r.loop(ctx, stream)
	collector.Stop()

	r.mu.Lock()
	r.stats.Pool = stream.Stats()
	r.stats.Running = false
	r.stream = nil
	final := r.stats
	r.mu.Unlock()

	if cerr := stream.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		r.fail(eventObserver, err)
		return err
	}
	r.logger.Info("Capture finished", "frames", final.Frames, "bytes", final.Bytes, "elapsed", time.Since(final.StartedAt))
	return nil
}

func (r *Runner) loop(ctx context.Context, stream frameStream) error {
	for {
		f, err := stream.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		desc := f.Descriptor()
		werr := r.sink.WriteFrame(desc, f.Bytes())
		f.Release()
		if werr != nil {
			return fmt.Errorf("write frame %d: %w", desc.Sequence, werr)
		}

		if desc.Flags.Has(v4l2.BufFlagError) {
			r.logger.Debug("Driver flagged frame as corrupted", "sequence", desc.Sequence)
		}

		r.mu.Lock()
		r.stats.Frames++
		r.stats.Bytes += uint64(desc.BytesUsed)
		if desc.Flags.Has(v4l2.BufFlagError) {
			r.stats.Corrupted++
		}
		r.stats.LastSequence = desc.Sequence
		done := r.cfg.Frames > 0 && r.stats.Frames >= uint64(r.cfg.Frames)
		r.mu.Unlock()

		if done {
			return nil
		}
	}
}

func (r *Runner) fail(obs *events.Observer, err error) {
	r.logger.Error("Capture failed", "error", err)
	if obs != nil {
		obs.PublishError(err)
	}
}

// Stats returns the progress of the current or last run.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	if r.stream != nil {
		st.Pool = r.stream.Stats()
	}
	return st
}
