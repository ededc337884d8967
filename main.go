//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/v4l2queue/cmd"
	"github.com/smazurov/v4l2queue/internal/api"
	"github.com/smazurov/v4l2queue/internal/api/models"
	"github.com/smazurov/v4l2queue/internal/capture"
	"github.com/smazurov/v4l2queue/internal/config"
	"github.com/smazurov/v4l2queue/internal/devices"
	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/internal/metrics/exporters"
	natsbus "github.com/smazurov/v4l2queue/internal/nats"
	"github.com/smazurov/v4l2queue/internal/output"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Stream settings; an empty device serves the API only
	Device    string `help:"Device path or stable ID to stream, e.g. /dev/video0" default:"" toml:"stream.device" env:"STREAM_DEVICE"`
	Direction string `help:"Stream direction (capture, output)" default:"capture" toml:"stream.direction" env:"STREAM_DIRECTION"`
	Content   string `help:"Content type (video, video-mplane, vbi, sdr, meta)" default:"video" toml:"stream.content" env:"STREAM_CONTENT"`
	Memory    string `help:"Buffer memory (mmap, userptr)" default:"mmap" toml:"stream.memory" env:"STREAM_MEMORY"`
	Buffers   int    `help:"Buffers to request from the driver" default:"4" toml:"stream.buffers" env:"STREAM_BUFFERS"`
	Format    string `help:"Pixel format fourcc; empty keeps the current one" default:"" toml:"stream.format" env:"STREAM_FORMAT"`
	Width     int    `help:"Frame width; 0 keeps the current one" default:"0" toml:"stream.width" env:"STREAM_WIDTH"`
	Height    int    `help:"Frame height; 0 keeps the current one" default:"0" toml:"stream.height" env:"STREAM_HEIGHT"`

	// Capture settings
	CaptureOutput string `help:"Where captured frames go; empty discards them" default:"" toml:"capture.output" env:"CAPTURE_OUTPUT"`

	// Output settings
	OutputSource string `help:"Output frame source: pattern or a raw frame file" default:"pattern" toml:"output.source" env:"OUTPUT_SOURCE"`
	OutputLoop   bool   `help:"Restart the source file when it ends" default:"true" toml:"output.loop" env:"OUTPUT_LOOP"`
	OutputFPS    int    `help:"Output frame rate; 0 lets the driver set the pace" default:"0" toml:"output.fps" env:"OUTPUT_FPS"`

	// Metrics settings
	MetricsInterval string `help:"Metrics sampling interval" default:"1s" toml:"metrics.interval" env:"METRICS_INTERVAL"`

	// NATS settings; an empty URL without the embedded server disables NATS
	NatsURL      string `help:"NATS server to mirror events to" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingV4L2    string `help:"Buffer queue logging level" default:"info" toml:"logging.v4l2" env:"LOGGING_V4L2"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingOutput  string `help:"Output logging level" default:"info" toml:"logging.output" env:"LOGGING_OUTPUT"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingDevices string `help:"Device hotplug logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingNATS    string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"v4l2":    o.LoggingV4L2,
			"capture": o.LoggingCapture,
			"output":  o.LoggingOutput,
			"api":     o.LoggingAPI,
			"http":    o.LoggingHTTP,
			"devices": o.LoggingDevices,
			"nats":    o.LoggingNATS,
		},
	}
}

// streamService is the capture runner or output feeder the server drives.
type streamService struct {
	device string
	run    func(ctx context.Context) error
	status func() models.StreamStatus
}

// loop runs the service until ctx is done. A value on restart stops the
// current run and starts a new one, also after the run failed.
func (s *streamService) loop(ctx context.Context, restart <-chan struct{}, logger *slog.Logger) {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- s.run(runCtx) }()

		var err error
		restarting := false
		select {
		case err = <-done:
		case <-restart:
			restarting = true
			cancel()
			err = <-done
		}
		cancel()

		if err != nil {
			logger.Error("Stream stopped", "device", s.device, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		if !restarting {
			select {
			case <-ctx.Done():
				return
			case <-restart:
			}
		}
		logger.Info("Restarting stream", "device", s.device)
	}
}

// startNATS starts the embedded server and the event publisher as
// configured. Failures are logged and leave NATS disabled.
func startNATS(opts *Options, bus *events.Bus, service *streamService, restart chan<- struct{}) (*natsbus.Server, *natsbus.Publisher) {
	logger := logging.GetLogger("nats")
	url := opts.NatsURL

	var srv *natsbus.Server
	if opts.NatsEmbedded {
		srv = natsbus.NewServer(natsbus.ServerOptions{Port: opts.NatsPort, Logger: logger})
		if err := srv.Start(); err != nil {
			logger.Warn("Failed to start embedded NATS server", "error", err)
			srv = nil
		} else if url == "" {
			url = srv.ClientURL()
		}
	}
	if url == "" {
		return srv, nil
	}

	pub := natsbus.NewPublisher(url, bus, logger)
	if service != nil {
		pub.OnControl(func(string, natsbus.ControlMessage) {
			select {
			case restart <- struct{}{}:
			default:
			}
		}, service.device)
	}
	if err := pub.Start(); err != nil {
		logger.Warn("Failed to connect to NATS, events are not mirrored", "url", url, "error", err)
		return srv, nil
	}
	return srv, pub
}

func newStreamService(opts *Options, bus *events.Bus, interval time.Duration) (*streamService, func() error, error) {
	dir, err := v4l2.ParseDirection(opts.Direction)
	if err != nil {
		return nil, nil, err
	}
	settings := cmd.StreamSettings{
		Content: opts.Content,
		Memory:  opts.Memory,
		Buffers: uint32(max(opts.Buffers, 0)),
		Format:  opts.Format,
		Width:   uint32(max(opts.Width, 0)),
		Height:  uint32(max(opts.Height, 0)),
	}
	content, mem, format, err := settings.Resolve()
	if err != nil {
		return nil, nil, err
	}
	device, err := devices.Resolve(opts.Device)
	if err != nil {
		return nil, nil, err
	}

	if dir == v4l2.Capture {
		sink, err := capture.OpenSink(opts.CaptureOutput)
		if err != nil {
			return nil, nil, err
		}
		runner := capture.NewRunner(capture.Config{
			Device:        device,
			Content:       content,
			Memory:        mem,
			Buffers:       settings.Buffers,
			Format:        format,
			StatsInterval: interval,
		}, sink, bus)
		return &streamService{
			device: device,
			run:    runner.Run,
			status: func() models.StreamStatus {
				st := runner.Stats()
				return models.StreamStatus{
					Device:       st.Device,
					Direction:    dir.String(),
					Running:      st.Running,
					Streaming:    st.Pool.Streaming,
					Frames:       st.Frames,
					Bytes:        st.Bytes,
					Corrupted:    st.Corrupted,
					LastSequence: st.LastSequence,
					Buffers:      st.Buffers,
					Queued:       st.Pool.Queued,
					Held:         st.Pool.Held,
					Pending:      st.Pool.Pending,
					Submitted:    st.Pool.Submitted,
					Completed:    st.Pool.Completed,
				}
			},
		}, sink.Close, nil
	}

	src, err := cmd.SourceSettings{Source: opts.OutputSource, Loop: opts.OutputLoop}.Open(format.Width, format.Height)
	if err != nil {
		return nil, nil, err
	}
	var pace time.Duration
	if opts.OutputFPS > 0 {
		pace = time.Second / time.Duration(opts.OutputFPS)
	}
	feeder := output.NewFeeder(output.Config{
		Device:        device,
		Content:       content,
		Memory:        mem,
		Buffers:       settings.Buffers,
		Format:        format,
		Interval:      pace,
		StatsInterval: interval,
	}, src, bus)
	return &streamService{
		device: device,
		run:    feeder.Run,
		status: func() models.StreamStatus {
			st := feeder.Stats()
			return models.StreamStatus{
				Device:    st.Device,
				Direction: dir.String(),
				Running:   st.Running,
				Streaming: st.Pool.Streaming,
				Frames:    st.Frames,
				Bytes:     st.Bytes,
				Buffers:   st.Buffers,
				Queued:    st.Pool.Queued,
				Held:      st.Pool.Held,
				Pending:   st.Pool.Pending,
				Submitted: st.Pool.Submitted,
				Completed: st.Pool.Completed,
			}
		},
	}, src.Close, nil
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root().PersistentFlags()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		interval, err := time.ParseDuration(opts.MetricsInterval)
		if err != nil || interval <= 0 {
			interval = time.Second
		}

		// Subcommands run this callback too; the server is only built when
		// the root command starts.
		var (
			server       *api.Server
			sseExporter  *exporters.SSEExporter
			watcher      *config.Watcher[logging.Config]
			deviceWatch  *devices.Watcher
			natsServer   *natsbus.Server
			natsPub      *natsbus.Publisher
			closeService = func() error { return nil }
			wg           sync.WaitGroup
		)
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			eventBus := events.New()
			api.ForwardLogs(eventBus)

			var service *streamService
			if opts.Device != "" {
				var svcErr error
				service, closeService, svcErr = newStreamService(opts, eventBus, interval)
				if svcErr != nil {
					logger.Error("Invalid stream settings", "error", svcErr)
					os.Exit(1)
				}
			}

			apiOpts := &api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				EventBus:          eventBus,
				PrometheusHandler: exporters.HTTPHandler(),
			}
			if service != nil {
				apiOpts.Status = service.status
			}
			server = api.NewServer(apiOpts)

			// Only levels are reloaded; everything else needs a restart.
			watcher = config.NewConfigWatcher(opts.Config, config.LoadLoggingConfig, logger,
				config.WithErrorHandler[logging.Config](func(err error) {
					logger.Warn("Ignoring invalid config change", "error", err)
				}))
			watcher.OnReload(func(cfg logging.Config) {
				logging.SetLevels(cfg)
				logger.Info("Logging levels reloaded", "level", cfg.Level)
			})
			if startErr := watcher.Start(ctx); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			deviceWatch = devices.NewWatcher(eventBus)
			if watchErr := deviceWatch.Start(ctx); watchErr != nil {
				logger.Warn("Failed to start device monitoring, hotplug events disabled", "error", watchErr)
			}

			sseExporter = exporters.NewSSEExporter(eventBus, interval)
			sseExporter.Start(ctx)

			restart := make(chan struct{}, 1)
			natsServer, natsPub = startNATS(opts, eventBus, service, restart)

			if service != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					service.loop(ctx, restart, logger)
				}()
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("Failed to notify systemd", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if server != nil {
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}

			// The stream must release its buffers before the sink or source closes.
			cancel()
			wg.Wait()
			if closeErr := closeService(); closeErr != nil {
				logger.Warn("Failed to close frame sink or source", "error", closeErr)
			}

			if sseExporter != nil {
				sseExporter.Stop()
			}
			if deviceWatch != nil {
				deviceWatch.Stop()
			}
			if natsPub != nil {
				natsPub.Stop()
			}
			if natsServer != nil {
				natsServer.Stop()
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Failed to stop config watcher", "error", stopErr)
				}
			}
		})
	})

	cli.Root().Use = "v4l2queue"
	cli.Root().Short = "V4L2 streaming buffer queue service"
	cli.Root().AddCommand(cmd.CreateListCmd())
	cli.Root().AddCommand(cmd.CreateInfoCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateOutputCmd())

	cli.Run()
}
