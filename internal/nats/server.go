package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerOptions configures the embedded NATS server.
type ServerOptions struct {
	Host string
	// Port to listen on; -1 picks a free port.
	Port   int
	Name   string
	Logger *slog.Logger
}

// Server wraps an embedded NATS server.
type Server struct {
	ns     *server.Server
	opts   ServerOptions
	logger *slog.Logger
}

// NewServer creates an embedded NATS server listening on 127.0.0.1:4222
// unless opts say otherwise.
func NewServer(opts ServerOptions) *Server {
	if opts.Port == 0 {
		opts.Port = 4222
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Name == "" {
		opts.Name = "v4l2queue"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: logger.With("component", "nats-server"),
	}
}

// Start runs the server and waits until it accepts connections.
func (s *Server) Start() error {
	ns, err := server.NewServer(&server.Options{
		Host:       s.opts.Host,
		Port:       s.opts.Port,
		ServerName: s.opts.Name,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1 << 20,
	})
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return errors.New("NATS server failed to start within 5 seconds")
	}

	s.ns = ns
	s.logger.Info("NATS server started", "url", s.ClientURL())
	return nil
}

// Stop shuts the server down and waits for it to exit.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	s.logger.Info("Stopping NATS server")
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
}

// ClientURL returns the URL clients should connect to.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}
