//go:build linux

// Package api serves device queries, stream status and live event streams
// over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/v4l2queue/internal/api/models"
	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/internal/version"
)

const authRealm = `Basic realm="v4l2queue API"`

// Server is the HTTP API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	EventBus     *events.Bus
	// Status reports the running stream. nil means no stream is configured.
	Status            func() models.StreamStatus
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	unauthorized := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", authRealm)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		// EventSource cannot set headers, so SSE clients pass ?auth=
		encoded := ctx.Query("auth")
		if authHeader := ctx.Header("Authorization"); authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				unauthorized(ctx, "Invalid authentication type")
				return
			}
			encoded = authHeader[len(prefix):]
		}
		if encoded == "" {
			unauthorized(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			unauthorized(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			unauthorized(ctx, "Invalid credentials format")
			return
		}
		if user != username || pass != password {
			unauthorized(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("v4l2queue API", version.String())
	config.Info.Description = "Buffer queue status and device queries for V4L2 streaming"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}

	server := &Server{
		api:      api,
		mux:      mux,
		eventBus: eventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	// CORS, then request logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and all connections, including open event streams.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerDeviceRoutes()
	s.registerStreamRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
