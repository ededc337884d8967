package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/v4l2queue/internal/logging"
)

// HTTPLoggingMiddleware logs each request at a level chosen by requestLevel.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	path := ctx.URL().Path
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" && !strings.Contains(query, "auth=") {
		attrs = append(attrs, slog.String("query", query))
	}
	if userAgent := ctx.Header("User-Agent"); userAgent != "" {
		attrs = append(attrs, slog.String("user_agent", userAgent))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)
	logger.LogAttrs(ctx.Context(), requestLevel(method, path, status), "HTTP request completed", attrs...)
}

// requestLevel maps a finished request to a log level. Preflight and health
// probes are debug noise; failures are raised by status class.
func requestLevel(method, path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case method == http.MethodOptions, path == "/api/health":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
