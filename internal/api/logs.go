//go:build linux

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
)

// ForwardLogs publishes every buffered log entry on bus.
func ForwardLogs(bus *events.Bus) {
	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(logEvent(entry))
	})
}

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// registerLogRoutes registers the log streaming SSE endpoint.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing logged in between is lost.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.Tail(0) {
				if err := send.Data(logEvent(entry)); err != nil {
					return
				}
			}
		}

		forward(ctx, eventCh, send)
	})
}
