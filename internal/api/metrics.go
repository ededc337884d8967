//go:build linux

package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/metrics/exporters"
)

// registerMetricsRoutes registers the metrics SSE endpoint
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Periodic frame rate and buffer queue snapshots per device",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{"connected": ConnectedEvent{}}
		maps.Copy(eventTypes, exporters.EventTypes())
		return eventTypes
	}(), func(ctx context.Context, input *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.StreamMetricsEvent](s.eventBus, eventCh)
		defer unsubscribe()

		if err := send.Data(ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		forward(ctx, eventCh, send)
	})
}
