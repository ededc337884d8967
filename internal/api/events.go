//go:build linux

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/v4l2queue/internal/events"
)

// ConnectedEvent is the first message on every event stream.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z"`
}

// EventsInput controls which events a client receives.
type EventsInput struct {
	Frames bool `query:"frames" doc:"Also send one event per dequeued frame"`
}

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream state changes, errors, device hotplug and optionally per-frame events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":            ConnectedEvent{},
		"stream-state-changed": events.StreamStateChangedEvent{},
		"stream-error":         events.StreamErrorEvent{},
		"device-changed":       events.DeviceChangedEvent{},
		"frame":                events.FrameEvent{},
	}, func(ctx context.Context, input *EventsInput, send sse.Sender) {
		eventCh := make(chan any, 64)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StreamStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceChangedEvent](s.eventBus, eventCh),
		}
		if input.Frames {
			unsubscribers = append(unsubscribers, events.SubscribeToChannel[events.FrameEvent](s.eventBus, eventCh))
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		forward(ctx, eventCh, send)
	})
}

// forward sends events from ch until the client goes away.
func forward(ctx context.Context, ch <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if err := send.Data(event); err != nil {
				return
			}
		}
	}
}
