//go:build linux

package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes a StreamMetricsEvent per device. The
// frame rate is measured between consecutive ticks.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	lastFrames map[string]uint64
	lastTick   time.Time
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher, interval time.Duration) *SSEExporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &SSEExporter{
		eventBus:   eventBus,
		interval:   interval,
		lastFrames: make(map[string]uint64),
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.lastTick = time.Now()
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.publishMetrics(now)
		}
	}
}

func (s *SSEExporter) publishMetrics(now time.Time) {
	elapsed := now.Sub(s.lastTick).Seconds()
	s.lastTick = now

	all := metrics.GetAllStreamMetrics()
	for device := range s.lastFrames {
		if _, ok := all[device]; !ok {
			delete(s.lastFrames, device)
		}
	}

	for device, m := range all {
		var fps float64
		if prev, ok := s.lastFrames[device]; ok && elapsed > 0 && m.Frames >= prev {
			fps = float64(m.Frames-prev) / elapsed
		}
		s.lastFrames[device] = m.Frames

		s.eventBus.Publish(events.StreamMetricsEvent{
			Device:  device,
			FPS:     fps,
			Frames:  m.Frames,
			Dropped: m.Dropped,
			Errors:  m.Errors,
			Queued:  m.Pool.Queued,
			Held:    m.Pool.Held,
		})
	}
}

// EventTypes returns the SSE event names this exporter produces.
func EventTypes() map[string]any {
	return map[string]any{
		"stream-metrics": events.StreamMetricsEvent{},
	}
}
