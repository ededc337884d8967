// Package events carries stream notifications between the buffer queue,
// the metrics collectors and SSE clients.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Delivery is asynchronous; each
// subscriber receives events in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish delivers ev to the subscribers of its concrete type. Unknown
// types are dropped.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case StreamStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case BufferQueuedEvent:
		event.Publish(b.dispatcher, e)
	case FrameEvent:
		event.Publish(b.dispatcher, e)
	case StreamErrorEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case StreamMetricsEvent:
		event.Publish(b.dispatcher, e)
	case DeviceChangedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler, whose parameter type selects the events it
// receives, and returns the unsubscribe function. Unsupported handler
// types get a no-op.
//
//	unsub := bus.Subscribe(func(e events.FrameEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StreamStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BufferQueuedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
