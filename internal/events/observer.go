//go:build linux

package events

import (
	"time"

	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// Observer publishes buffer queue transitions of one device on a Bus.
// It implements v4l2.Observer.
type Observer struct {
	bus    *Bus
	device string
}

// NewObserver returns an observer tagging events with device.
func NewObserver(bus *Bus, device string) *Observer {
	return &Observer{bus: bus, device: device}
}

// BufferQueued implements v4l2.Observer.
func (o *Observer) BufferQueued(buf v4l2.Buffer) {
	o.bus.Publish(BufferQueuedEvent{
		Device:    o.device,
		Index:     buf.Index,
		BytesUsed: buf.BytesUsed,
	})
}

// BufferDequeued implements v4l2.Observer.
func (o *Observer) BufferDequeued(buf v4l2.Buffer) {
	o.bus.Publish(FrameEvent{
		Device:    o.device,
		Index:     buf.Index,
		Sequence:  buf.Sequence,
		BytesUsed: buf.BytesUsed,
		Flags:     buf.Flags.String(),
		Error:     buf.Flags.Has(v4l2.BufFlagError),
		Timestamp: buf.Timestamp.Microseconds(),
	})
}

// StreamStateChanged implements v4l2.Observer.
func (o *Observer) StreamStateChanged(typ v4l2.BufferType, streaming bool) {
	o.bus.Publish(StreamStateChangedEvent{
		Device:     o.device,
		BufferType: typ.String(),
		Streaming:  streaming,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// PublishError reports a stream failure.
func (o *Observer) PublishError(err error) {
	o.bus.Publish(StreamErrorEvent{
		Device:    o.device,
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

var _ v4l2.Observer = (*Observer)(nil)
