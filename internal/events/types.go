package events

// Event type constants for kelindar/event.
const (
	TypeStreamStateChanged uint32 = iota + 1
	TypeBufferQueued
	TypeFrame
	TypeStreamError
	TypeLogEntry
	TypeStreamMetrics
	TypeDeviceChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamStateChangedEvent is published when streaming is switched on or off.
type StreamStateChangedEvent struct {
	Device     string `json:"device" example:"/dev/video0" doc:"Device node"`
	BufferType string `json:"buffer_type" example:"video-capture" doc:"V4L2 buffer type"`
	Streaming  bool   `json:"streaming" doc:"Whether the queue is streaming"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// BufferQueuedEvent is published when a buffer is handed to the driver.
type BufferQueuedEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Device node"`
	Index     uint32 `json:"index" doc:"Buffer index"`
	BytesUsed uint32 `json:"bytes_used" doc:"Payload size for output buffers"`
}

// Type returns the event type identifier for BufferQueuedEvent.
func (e BufferQueuedEvent) Type() uint32 { return TypeBufferQueued }

// FrameEvent is published for every buffer taken back from the driver.
type FrameEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Device node"`
	Index     uint32 `json:"index" doc:"Buffer index"`
	Sequence  uint32 `json:"sequence" doc:"Driver frame sequence number"`
	BytesUsed uint32 `json:"bytes_used" doc:"Payload size"`
	Flags     string `json:"flags" example:"mapped|done|timestamp-monotonic" doc:"Buffer flags"`
	Error     bool   `json:"error" doc:"Driver marked the frame as corrupted"`
	Timestamp int64  `json:"timestamp_us" doc:"Driver timestamp in microseconds"`
}

// Type returns the event type identifier for FrameEvent.
func (e FrameEvent) Type() uint32 { return TypeFrame }

// StreamErrorEvent is published when a capture or output loop stops on error.
type StreamErrorEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Device node"`
	Error     string `json:"error" example:"v4l2: VIDIOC_DQBUF: no such device" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamErrorEvent.
func (e StreamErrorEvent) Type() uint32 { return TypeStreamError }

// LogEntryEvent carries a log record to SSE clients.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Logging module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// StreamMetricsEvent is a periodic summary of one device's queue.
type StreamMetricsEvent struct {
	Device  string  `json:"device" example:"/dev/video0" doc:"Device node"`
	FPS     float64 `json:"fps" example:"29.97" doc:"Frames per second over the last interval"`
	Frames  uint64  `json:"frames" doc:"Frames dequeued since start"`
	Dropped uint64  `json:"dropped" doc:"Frames skipped by the driver"`
	Errors  uint64  `json:"errors" doc:"Frames flagged as corrupted"`
	Queued  int     `json:"queued" doc:"Buffers currently owned by the driver"`
	Held    int     `json:"held" doc:"Buffers currently held by the application"`
}

// Type returns the event type identifier for StreamMetricsEvent.
func (e StreamMetricsEvent) Type() uint32 { return TypeStreamMetrics }

// Device change actions.
const (
	DeviceAdded   = "added"
	DeviceRemoved = "removed"
	DeviceChanged = "changed"
)

// DeviceChangedEvent is published when a streaming-capable node appears,
// disappears or reports different capabilities.
type DeviceChangedEvent struct {
	Action     string `json:"action" enum:"added,removed,changed" doc:"What happened to the device"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName string `json:"device_name" example:"vivid" doc:"Card name"`
	DeviceID   string `json:"device_id" example:"usb-046d_C920-video-index0" doc:"Stable device identifier"`
	Caps       uint32 `json:"caps" doc:"Effective capability flags"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceChangedEvent.
func (e DeviceChangedEvent) Type() uint32 { return TypeDeviceChanged }
