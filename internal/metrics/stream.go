//go:build linux

// Package metrics exports buffer queue activity as Prometheus metrics and
// keeps a per-device snapshot for the API and SSE exporter.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

const namespace = "v4l2queue"

var (
	buffersQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "buffers_queued_total",
		Help:      "Buffers handed to the driver",
	}, []string{"device"})

	framesDequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Buffers taken back from the driver",
	}, []string{"device"})

	frameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frame_errors_total",
		Help:      "Dequeued buffers flagged as corrupted by the driver",
	}, []string{"device"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_dropped_total",
		Help:      "Frames skipped by the driver, from gaps in the sequence numbers",
	}, []string{"device"})

	bytesDequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Payload bytes of dequeued buffers",
	}, []string{"device"})

	streaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "streaming",
		Help:      "1 while the queue is streaming",
	}, []string{"device"})

	cache   = make(map[string]*StreamMetrics)
	cacheMu sync.RWMutex
)

// StreamMetrics holds the running totals of one device.
type StreamMetrics struct {
	Streaming    bool
	Queued       uint64
	Frames       uint64
	Errors       uint64
	Dropped      uint64
	Bytes        uint64
	LastSequence uint32
	haveSequence bool
	Pool         v4l2.PoolStats
}

// Observer records the transitions of one device's queue. It implements
// v4l2.Observer.
type Observer struct {
	device string
}

// NewObserver returns an observer labelling its series with device.
func NewObserver(device string) *Observer {
	return &Observer{device: device}
}

// BufferQueued implements v4l2.Observer.
func (o *Observer) BufferQueued(v4l2.Buffer) {
	buffersQueued.WithLabelValues(o.device).Inc()
	updateCache(o.device, func(m *StreamMetrics) { m.Queued++ })
}

// BufferDequeued implements v4l2.Observer.
func (o *Observer) BufferDequeued(buf v4l2.Buffer) {
	framesDequeued.WithLabelValues(o.device).Inc()
	bytesDequeued.WithLabelValues(o.device).Add(float64(buf.BytesUsed))
	if buf.Flags.Has(v4l2.BufFlagError) {
		frameErrors.WithLabelValues(o.device).Inc()
	}

	var gap uint32
	updateCache(o.device, func(m *StreamMetrics) {
		m.Frames++
		m.Bytes += uint64(buf.BytesUsed)
		if buf.Flags.Has(v4l2.BufFlagError) {
			m.Errors++
		}
		if m.haveSequence && buf.Sequence > m.LastSequence+1 {
			gap = buf.Sequence - m.LastSequence - 1
			m.Dropped += uint64(gap)
		}
		m.LastSequence = buf.Sequence
		m.haveSequence = true
	})
	if gap > 0 {
		framesDropped.WithLabelValues(o.device).Add(float64(gap))
	}
}

// StreamStateChanged implements v4l2.Observer. Sequence tracking restarts
// with every STREAMON since drivers reset the counter.
func (o *Observer) StreamStateChanged(_ v4l2.BufferType, on bool) {
	value := 0.0
	if on {
		value = 1
	}
	streaming.WithLabelValues(o.device).Set(value)
	updateCache(o.device, func(m *StreamMetrics) {
		m.Streaming = on
		m.haveSequence = false
	})
}

// DeleteStreamMetrics removes every series and the cached totals of a device.
func DeleteStreamMetrics(device string) {
	buffersQueued.DeleteLabelValues(device)
	framesDequeued.DeleteLabelValues(device)
	frameErrors.DeleteLabelValues(device)
	framesDropped.DeleteLabelValues(device)
	bytesDequeued.DeleteLabelValues(device)
	streaming.DeleteLabelValues(device)
	deletePoolMetrics(device)

	cacheMu.Lock()
	delete(cache, device)
	cacheMu.Unlock()
}

// GetStreamMetrics returns a copy of the totals of a device, or nil.
func GetStreamMetrics(device string) *StreamMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	if m, ok := cache[device]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllStreamMetrics returns copies of the totals of every device.
func GetAllStreamMetrics() map[string]*StreamMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	result := make(map[string]*StreamMetrics, len(cache))
	for device, m := range cache {
		dup := *m
		result[device] = &dup
	}
	return result
}

func updateCache(device string, update func(*StreamMetrics)) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	m, ok := cache[device]
	if !ok {
		m = &StreamMetrics{}
		cache[device] = m
	}
	update(m)
}

var _ v4l2.Observer = (*Observer)(nil)
