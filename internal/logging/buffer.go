package logging

import (
	"sync"
	"time"
)

// LogEntry is one record kept in the ring buffer.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int
	count   int
}

// NewRingBuffer creates a buffer holding at most size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{entries: make([]LogEntry, size)}
}

// Write adds an entry, overwriting the oldest one when full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
}

// Tail returns up to n of the newest entries, oldest first. n <= 0
// returns everything.
func (rb *RingBuffer) Tail(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	result := make([]LogEntry, n)
	start := rb.head - n
	if start < 0 {
		start += len(rb.entries)
	}
	for i := range result {
		result[i] = rb.entries[(start+i)%len(rb.entries)]
	}
	return result
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
