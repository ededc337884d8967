//go:build linux

package v4l2

import "sync/atomic"

// BufferHandle is an exclusive lease on one buffer returned by Stream.Next.
// The buffer is not resubmitted to the driver until Release is called.
//
// A handle is meant to be used by one goroutine. Release may be called from
// any goroutine.
type BufferHandle struct {
	slot     *bufferSlot
	output   bool
	released atomic.Bool
}

func newBufferHandle(s *bufferSlot, output bool) *BufferHandle {
	return &BufferHandle{slot: s, output: output}
}

// Index returns the driver index of the buffer.
func (h *BufferHandle) Index() int {
	return int(h.slot.desc.Index)
}

// Len returns the number of bytes in use.
func (h *BufferHandle) Len() int {
	if h.released.Load() {
		return 0
	}
	return int(min(h.slot.desc.BytesUsed, uint32(len(h.slot.region))))
}

// Cap returns the buffer capacity in bytes.
func (h *BufferHandle) Cap() int {
	if h.released.Load() {
		return 0
	}
	return len(h.slot.region)
}

// Bytes returns the used part of the buffer. For capture streams it is the
// frame written by the driver and must be treated as read-only. The slice is
// only valid until Release.
func (h *BufferHandle) Bytes() []byte {
	if h.released.Load() {
		return nil
	}
	return h.slot.region[:h.Len()]
}

// Space returns the whole buffer for writing. Only output buffers are
// writable.
func (h *BufferHandle) Space() ([]byte, error) {
	if err := h.checkWritable(); err != nil {
		return nil, err
	}
	return h.slot.region, nil
}

// SetLength declares how many bytes were written. Values above the capacity
// are clamped to it.
func (h *BufferHandle) SetLength(n int) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}
	h.slot.desc.BytesUsed = uint32(min(n, len(h.slot.region)))
	return nil
}

// Fill copies data into the buffer and sets the length. It returns the
// number of bytes copied, which is less than len(data) when the buffer is
// too small.
func (h *BufferHandle) Fill(data []byte) (int, error) {
	if err := h.checkWritable(); err != nil {
		return 0, err
	}
	n := copy(h.slot.region, data)
	h.slot.desc.BytesUsed = uint32(n)
	return n, nil
}

// SetTimecode sets or clears (nil) the timecode sent with an output buffer.
func (h *BufferHandle) SetTimecode(tc *Timecode) error {
	if err := h.checkWritable(); err != nil {
		return err
	}
	h.slot.desc.SetTimecode(tc)
	return nil
}

// Descriptor returns a copy of the buffer metadata.
func (h *BufferHandle) Descriptor() Buffer {
	return h.slot.desc
}

func (h *BufferHandle) String() string {
	return h.slot.desc.String()
}

// Release gives the buffer back to the stream. Further calls do nothing.
func (h *BufferHandle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.slot.releaseHold()
}

func (h *BufferHandle) checkWritable() error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	if !h.output {
		return ErrReadOnly
	}
	return nil
}
