//go:build linux

package v4l2

import "sync"

// bufferSlot is one driver buffer and its memory. The region is acquired
// when the pool is built and released once when the pool is torn down.
//
// hold is the exclusive lease handed to callers through a BufferHandle. The
// pool only touches a slot's memory or submits it after winning TryLock.
// All other fields are guarded by the owning pool's mutex.
type bufferSlot struct {
	hold sync.Mutex

	desc     Buffer
	region   []byte
	queued   bool
	inFIFO   bool
	released bool
}

// held reports whether a caller currently owns the slot. It must not be used
// to decide on submission; use tryAcquire for that.
func (s *bufferSlot) held() bool {
	if s.hold.TryLock() {
		s.hold.Unlock()
		return false
	}
	return true
}

func (s *bufferSlot) tryAcquire() bool {
	return s.hold.TryLock()
}

func (s *bufferSlot) releaseHold() {
	s.hold.Unlock()
}

// submit attaches the memory and queues the buffer. The caller holds the
// slot's lease.
func (s *bufferSlot) submit(drv driver, mem MemoryStrategy) error {
	if s.queued {
		return protocolError("buffer %d submitted while already queued", s.desc.Index)
	}
	mem.Attach(&s.desc, s.region)
	if err := drv.queueBuffer(&s.desc); err != nil {
		return err
	}
	s.queued = true
	s.desc.Flags |= BufFlagQueued
	return nil
}

// reuse takes over the descriptor the driver returned for this slot.
func (s *bufferSlot) reuse(desc Buffer) {
	switch desc.Memory {
	case MemoryMmap:
		desc.Offset = s.desc.Offset
	case MemoryUserPtr:
		desc.UserPtr = s.desc.UserPtr
	}
	s.desc = desc
	s.markDequeued()
}

// markDequeued syncs the local state after the driver released the buffer
// without a dequeue request (stream off).
func (s *bufferSlot) markDequeued() {
	s.queued = false
	s.desc.Flags &^= BufFlagQueued
}

func (s *bufferSlot) release(mem MemoryStrategy) error {
	if s.released {
		return nil
	}
	s.released = true
	region := s.region
	s.region = nil
	return mem.Release(&s.desc, region)
}
