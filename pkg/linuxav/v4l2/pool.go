//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// Observer is notified of buffer queue transitions. Calls are made while the
// pool is locked, so implementations must be quick and must not call back
// into the stream.
type Observer interface {
	BufferQueued(buf Buffer)
	BufferDequeued(buf Buffer)
	StreamStateChanged(typ BufferType, streaming bool)
}

type nopObserver struct{}

func (nopObserver) BufferQueued(Buffer)                 {}
func (nopObserver) BufferDequeued(Buffer)               {}
func (nopObserver) StreamStateChanged(BufferType, bool) {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

// BufferQueued implements Observer.
func (m MultiObserver) BufferQueued(buf Buffer) {
	for _, o := range m {
		o.BufferQueued(buf)
	}
}

// BufferDequeued implements Observer.
func (m MultiObserver) BufferDequeued(buf Buffer) {
	for _, o := range m {
		o.BufferDequeued(buf)
	}
}

// StreamStateChanged implements Observer.
func (m MultiObserver) StreamStateChanged(typ BufferType, streaming bool) {
	for _, o := range m {
		o.StreamStateChanged(typ, streaming)
	}
}

// PoolStats is a snapshot of a buffer pool.
type PoolStats struct {
	Type      BufferType
	Memory    Memory
	Buffers   int
	Queued    int
	Held      int
	Pending   int
	Streaming bool
	Submitted uint64
	Completed uint64
}

// BufferPool owns the buffers of one (descriptor, buffer type) queue.
//
// Every slot is in exactly one of three states: queued to the driver,
// pending in the FIFO awaiting resubmission, or held by a caller. A slot
// handed out to a caller is pushed to the FIFO at the same time, so releasing
// the handle is enough to make it eligible for resubmission.
type BufferPool struct {
	mu sync.Mutex

	drv      driver
	typ      BufferType
	mem      MemoryStrategy
	slots    []*bufferSlot
	fifo     *queue.Queue
	logger   *slog.Logger
	observer Observer

	streaming bool
	closed    bool
	broken    error

	submitted uint64
	completed uint64
}

func newBufferPool(drv driver, typ BufferType, mem MemoryStrategy, count uint32, logger *slog.Logger, obs Observer) (*BufferPool, error) {
	got, err := drv.requestBuffers(typ, mem.Memory(), count)
	if err != nil {
		return nil, fmt.Errorf("request %d %v buffers: %w", count, typ, err)
	}
	if got == 0 {
		return nil, fmt.Errorf("request %d %v buffers: driver allocated none", count, typ)
	}
	if got != count {
		logger.Debug("driver adjusted buffer count", "type", typ, "requested", count, "allocated", got)
	}

	p := &BufferPool{
		drv:      drv,
		typ:      typ,
		mem:      mem,
		slots:    make([]*bufferSlot, 0, got),
		fifo:     queue.New(),
		logger:   logger,
		observer: obs,
	}

	for i := uint32(0); i < got; i++ {
		desc, err := drv.queryBuffer(typ, mem.Memory(), i)
		if err != nil {
			p.abort()
			return nil, fmt.Errorf("query buffer %d: %w", i, err)
		}
		region, err := mem.Init(&desc, drv.fd())
		if err != nil {
			p.abort()
			return nil, err
		}
		desc.Flags &^= BufFlagQueued
		p.slots = append(p.slots, &bufferSlot{desc: desc, region: region})
	}

	return p, nil
}

// abort undoes a partially built pool.
func (p *BufferPool) abort() {
	for _, s := range p.slots {
		if err := s.release(p.mem); err != nil {
			p.logger.Warn("failed to release buffer memory", "type", p.typ, "error", err)
		}
	}
	p.slots = nil
	if _, err := p.drv.requestBuffers(p.typ, p.mem.Memory(), 0); err != nil {
		p.logger.Warn("failed to free driver buffers", "type", p.typ, "error", err)
	}
}

// Len returns the number of buffers the driver allocated.
func (p *BufferPool) Len() int {
	return len(p.slots)
}

// Type returns the buffer type of the pool.
func (p *BufferPool) Type() BufferType {
	return p.typ
}

// Stats returns a snapshot of the pool state.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PoolStats{
		Type:      p.typ,
		Memory:    p.mem.Memory(),
		Buffers:   len(p.slots),
		Pending:   p.fifo.Length(),
		Streaming: p.streaming,
		Submitted: p.submitted,
		Completed: p.completed,
	}
	for _, s := range p.slots {
		if s.queued {
			st.Queued++
		}
		if s.held() {
			st.Held++
		}
	}
	return st
}

// next runs the direction's acquisition policy. The returned slot is held.
func (p *BufferPool) next(dir Direction) (*bufferSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrStreamClosed
	}
	if p.broken != nil {
		return nil, p.broken
	}

	s, err := dir.next(p)
	if errors.Is(err, ErrProtocol) {
		p.broken = err
	}
	return s, err
}

// flush submits released slots and starts an output queue that has
// buffers but is not streaming yet.
func (p *BufferPool) flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrStreamClosed
	}
	if p.broken != nil {
		return p.broken
	}
	if err := p.enqueueReady(); err != nil {
		if errors.Is(err, ErrProtocol) {
			p.broken = err
		}
		return err
	}
	if p.typ.IsOutput() && !p.streaming && p.anyQueued() {
		return p.start()
	}
	return nil
}

// reclaim takes one finished buffer back from the driver without handing it
// out. Capture buffers are scheduled for resubmission; output buffers become
// unused, and the stream is turned off once the last one is back. It reports
// whether buffers were still queued when called.
func (p *BufferPool) reclaim() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrStreamClosed
	}
	if p.broken != nil {
		return false, p.broken
	}
	if !p.anyQueued() {
		return false, nil
	}
	s, err := p.retrieve()
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			p.broken = err
		}
		return true, err
	}
	if !p.typ.IsOutput() {
		p.pushPending(int(s.desc.Index))
	}
	s.releaseHold()
	if p.typ.IsOutput() && !p.anyQueued() {
		if err := p.stop(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// enqueueReady submits pending slots in FIFO order and stops at the first
// slot still held by a caller.
func (p *BufferPool) enqueueReady() error {
	for p.fifo.Length() > 0 {
		idx := p.fifo.Peek().(int)
		s := p.slots[idx]
		if !s.tryAcquire() {
			break
		}
		err := s.submit(p.drv, p.mem)
		desc := s.desc
		s.releaseHold()
		if err != nil {
			return fmt.Errorf("queue buffer %d: %w", idx, err)
		}
		p.fifo.Remove()
		s.inFIFO = false
		p.submitted++
		p.observer.BufferQueued(desc)
	}
	return nil
}

func (p *BufferPool) pushPending(idx int) {
	s := p.slots[idx]
	if s.inFIFO {
		return
	}
	s.inFIFO = true
	p.fifo.Add(idx)
}

// dequeueAll marks every slot not held by a caller as owned by the
// application and schedules it for submission.
func (p *BufferPool) dequeueAll() {
	for i, s := range p.slots {
		if !s.tryAcquire() {
			continue
		}
		s.markDequeued()
		p.pushPending(i)
		s.releaseHold()
	}
}

// dequeueQueued syncs slot state after stream off, which implicitly
// dequeues every buffer.
func (p *BufferPool) dequeueQueued() {
	for i, s := range p.slots {
		if !s.tryAcquire() {
			continue
		}
		if s.queued {
			s.markDequeued()
			p.pushPending(i)
		}
		s.releaseHold()
	}
}

// dequeueUnused returns, held, the first slot that is neither queued nor
// held. A slot already waiting for submission keeps its place in the FIFO.
func (p *BufferPool) dequeueUnused() *bufferSlot {
	for i, s := range p.slots {
		if s.queued {
			continue
		}
		if !s.tryAcquire() {
			continue
		}
		p.pushPending(i)
		return s
	}
	return nil
}

// complete dequeues the next finished buffer from the driver. The driver
// picks the buffer; the returned slot is held.
func (p *BufferPool) complete() (*bufferSlot, error) {
	s, err := p.retrieve()
	if err != nil {
		return nil, err
	}
	p.pushPending(int(s.desc.Index))
	return s, nil
}

// retrieve dequeues a finished buffer and takes its hold without
// scheduling it for resubmission.
func (p *BufferPool) retrieve() (*bufferSlot, error) {
	desc, err := p.drv.dequeueBuffer(p.typ, p.mem.Memory())
	if err != nil {
		return nil, err
	}

	idx := int(desc.Index)
	if idx < 0 || idx >= len(p.slots) {
		return nil, protocolError("driver returned buffer index %d, pool has %d", desc.Index, len(p.slots))
	}
	s := p.slots[idx]
	if !s.tryAcquire() {
		return nil, protocolError("driver returned buffer %d while it is held", idx)
	}
	if !s.queued {
		s.releaseHold()
		return nil, protocolError("driver returned buffer %d which was not queued", idx)
	}

	s.reuse(desc)
	p.completed++
	p.observer.BufferDequeued(s.desc)
	return s, nil
}

func (p *BufferPool) start() error {
	if p.streaming {
		return nil
	}
	if err := p.drv.streamOn(p.typ); err != nil {
		return fmt.Errorf("stream on %v: %w", p.typ, err)
	}
	p.streaming = true
	p.logger.Debug("stream on", "type", p.typ, "buffers", len(p.slots))
	p.observer.StreamStateChanged(p.typ, true)
	return nil
}

// startCapture primes the driver with every free buffer and starts the
// stream.
func (p *BufferPool) startCapture() error {
	p.dequeueAll()
	if err := p.enqueueReady(); err != nil {
		return err
	}
	if err := p.start(); err != nil {
		// Drop what was queued so the next attempt starts from a clean queue.
		if offErr := p.drv.streamOff(p.typ); offErr != nil {
			p.logger.Warn("failed to cancel queued buffers", "type", p.typ, "error", offErr)
		} else {
			p.dequeueQueued()
		}
		return err
	}
	return nil
}

// stop turns the stream off. Calling it again, or on a pool that never
// queued anything, does nothing.
func (p *BufferPool) stop() error {
	if !p.streaming && !p.anyQueued() {
		return nil
	}
	if err := p.drv.streamOff(p.typ); err != nil {
		return fmt.Errorf("stream off %v: %w", p.typ, err)
	}
	wasStreaming := p.streaming
	p.streaming = false
	p.dequeueQueued()
	if wasStreaming {
		p.logger.Debug("stream off", "type", p.typ)
		p.observer.StreamStateChanged(p.typ, false)
	}
	return nil
}

func (p *BufferPool) anyQueued() bool {
	for _, s := range p.slots {
		if s.queued {
			return true
		}
	}
	return false
}

// Stop turns the stream off. Buffers return to the FIFO and the next
// acquisition restarts the stream.
func (p *BufferPool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.stop()
}

// close stops the stream, releases buffer memory and frees the driver
// buffers. It runs once; the first failure is returned and later ones are
// logged.
func (p *BufferPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var first error
	keep := func(err error) {
		if err == nil {
			return
		}
		if first == nil {
			first = err
			return
		}
		p.logger.Warn("buffer pool teardown error", "type", p.typ, "error", err)
	}

	keep(p.stop())
	for _, s := range p.slots {
		keep(s.release(p.mem))
	}
	if _, err := p.drv.requestBuffers(p.typ, p.mem.Memory(), 0); err != nil {
		keep(fmt.Errorf("free %v buffers: %w", p.typ, err))
	}
	return first
}
