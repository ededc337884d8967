//go:build linux

package v4l2

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval bounds each poll(2) call so NextContext notices cancellation
// of contexts without a deadline.
const pollInterval = 100 * time.Millisecond

// StreamOption configures a Stream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	logger   *slog.Logger
	observer Observer
	closeFD  bool
}

// WithLogger sets the logger used for debug output and teardown errors.
func WithLogger(logger *slog.Logger) StreamOption {
	return func(o *streamOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers an observer for buffer queue transitions.
func WithObserver(obs Observer) StreamOption {
	return func(o *streamOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// Stream couples a buffer pool to an open descriptor.
//
// Closing a stream while BufferHandles are outstanding is a caller error:
// their memory is unmapped underneath them.
type Stream struct {
	fd      int
	closeFD bool
	dir     Direction
	pool    *BufferPool
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewStream allocates count buffers of the buffer type dir selects for
// content, maps or allocates their memory with mem and, for capture, starts
// streaming. The driver may allocate a different number of buffers; Len
// reports the actual count.
//
// The stream does not take ownership of fd. Only one stream may exist per
// descriptor and buffer type.
func NewStream(fd int, content ContentType, count uint32, dir Direction, mem MemoryStrategy, opts ...StreamOption) (*Stream, error) {
	return newStream(fdDriver{dev: fd}, content, count, dir, mem, opts...)
}

func newStream(drv driver, content ContentType, count uint32, dir Direction, mem MemoryStrategy, opts ...StreamOption) (*Stream, error) {
	o := streamOptions{
		logger:   slog.Default().With("component", "linuxav"),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	typ := dir.BufferType(content)
	pool, err := newBufferPool(drv, typ, mem, count, o.logger, o.observer)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		fd:      drv.fd(),
		closeFD: o.closeFD,
		dir:     dir,
		pool:    pool,
		logger:  o.logger,
	}

	if dir.startsOnOpen() {
		pool.mu.Lock()
		err = pool.startCapture()
		pool.mu.Unlock()
		if err != nil {
			if cerr := pool.close(); cerr != nil {
				o.logger.Warn("failed to release buffers after start failure", "type", typ, "error", cerr)
			}
			return nil, err
		}
	}

	return s, nil
}

// Next returns the next buffer: a filled one for capture, an empty one for
// output. Buffers released since the last call are resubmitted first, in the
// order they were handed out.
//
// On a non-blocking descriptor Next returns an error matching ErrWouldBlock
// when nothing is ready. Errors matching ErrProtocol are permanent.
func (s *Stream) Next() (*BufferHandle, error) {
	slot, err := s.pool.next(s.dir)
	if err != nil {
		return nil, err
	}
	return newBufferHandle(slot, s.dir.writable()), nil
}

// NextContext is Next for non-blocking descriptors: it waits for the device
// to become ready and retries until a buffer is available or ctx is done.
func (s *Stream) NextContext(ctx context.Context) (*BufferHandle, error) {
	for {
		h, err := s.Next()
		if err == nil || !IsWouldBlock(err) {
			return h, err
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *Stream) wait(ctx context.Context) error {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: s.dir.pollEvents()}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		timeout := pollInterval
		if deadline, ok := ctx.Deadline(); ok {
			timeout = min(timeout, max(time.Until(deadline), 0))
		}

		n, err := unix.Poll(fds, pollTimeout(timeout))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll %v: %w", s.pool.Type(), err)
		}
		if n == 0 {
			continue
		}

		revents := fds[0].Revents
		if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return fmt.Errorf("poll %v: device reported error (revents %#x)", s.pool.Type(), revents)
		}
		return nil
	}
}

// pollTimeout converts d to poll milliseconds, rounding up so a short
// remaining deadline still sleeps.
func pollTimeout(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// Drain submits every released buffer and waits until the driver has
// returned all queued buffers. For output this plays out what was written;
// captured frames are discarded. On a non-blocking descriptor Drain polls
// until ctx is done.
func (s *Stream) Drain(ctx context.Context) error {
	if err := s.pool.flush(); err != nil {
		return err
	}
	for {
		pending, err := s.pool.reclaim()
		if err == nil {
			if !pending {
				return nil
			}
			continue
		}
		if !IsWouldBlock(err) {
			return err
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// Stop turns the stream off without releasing the buffers. A later Next
// restarts it. Stopping a stopped stream does nothing.
func (s *Stream) Stop() error {
	return s.pool.Stop()
}

// Close stops the stream and frees its buffers. It is safe to call more than
// once; only the first call does any work. The first teardown error is
// returned and any further ones are logged.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pool.close()
		if s.closeFD {
			if err := close(s.fd); err != nil {
				if s.closeErr == nil {
					s.closeErr = err
				} else {
					s.logger.Warn("failed to close stream descriptor", "error", err)
				}
			}
		}
	})
	return s.closeErr
}

// Len returns the number of buffers allocated by the driver.
func (s *Stream) Len() int {
	return s.pool.Len()
}

// BufferType returns the kernel buffer type of the stream.
func (s *Stream) BufferType() BufferType {
	return s.pool.Type()
}

// Direction returns the stream direction.
func (s *Stream) Direction() Direction {
	return s.dir
}

// Stats returns a snapshot of the underlying buffer pool.
func (s *Stream) Stats() PoolStats {
	return s.pool.Stats()
}
