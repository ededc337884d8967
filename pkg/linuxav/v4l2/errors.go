//go:build linux

package v4l2

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// IoctlError is returned when a V4L2 request fails. It carries the request
// name and the OS error code, and unwraps to the unix.Errno.
type IoctlError struct {
	Op    string
	Errno unix.Errno
}

func (e *IoctlError) Error() string {
	return fmt.Sprintf("v4l2: %s: %v", e.Op, e.Errno)
}

func (e *IoctlError) Unwrap() error {
	return e.Errno
}

// Is reports whether target is an *IoctlError for the same request and code.
func (e *IoctlError) Is(target error) bool {
	t, ok := target.(*IoctlError)
	if !ok {
		return false
	}
	return t.Op == e.Op && t.Errno == e.Errno
}

var (
	// ErrWouldBlock is returned by Next on a non-blocking descriptor when the
	// driver has no buffer ready. It is transient; retry after the device
	// becomes readable (capture) or writable (output).
	ErrWouldBlock = unix.EAGAIN

	// ErrProtocol means the driver and the buffer pool disagree about which
	// buffers are queued. The stream cannot be used any further.
	ErrProtocol = errors.New("v4l2: buffer queue protocol violation")

	// ErrStreamClosed is returned for operations on a closed stream.
	ErrStreamClosed = errors.New("v4l2: stream closed")

	// ErrReadOnly is returned when writing to a capture buffer.
	ErrReadOnly = errors.New("v4l2: capture buffers are read-only")

	// ErrHandleReleased is returned when a released BufferHandle is used.
	ErrHandleReleased = errors.New("v4l2: buffer handle already released")
)

// IsWouldBlock reports whether err is the transient "no buffer ready" result.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
