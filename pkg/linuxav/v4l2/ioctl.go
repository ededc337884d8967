//go:build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// xioctl retries on EINTR and wraps failures with the request name.
func xioctl(fd int, op string, req uint, arg unsafe.Pointer) error {
	for {
		err := ioctl(fd, req, arg)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return &IoctlError{Op: op, Errno: err.(unix.Errno)}
		}
		return nil
	}
}

func open(path string, nonblock bool) (int, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if nonblock {
		flags |= unix.O_NONBLOCK
	}
	for {
		fd, err := unix.Open(path, flags, 0)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

func close(fd int) error {
	return unix.Close(fd)
}
