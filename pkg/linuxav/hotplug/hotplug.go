//go:build linux

// Package hotplug reads kernel uevents from a NETLINK_KOBJECT_UEVENT socket.
//
// It needs neither cgo nor libudev. Only kernel broadcasts are received, so
// events arrive before udev has created device nodes and symlinks; callers
// that inspect /dev should allow the node time to settle.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sys/unix"
)

// Uevent actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystems that carry V4L2 device nodes and the buses they hang off.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemMedia       = "media"
	SubsystemUSB         = "usb"
)

const (
	kernelGroup   = 1
	receiveBuffer = 16 << 10
	pollTimeoutMs = 500
)

// Event is one parsed uevent.
type Event struct {
	Action    string
	KObj      string
	Subsystem string
	DevType   string
	DevName   string
	Env       map[string]string
}

// Node returns the /dev path named by DEVNAME, or "" when the event has none.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	return "/dev/" + e.DevName
}

// Monitor is a bound uevent socket.
type Monitor struct {
	fd         int
	subsystems []string
}

// NewMonitor binds a uevent socket. Events whose subsystem is not listed are
// discarded; with no subsystems every event is delivered.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("hotplug: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("hotplug: bind: %w", err)
	}
	return &Monitor{fd: fd, subsystems: subsystems}, nil
}

// Close releases the socket. Run must have returned.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run calls handle for every matching event until ctx is done. It returns
// ctx.Err() on cancellation.
func (m *Monitor) Run(ctx context.Context, handle func(Event)) error {
	buf := make([]byte, receiveBuffer)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("hotplug: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		for {
			size, _, err := unix.Recvfrom(m.fd, buf, 0)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
					break
				}
				// ENOBUFS means the kernel dropped messages; keep reading.
				if errors.Is(err, unix.ENOBUFS) {
					continue
				}
				return fmt.Errorf("hotplug: recv: %w", err)
			}
			ev, ok := ParseUEvent(buf[:size])
			if !ok || !m.wants(ev.Subsystem) {
				continue
			}
			handle(ev)
		}
	}
}

func (m *Monitor) wants(subsystem string) bool {
	return len(m.subsystems) == 0 || slices.Contains(m.subsystems, subsystem)
}

// ParseUEvent decodes a kernel uevent datagram:
//
//	ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0...
//
// Datagrams re-broadcast by udev start with "libudev" and are rejected.
func ParseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		return Event{}, false
	}

	fields := bytes.Split(data, []byte{0})
	action, kobj, found := bytes.Cut(fields[0], []byte("@"))
	if !found || len(action) == 0 || len(kobj) == 0 {
		return Event{}, false
	}

	ev := Event{
		Action: string(action),
		KObj:   string(kobj),
		Env:    make(map[string]string, len(fields)-1),
	}
	for _, field := range fields[1:] {
		key, value, found := bytes.Cut(field, []byte("="))
		if !found || len(key) == 0 {
			continue
		}
		ev.Env[string(key)] = string(value)
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	ev.DevType = ev.Env["DEVTYPE"]
	ev.DevName = ev.Env["DEVNAME"]
	return ev, true
}
