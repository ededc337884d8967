//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 device node.
type Device struct {
	path     string
	fd       int
	nonblock bool
}

// OpenDevice opens a video device read/write. Bare names such as "video0"
// are resolved under /dev. With nonblock set, dequeue requests return
// ErrWouldBlock instead of waiting.
func OpenDevice(path string, nonblock bool) (*Device, error) {
	if !strings.ContainsRune(path, '/') {
		path = filepath.Join("/dev", path)
	}
	fd, err := open(path, nonblock)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd, nonblock: nonblock}, nil
}

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Fd returns the underlying descriptor.
func (d *Device) Fd() int { return d.fd }

// NonBlocking reports whether the device was opened with O_NONBLOCK.
func (d *Device) NonBlocking() bool { return d.nonblock }

// Close closes the device. Streams created from it keep their own
// descriptor and stay usable.
func (d *Device) Close() error {
	return close(d.fd)
}

// Capabilities queries the driver and device capabilities.
func (d *Device) Capabilities() (Capability, error) {
	raw := v4l2Capability{}
	if err := xioctl(d.fd, "VIDIOC_QUERYCAP", vidiocQuerycap, unsafe.Pointer(&raw)); err != nil {
		return Capability{}, err
	}
	return raw.decode(), nil
}

// Stream creates a stream on a duplicate of the device descriptor, so the
// device and each of its streams can be closed independently. See NewStream.
func (d *Device) Stream(content ContentType, count uint32, dir Direction, mem MemoryStrategy, opts ...StreamOption) (*Stream, error) {
	fd, err := unix.FcntlInt(uintptr(d.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", d.path, err)
	}
	opts = append(opts, func(o *streamOptions) { o.closeFD = true })
	s, err := NewStream(fd, content, count, dir, mem, opts...)
	if err != nil {
		_ = close(fd)
		return nil, err
	}
	return s, nil
}

// ListDevices returns the /dev/video* character devices, sorted.
func ListDevices() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("failed to read /dev: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}
		if entry.Type()&os.ModeCharDevice == 0 {
			continue
		}
		paths = append(paths, filepath.Join("/dev", entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// FindDevices finds all V4L2 devices that can stream video, in either
// direction.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo

	for _, entry := range entries {
		devicePath := "/dev/" + entry.Name()

		dev, err := OpenDevice(devicePath, true)
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to open video device", "path", devicePath, "error", err)
			continue
		}
		caps, err := dev.Capabilities()
		_ = dev.Close()
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to query device capabilities", "path", devicePath, "error", err)
			continue
		}

		effective := caps.Effective()
		if effective&(CapVideoCapture|CapVideoOutput|CapVideoCaptureMplane|CapVideoOutputMplane) == 0 {
			continue
		}

		indexValue := readSysfsInt(filepath.Join("/sys/class/video4linux", entry.Name(), "index"))

		stableID := findStableID(entry.Name(), indexValue)
		if stableID == "" {
			if strings.HasPrefix(caps.BusInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", caps.BusInfo, indexValue)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", caps.BusInfo, indexValue)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: caps.Card,
			DeviceID:   stableID,
			Caps:       effective,
		})
	}

	return devices, nil
}

// GetDevicePathByID finds the device path for a given stable device ID.
func GetDevicePathByID(deviceID string) (string, error) {
	devices, err := FindDevices()
	if err != nil {
		return "", fmt.Errorf("failed to find devices: %w", err)
	}

	for _, device := range devices {
		if device.DeviceID == deviceID {
			return device.DevicePath, nil
		}
	}

	return "", fmt.Errorf("device with ID %s not found", deviceID)
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/
func findStableID(deviceName string, indexValue int) string {
	byIDDir := "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	expectedSuffix := fmt.Sprintf("-video-index%d", indexValue)

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}

		if filepath.Base(target) == deviceName && strings.HasSuffix(entry.Name(), expectedSuffix) {
			return entry.Name()
		}
	}

	return ""
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
