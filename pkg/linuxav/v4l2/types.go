//go:build linux

package v4l2

import "fmt"

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// Capability is the decoded result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capabilities of the opened node, falling back to the
// physical device capabilities when the driver does not report per-node caps.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// Streaming reports whether the node supports the streaming I/O method.
func (c Capability) Streaming() bool {
	return c.Effective()&CapStreaming != 0
}

// VersionString formats the kernel version field as major.minor.patch.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", (c.Version>>16)&0xff, (c.Version>>8)&0xff, c.Version&0xff)
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported framerate as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// PixFormat is the single-planar image format set with VIDIOC_S_FMT.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        Field
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

// Capability flags.
const (
	CapVideoCapture       = 0x00000001
	CapVideoOutput        = 0x00000002
	CapVideoOverlay       = 0x00000004
	CapVBICapture         = 0x00000010
	CapVBIOutput          = 0x00000020
	CapSlicedVBICapture   = 0x00000040
	CapSlicedVBIOutput    = 0x00000080
	CapVideoOutputOverlay = 0x00000200
	CapVideoCaptureMplane = 0x00001000
	CapVideoOutputMplane  = 0x00002000
	CapVideoM2MMplane     = 0x00004000
	CapVideoM2M           = 0x00008000
	CapSDRCapture         = 0x00100000
	CapSDROutput          = 0x00400000
	CapMetaCapture        = 0x00800000
	CapReadWrite          = 0x01000000
	CapStreaming          = 0x04000000
	CapMetaOutput         = 0x08000000
	CapDeviceCaps         = 0x80000000
)

// Format flags.
const (
	v4l2FmtFlagEmulated = 0x0002
)

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtHEVC  = 0x43564548 // 'HEVC'
	PixFmtNV12  = 0x3231564E // 'NV12'
)

// Frame size types.
const (
	v4l2FrmsizeTypeDiscrete   = 1
	v4l2FrmsizeTypeContinuous = 2
	v4l2FrmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	v4l2FrmivalTypeDiscrete   = 1
	v4l2FrmivalTypeContinuous = 2
	v4l2FrmivalTypeStepwise   = 3
)
