//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Formats returns the pixel formats supported for a buffer type.
func (d *Device) Formats(typ BufferType) ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   uint32(typ),
		}

		if err := xioctl(d.fd, "VIDIOC_ENUM_FMT", vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, err)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&v4l2FmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// Resolutions returns the frame sizes supported for a pixel format.
func (d *Device) Resolutions(pixelFormat uint32) ([]Resolution, error) {
	var resolutions []Resolution

	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{
			index:       i,
			pixelFormat: pixelFormat,
		}

		if err := xioctl(d.fd, "VIDIOC_ENUM_FRAMESIZES", vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(err, unix.ENOTTY) {
				return []Resolution{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, err)
		}

		switch frmsize.typ {
		case v4l2FrmsizeTypeDiscrete:
			resolutions = append(resolutions, Resolution{
				Width:  frmsize.discrete.width,
				Height: frmsize.discrete.height,
			})
		case v4l2FrmsizeTypeContinuous, v4l2FrmsizeTypeStepwise:
			stepwise := (*v4l2FrmsizeStepwise)(unsafe.Pointer(&frmsize.discrete))
			return append(resolutions, stepwiseResolutions(stepwise)...), nil
		}
	}

	return resolutions, nil
}

// Framerates returns the frame intervals supported for a format and size.
func (d *Device) Framerates(pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	var framerates []Framerate

	for i := uint32(0); ; i++ {
		frmival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixelFormat,
			width:       width,
			height:      height,
		}

		if err := xioctl(d.fd, "VIDIOC_ENUM_FRAMEINTERVALS", vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, err)
		}

		switch frmival.typ {
		case v4l2FrmivalTypeDiscrete:
			framerates = append(framerates, Framerate{
				Numerator:   frmival.discrete.numerator,
				Denominator: frmival.discrete.denominator,
			})
		case v4l2FrmivalTypeContinuous, v4l2FrmivalTypeStepwise:
			return append(framerates, commonFramerates()...), nil
		}
	}

	return framerates, nil
}

// Format returns the current single-planar format of a buffer type.
func (d *Device) Format(typ BufferType) (PixFormat, error) {
	f := v4l2Format{typ: uint32(typ)}
	if err := xioctl(d.fd, "VIDIOC_G_FMT", vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return f.pix.decode(), nil
}

// SetFormat negotiates a single-planar format. The driver may adjust any
// field; the format it settled on is returned. Must be called before a
// stream is created for typ.
func (d *Device) SetFormat(typ BufferType, pf PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: uint32(typ)}
	if err := xioctl(d.fd, "VIDIOC_G_FMT", vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	if pf.Width != 0 {
		f.pix.width = pf.Width
	}
	if pf.Height != 0 {
		f.pix.height = pf.Height
	}
	if pf.PixelFormat != 0 {
		f.pix.pixelformat = pf.PixelFormat
	}
	if pf.Field != FieldAny {
		f.pix.field = uint32(pf.Field)
	}
	f.pix.bytesperline = 0
	f.pix.sizeimage = 0
	if err := xioctl(d.fd, "VIDIOC_S_FMT", vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return f.pix.decode(), nil
}

// GetFormats returns all supported capture pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	dev, err := OpenDevice(devicePath, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Close()
	return dev.Formats(BufTypeVideoCapture)
}

// GetResolutions returns all supported resolutions for a device and pixel format.
func GetResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	dev, err := OpenDevice(devicePath, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Close()
	return dev.Resolutions(pixelFormat)
}

// GetFramerates returns all supported framerates for a device, format, and resolution.
func GetFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	dev, err := OpenDevice(devicePath, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Close()
	return dev.Framerates(pixelFormat, width, height)
}

// stepwiseResolutions returns common resolutions within a stepwise range.
func stepwiseResolutions(stepwise *v4l2FrmsizeStepwise) []Resolution {
	commonResolutions := [][2]uint32{
		{320, 240},  // QVGA
		{640, 480},  // VGA
		{800, 600},  // SVGA
		{1024, 768}, // XGA
		{1280, 720}, // HD
		{1280, 960},
		{1280, 1024}, // SXGA
		{1920, 1080}, // Full HD
		{1920, 1200}, // WUXGA
		{2560, 1440}, // QHD
		{3840, 2160}, // 4K UHD
		{4096, 2160}, // 4K DCI
	}

	var resolutions []Resolution
	for _, res := range commonResolutions {
		w, h := res[0], res[1]
		if w >= stepwise.minWidth && w <= stepwise.maxWidth &&
			h >= stepwise.minHeight && h <= stepwise.maxHeight {
			resolutions = append(resolutions, Resolution{Width: w, Height: h})
		}
	}

	return resolutions
}

func commonFramerates() []Framerate {
	return []Framerate{
		{1, 60},
		{1, 50},
		{1, 30},
		{1, 25},
		{1, 20},
		{1, 15},
		{1, 10},
		{1, 5},
	}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	return string([]byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	})
}

// ParseFourCC is the inverse of FormatFourCC. Codes shorter than four
// characters are padded with spaces.
func ParseFourCC(code string) (uint32, error) {
	if len(code) == 0 || len(code) > 4 {
		return 0, fmt.Errorf("invalid fourcc %q", code)
	}
	b := []byte(code + "    ")[:4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}
