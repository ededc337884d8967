//go:build linux

package models

import (
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// DeviceInfo represents a video device with snake_case fields
type DeviceInfo struct {
	DevicePath   string   `json:"device_path" example:"/dev/video0" doc:"System device path"`
	DeviceName   string   `json:"device_name" example:"USB Camera" doc:"Device name"`
	DeviceID     string   `json:"device_id" example:"usb-0000:00:14.0-1-video-index0" doc:"Stable device identifier"`
	Caps         uint32   `json:"caps" example:"84000001" doc:"Effective V4L2 capability flags"`
	Capabilities []string `json:"capabilities" example:"[\"Video Capture\", \"Streaming I/O\"]" doc:"Device capabilities"`
}

// FormatInfo is one pixel format a device enumerates.
type FormatInfo struct {
	FourCC      string `json:"fourcc" example:"YUYV" doc:"Four character code"`
	PixelFormat uint32 `json:"pixel_format" example:"1448695129" doc:"Numeric pixel format"`
	Description string `json:"description" example:"YUYV 4:2:2" doc:"Driver description"`
	Emulated    bool   `json:"emulated" example:"false" doc:"Whether the format is converted in software"`
}

type Resolution struct {
	Width  uint32 `json:"width" example:"1920" doc:"Video width in pixels"`
	Height uint32 `json:"height" example:"1080" doc:"Video height in pixels"`
}

type Framerate struct {
	Numerator   uint32  `json:"numerator" example:"1" doc:"Frame interval numerator"`
	Denominator uint32  `json:"denominator" example:"30" doc:"Frame interval denominator"`
	FPS         float64 `json:"fps" example:"30.0" doc:"Frames per second"`
}

// Device API response models
type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"Video devices that can stream"`
	Count   int          `json:"count" example:"2" doc:"Number of devices found"`
}

type DeviceResponse struct {
	Body DeviceData
}

type DeviceFormatsData struct {
	DevicePath string       `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	BufferType string       `json:"buffer_type" example:"video-capture" doc:"Queue the formats belong to"`
	Formats    []FormatInfo `json:"formats" doc:"Supported pixel formats"`
}

type DeviceFormatsResponse struct {
	Body DeviceFormatsData
}

type DeviceResolutionsData struct {
	Resolutions []Resolution `json:"resolutions" doc:"Supported resolutions for the format"`
}

type DeviceResolutionsResponse struct {
	Body DeviceResolutionsData
}

type DeviceFrameratesData struct {
	Framerates []Framerate `json:"framerates" doc:"Supported framerates for the format and resolution"`
}

type DeviceFrameratesResponse struct {
	Body DeviceFrameratesData
}

// ConvertFormatInfo converts an enumerated format to its API form.
func ConvertFormatInfo(f v4l2.FormatInfo) FormatInfo {
	return FormatInfo{
		FourCC:      v4l2.FormatFourCC(f.PixelFormat),
		PixelFormat: f.PixelFormat,
		Description: f.FormatName,
		Emulated:    f.Emulated,
	}
}

func ConvertResolution(r v4l2.Resolution) Resolution {
	return Resolution{Width: r.Width, Height: r.Height}
}

func ConvertFramerate(f v4l2.Framerate) Framerate {
	return Framerate{Numerator: f.Numerator, Denominator: f.Denominator, FPS: f.FPS()}
}
