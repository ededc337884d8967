//go:build linux

package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/v4l2queue/internal/api/models"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// DevicePathInput selects a device by its stable identifier.
type DevicePathInput struct {
	DeviceID string `path:"device_id" example:"usb-0000:00:14.0-1-video-index0" doc:"Stable device identifier"`
}

// DeviceQueueInput selects one of the device's queues.
type DeviceQueueInput struct {
	DevicePathInput
	Direction string `query:"direction" default:"capture" enum:"capture,output" doc:"Queue direction"`
	Content   string `query:"content" default:"video" doc:"Content type, e.g. video or video-mplane"`
}

type DeviceFormatInput struct {
	DevicePathInput
	Format string `query:"format" required:"true" example:"YUYV" doc:"Four character pixel format code"`
}

type DeviceResolutionInput struct {
	DeviceFormatInput
	Width  uint32 `query:"width" required:"true" example:"1920" doc:"Video width in pixels"`
	Height uint32 `query:"height" required:"true" example:"1080" doc:"Video height in pixels"`
}

var capabilityNames = map[uint32]string{
	v4l2.CapVideoCapture:       "Video Capture",
	v4l2.CapVideoOutput:        "Video Output",
	v4l2.CapVideoOverlay:       "Video Overlay",
	v4l2.CapVBICapture:         "VBI Capture",
	v4l2.CapVBIOutput:          "VBI Output",
	v4l2.CapSlicedVBICapture:   "Sliced VBI Capture",
	v4l2.CapSlicedVBIOutput:    "Sliced VBI Output",
	v4l2.CapVideoOutputOverlay: "Video Output Overlay",
	v4l2.CapVideoCaptureMplane: "Multi-planar Video Capture",
	v4l2.CapVideoOutputMplane:  "Multi-planar Video Output",
	v4l2.CapVideoM2MMplane:     "Multi-planar Memory-to-Memory",
	v4l2.CapVideoM2M:           "Memory-to-Memory",
	v4l2.CapSDRCapture:         "Software Defined Radio Capture",
	v4l2.CapSDROutput:          "Software Defined Radio Output",
	v4l2.CapMetaCapture:        "Metadata Capture",
	v4l2.CapReadWrite:          "Read/Write I/O",
	v4l2.CapStreaming:          "Streaming I/O",
	v4l2.CapMetaOutput:         "Metadata Output",
}

// translateCapabilities converts capability flags to readable names,
// ordered by flag value.
func translateCapabilities(caps uint32) []string {
	flags := make([]uint32, 0, len(capabilityNames))
	for flag := range capabilityNames {
		if caps&flag != 0 {
			flags = append(flags, flag)
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })

	names := make([]string, len(flags))
	for i, flag := range flags {
		names[i] = capabilityNames[flag]
	}
	return names
}

// GetDevicesData lists the devices that can stream in either direction.
func GetDevicesData() (models.DeviceData, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return models.DeviceData{}, fmt.Errorf("failed to find devices: %w", err)
	}

	devices := make([]models.DeviceInfo, len(found))
	for i, d := range found {
		devices[i] = models.DeviceInfo{
			DevicePath:   d.DevicePath,
			DeviceName:   d.DeviceName,
			DeviceID:     d.DeviceID,
			Caps:         d.Caps,
			Capabilities: translateCapabilities(d.Caps),
		}
	}
	return models.DeviceData{Devices: devices, Count: len(devices)}, nil
}

// GetDeviceFormats enumerates the pixel formats of one queue of a device.
func GetDeviceFormats(devicePath string, typ v4l2.BufferType) (models.DeviceFormatsData, error) {
	dev, err := v4l2.OpenDevice(devicePath, true)
	if err != nil {
		return models.DeviceFormatsData{}, err
	}
	defer dev.Close()

	found, err := dev.Formats(typ)
	if err != nil {
		return models.DeviceFormatsData{}, err
	}
	formats := make([]models.FormatInfo, len(found))
	for i, f := range found {
		formats[i] = models.ConvertFormatInfo(f)
	}
	return models.DeviceFormatsData{
		DevicePath: devicePath,
		BufferType: typ.String(),
		Formats:    formats,
	}, nil
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List all V4L2 devices with a capture or output queue",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.DeviceResponse, error) {
		data, err := GetDevicesData()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get devices", err)
		}
		return &models.DeviceResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-formats",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/formats",
		Summary:     "Formats",
		Description: "List the pixel formats of one device queue",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(ctx context.Context, input *DeviceQueueInput) (*models.DeviceFormatsResponse, error) {
		devicePath, err := v4l2.GetDevicePathByID(input.DeviceID)
		if err != nil {
			return nil, huma.Error404NotFound("Device not found", err)
		}
		dir, err := v4l2.ParseDirection(input.Direction)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid direction", err)
		}
		content, err := v4l2.ParseContentType(input.Content)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid content type", err)
		}

		data, err := GetDeviceFormats(devicePath, dir.BufferType(content))
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get device formats", err)
		}
		return &models.DeviceFormatsResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-resolutions",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/resolutions",
		Summary:     "Resolutions",
		Description: "List supported resolutions for a pixel format",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(ctx context.Context, input *DeviceFormatInput) (*models.DeviceResolutionsResponse, error) {
		devicePath, err := v4l2.GetDevicePathByID(input.DeviceID)
		if err != nil {
			return nil, huma.Error404NotFound("Device not found", err)
		}
		pixelFormat, err := v4l2.ParseFourCC(input.Format)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid format", err)
		}

		resolutions, err := v4l2.GetResolutions(devicePath, pixelFormat)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get device resolutions", err)
		}
		body := models.DeviceResolutionsData{Resolutions: make([]models.Resolution, len(resolutions))}
		for i, r := range resolutions {
			body.Resolutions[i] = models.ConvertResolution(r)
		}
		return &models.DeviceResolutionsResponse{Body: body}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-framerates",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/framerates",
		Summary:     "Framerates",
		Description: "List supported framerates for a pixel format and resolution",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(ctx context.Context, input *DeviceResolutionInput) (*models.DeviceFrameratesResponse, error) {
		devicePath, err := v4l2.GetDevicePathByID(input.DeviceID)
		if err != nil {
			return nil, huma.Error404NotFound("Device not found", err)
		}
		pixelFormat, err := v4l2.ParseFourCC(input.Format)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid format", err)
		}

		framerates, err := v4l2.GetFramerates(devicePath, pixelFormat, input.Width, input.Height)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get device framerates", err)
		}
		body := models.DeviceFrameratesData{Framerates: make([]models.Framerate, len(framerates))}
		for i, f := range framerates {
			body.Framerates[i] = models.ConvertFramerate(f)
		}
		return &models.DeviceFrameratesResponse{Body: body}, nil
	})
}
