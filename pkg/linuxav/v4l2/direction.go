//go:build linux

package v4l2

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// ContentType is the kind of data a stream carries, independent of
// direction.
type ContentType int

// Content types.
const (
	ContentVideo ContentType = iota
	ContentVBI
	ContentSlicedVBI
	ContentOverlay
	ContentVideoMplane
	ContentSDR
	ContentMeta
)

var contentTypeNames = map[ContentType]string{
	ContentVideo:       "video",
	ContentVBI:         "vbi",
	ContentSlicedVBI:   "sliced-vbi",
	ContentOverlay:     "overlay",
	ContentVideoMplane: "video-mplane",
	ContentSDR:         "sdr",
	ContentMeta:        "meta",
}

func (c ContentType) String() string {
	if name, ok := contentTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("content(%d)", int(c))
}

// ParseContentType parses the names returned by ContentType.String.
func ParseContentType(name string) (ContentType, error) {
	name = strings.ToLower(name)
	if name == "" {
		return ContentVideo, nil
	}
	for c, n := range contentTypeNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown content type %q", name)
}

// Direction selects the buffer type for a content type and the policy used
// to hand out the next buffer.
type Direction interface {
	fmt.Stringer
	// BufferType maps content to the concrete kernel buffer type.
	BufferType(c ContentType) BufferType

	next(p *BufferPool) (*bufferSlot, error)
	startsOnOpen() bool
	pollEvents() int16
	writable() bool
}

type captureDirection struct{}

type outputDirection struct{}

// Directions.
var (
	// Capture hands out buffers the driver has filled. The stream starts as
	// soon as it is created.
	Capture Direction = captureDirection{}
	// Output hands out empty buffers to fill. Unused buffers are handed out
	// before the stream starts.
	Output Direction = outputDirection{}
)

// ParseDirection returns Capture for "capture" and Output for "output".
func ParseDirection(name string) (Direction, error) {
	switch strings.ToLower(name) {
	case "capture", "in", "":
		return Capture, nil
	case "output", "out":
		return Output, nil
	}
	return nil, fmt.Errorf("unknown direction %q (expected capture or output)", name)
}

func (captureDirection) String() string { return "capture" }

func (captureDirection) BufferType(c ContentType) BufferType {
	switch c {
	case ContentVBI:
		return BufTypeVBICapture
	case ContentSlicedVBI:
		return BufTypeSlicedVBICapture
	case ContentOverlay:
		return BufTypeVideoOverlay
	case ContentVideoMplane:
		return BufTypeVideoCaptureMplane
	case ContentSDR:
		return BufTypeSDRCapture
	case ContentMeta:
		return BufTypeMetaCapture
	default:
		return BufTypeVideoCapture
	}
}

func (captureDirection) next(p *BufferPool) (*bufferSlot, error) {
	if p.streaming {
		if err := p.enqueueReady(); err != nil {
			return nil, err
		}
	} else if err := p.startCapture(); err != nil {
		return nil, err
	}
	return p.complete()
}

func (captureDirection) startsOnOpen() bool { return true }

func (captureDirection) pollEvents() int16 { return unix.POLLIN }

func (captureDirection) writable() bool { return false }

func (outputDirection) String() string { return "output" }

func (outputDirection) BufferType(c ContentType) BufferType {
	switch c {
	case ContentVBI:
		return BufTypeVBIOutput
	case ContentSlicedVBI:
		return BufTypeSlicedVBIOutput
	case ContentOverlay:
		return BufTypeVideoOutputOverlay
	case ContentVideoMplane:
		return BufTypeVideoOutputMplane
	case ContentSDR:
		return BufTypeSDROutput
	case ContentMeta:
		return BufTypeMetaOutput
	default:
		return BufTypeVideoOutput
	}
}

func (outputDirection) next(p *BufferPool) (*bufferSlot, error) {
	if err := p.enqueueReady(); err != nil {
		return nil, err
	}
	if p.streaming {
		return p.complete()
	}
	if s := p.dequeueUnused(); s != nil {
		return s, nil
	}
	if err := p.start(); err != nil {
		return nil, err
	}
	return p.complete()
}

func (outputDirection) startsOnOpen() bool { return false }

func (outputDirection) pollEvents() int16 { return unix.POLLOUT }

func (outputDirection) writable() bool { return true }
