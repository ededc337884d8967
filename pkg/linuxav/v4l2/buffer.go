//go:build linux

package v4l2

import (
	"fmt"
	"strings"
	"time"
)

// BufferType identifies a V4L2 buffer queue.
type BufferType uint32

// Buffer types.
const (
	BufTypeVideoCapture       BufferType = 1
	BufTypeVideoOutput        BufferType = 2
	BufTypeVideoOverlay       BufferType = 3
	BufTypeVBICapture         BufferType = 4
	BufTypeVBIOutput          BufferType = 5
	BufTypeSlicedVBICapture   BufferType = 6
	BufTypeSlicedVBIOutput    BufferType = 7
	BufTypeVideoOutputOverlay BufferType = 8
	BufTypeVideoCaptureMplane BufferType = 9
	BufTypeVideoOutputMplane  BufferType = 10
	BufTypeSDRCapture         BufferType = 11
	BufTypeSDROutput          BufferType = 12
	BufTypeMetaCapture        BufferType = 13
	BufTypeMetaOutput         BufferType = 14
)

var bufferTypeNames = map[BufferType]string{
	BufTypeVideoCapture:       "video-capture",
	BufTypeVideoOutput:        "video-output",
	BufTypeVideoOverlay:       "video-overlay",
	BufTypeVBICapture:         "vbi-capture",
	BufTypeVBIOutput:          "vbi-output",
	BufTypeSlicedVBICapture:   "sliced-vbi-capture",
	BufTypeSlicedVBIOutput:    "sliced-vbi-output",
	BufTypeVideoOutputOverlay: "video-output-overlay",
	BufTypeVideoCaptureMplane: "video-capture-mplane",
	BufTypeVideoOutputMplane:  "video-output-mplane",
	BufTypeSDRCapture:         "sdr-capture",
	BufTypeSDROutput:          "sdr-output",
	BufTypeMetaCapture:        "meta-capture",
	BufTypeMetaOutput:         "meta-output",
}

func (t BufferType) String() string {
	if name, ok := bufferTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("buftype(%d)", uint32(t))
}

// IsOutput reports whether buffers of this type flow from the application
// to the device.
func (t BufferType) IsOutput() bool {
	switch t {
	case BufTypeVideoOutput, BufTypeVBIOutput, BufTypeSlicedVBIOutput,
		BufTypeVideoOutputOverlay, BufTypeVideoOutputMplane, BufTypeSDROutput,
		BufTypeMetaOutput:
		return true
	}
	return false
}

// Supported reports whether a device with the given capability bits can
// stream buffers of this type.
func (t BufferType) Supported(caps uint32) bool {
	var need uint32
	switch t {
	case BufTypeVideoCapture:
		need = CapVideoCapture
	case BufTypeVideoOutput:
		need = CapVideoOutput
	case BufTypeVideoOverlay:
		need = CapVideoOverlay
	case BufTypeVBICapture:
		need = CapVBICapture
	case BufTypeVBIOutput:
		need = CapVBIOutput
	case BufTypeSlicedVBICapture:
		need = CapSlicedVBICapture
	case BufTypeSlicedVBIOutput:
		need = CapSlicedVBIOutput
	case BufTypeVideoOutputOverlay:
		need = CapVideoOutputOverlay
	case BufTypeVideoCaptureMplane:
		need = CapVideoCaptureMplane
	case BufTypeVideoOutputMplane:
		need = CapVideoOutputMplane
	case BufTypeSDRCapture:
		need = CapSDRCapture
	case BufTypeSDROutput:
		need = CapSDROutput
	case BufTypeMetaCapture:
		need = CapMetaCapture
	case BufTypeMetaOutput:
		need = CapMetaOutput
	default:
		return false
	}
	return caps&need != 0
}

// Memory is the buffer memory type.
type Memory uint32

// Memory types.
const (
	MemoryMmap    Memory = 1
	MemoryUserPtr Memory = 2
	MemoryOverlay Memory = 3
	MemoryDMABuf  Memory = 4
)

func (m Memory) String() string {
	switch m {
	case MemoryMmap:
		return "mmap"
	case MemoryUserPtr:
		return "userptr"
	case MemoryOverlay:
		return "overlay"
	case MemoryDMABuf:
		return "dmabuf"
	}
	return fmt.Sprintf("memory(%d)", uint32(m))
}

// BufferFlag holds v4l2_buffer status flags.
type BufferFlag uint32

// Buffer flags.
const (
	BufFlagMapped    BufferFlag = 0x00000001
	BufFlagQueued    BufferFlag = 0x00000002
	BufFlagDone      BufferFlag = 0x00000004
	BufFlagKeyFrame  BufferFlag = 0x00000008
	BufFlagPFrame    BufferFlag = 0x00000010
	BufFlagBFrame    BufferFlag = 0x00000020
	BufFlagError     BufferFlag = 0x00000040
	BufFlagInRequest BufferFlag = 0x00000080
	BufFlagTimecode  BufferFlag = 0x00000100
	BufFlagPrepared  BufferFlag = 0x00000400
	BufFlagLast      BufferFlag = 0x00100000
)

var bufferFlagNames = []struct {
	flag BufferFlag
	name string
}{
	{BufFlagMapped, "mapped"},
	{BufFlagQueued, "queued"},
	{BufFlagDone, "done"},
	{BufFlagKeyFrame, "keyframe"},
	{BufFlagPFrame, "pframe"},
	{BufFlagBFrame, "bframe"},
	{BufFlagError, "error"},
	{BufFlagInRequest, "in-request"},
	{BufFlagTimecode, "timecode"},
	{BufFlagPrepared, "prepared"},
	{BufFlagLast, "last"},
}

// Has reports whether all bits of f are set.
func (b BufferFlag) Has(f BufferFlag) bool {
	return b&f == f
}

func (b BufferFlag) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	rest := b
	for _, n := range bufferFlagNames {
		if b&n.flag != 0 {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Field is the field order of a video buffer.
type Field uint32

// Field orders.
const (
	FieldAny          Field = 0
	FieldNone         Field = 1
	FieldTop          Field = 2
	FieldBottom       Field = 3
	FieldInterlaced   Field = 4
	FieldSequentialTB Field = 5
	FieldSequentialBT Field = 6
	FieldAlternate    Field = 7
	FieldInterlacedTB Field = 8
	FieldInterlacedBT Field = 9
)

func (f Field) String() string {
	switch f {
	case FieldAny:
		return "any"
	case FieldNone:
		return "progressive"
	case FieldTop:
		return "top"
	case FieldBottom:
		return "bottom"
	case FieldInterlaced:
		return "interlaced"
	case FieldSequentialTB:
		return "seq-tb"
	case FieldSequentialBT:
		return "seq-bt"
	case FieldAlternate:
		return "alternate"
	case FieldInterlacedTB:
		return "interlaced-tb"
	case FieldInterlacedBT:
		return "interlaced-bt"
	}
	return fmt.Sprintf("field(%d)", uint32(f))
}

// Timecode mirrors struct v4l2_timecode.
type Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	UserBits [4]uint8
}

func (tc Timecode) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d", tc.Hours, tc.Minutes, tc.Seconds, tc.Frames)
}

// Buffer describes one driver buffer. The Memory field selects which of
// Offset or UserPtr is meaningful.
type Buffer struct {
	Index     uint32
	Type      BufferType
	Memory    Memory
	BytesUsed uint32
	Length    uint32
	Flags     BufferFlag
	Field     Field
	Sequence  uint32
	// Timestamp is the driver timestamp as an offset from the clock epoch
	// (usually CLOCK_MONOTONIC).
	Timestamp time.Duration
	timecode  Timecode

	// Offset is the mmap offset for MemoryMmap buffers.
	Offset uint32
	// UserPtr is the address of the application buffer for MemoryUserPtr.
	UserPtr uintptr
}

// Queued reports whether the driver holds the buffer.
func (b Buffer) Queued() bool {
	return b.Flags.Has(BufFlagQueued)
}

// HasTimecode reports whether the timecode field is valid.
func (b Buffer) HasTimecode() bool {
	return b.Flags.Has(BufFlagTimecode)
}

// Timecode returns the buffer timecode, if any.
func (b Buffer) Timecode() (Timecode, bool) {
	if !b.HasTimecode() {
		return Timecode{}, false
	}
	return b.timecode, true
}

// SetTimecode sets or clears (nil) the timecode on an output buffer.
func (b *Buffer) SetTimecode(tc *Timecode) {
	if tc == nil {
		b.timecode = Timecode{}
		b.Flags &^= BufFlagTimecode
		return
	}
	b.timecode = *tc
	b.Flags |= BufFlagTimecode
}

func (b Buffer) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d @%d %v", b.Sequence, b.Index, b.Timestamp)
	if tc, ok := b.Timecode(); ok {
		fmt.Fprintf(&sb, " %v", tc)
	}
	fmt.Fprintf(&sb, " %v %v %d/%d", b.Type, b.Memory, b.BytesUsed, b.Length)
	if b.Flags != 0 {
		fmt.Fprintf(&sb, " %v", b.Flags)
	}
	if b.Field != FieldNone {
		fmt.Fprintf(&sb, " %v", b.Field)
	}
	return sb.String()
}
