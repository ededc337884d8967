//go:build linux

package v4l2

import (
	"time"

	"golang.org/x/sys/unix"
)

// Struct mirrors whose layout follows the native word size. The per-arch
// files assert their sizes and hold the request codes that encode them.

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2FrmsizeDiscrete has size 8 bytes.
type v4l2FrmsizeDiscrete struct {
	width  uint32
	height uint32
}

// v4l2FrmsizeStepwise has size 24 bytes.
type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

// v4l2Frmsizeenum has size 44 bytes.
type v4l2Frmsizeenum struct {
	index       uint32              // offset 0
	pixelFormat uint32              // offset 4
	typ         uint32              // offset 8
	discrete    v4l2FrmsizeDiscrete // offset 12 (union with stepwise)
	_           [16]byte            // padding for stepwise
	reserved    [2]uint32           // offset 36
}

// v4l2Fract has size 8 bytes.
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Frmivalenum has size 52 bytes.
type v4l2Frmivalenum struct {
	index       uint32    // offset 0
	pixelFormat uint32    // offset 4
	width       uint32    // offset 8
	height      uint32    // offset 12
	typ         uint32    // offset 16
	discrete    v4l2Fract // offset 20 (union with stepwise)
	_           [16]byte  // padding for stepwise
	reserved    [2]uint32 // offset 44
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Requestbuffers has size 20 bytes.
type v4l2Requestbuffers struct {
	count        uint32   // offset 0
	typ          uint32   // offset 4
	memory       uint32   // offset 8
	capabilities uint32   // offset 12
	flags        uint8    // offset 16
	reserved     [3]uint8 // offset 17
}

// v4l2Timecode has size 16 bytes.
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Buffer has size 88 bytes on 64-bit and 68 bytes on 32-bit ARM.
// The m field is the offset/userptr/planes/fd union; it is one native word
// wide and the mmap offset occupies its low 32 bits on little-endian targets.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         uintptr
	length    uint32
	reserved2 uint32
	requestFD int32
}

func (c *v4l2Capability) decode() Capability {
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}
}

func (b *Buffer) encode() v4l2Buffer {
	raw := v4l2Buffer{
		index:     b.Index,
		typ:       uint32(b.Type),
		bytesused: b.BytesUsed,
		flags:     uint32(b.Flags),
		field:     uint32(b.Field),
		timestamp: unix.NsecToTimeval(int64(b.Timestamp)),
		timecode: v4l2Timecode{
			typ:      b.timecode.Type,
			flags:    b.timecode.Flags,
			frames:   b.timecode.Frames,
			seconds:  b.timecode.Seconds,
			minutes:  b.timecode.Minutes,
			hours:    b.timecode.Hours,
			userbits: b.timecode.UserBits,
		},
		sequence: b.Sequence,
		memory:   uint32(b.Memory),
		length:   b.Length,
	}
	switch b.Memory {
	case MemoryMmap:
		raw.m = uintptr(b.Offset)
	case MemoryUserPtr:
		raw.m = b.UserPtr
	}
	return raw
}

func decodeBuffer(raw *v4l2Buffer) Buffer {
	b := Buffer{
		Index:     raw.index,
		Type:      BufferType(raw.typ),
		Memory:    Memory(raw.memory),
		BytesUsed: raw.bytesused,
		Length:    raw.length,
		Flags:     BufferFlag(raw.flags),
		Field:     Field(raw.field),
		Sequence:  raw.sequence,
		Timestamp: time.Duration(raw.timestamp.Nano()),
		timecode: Timecode{
			Type:     raw.timecode.typ,
			Flags:    raw.timecode.flags,
			Frames:   raw.timecode.frames,
			Seconds:  raw.timecode.seconds,
			Minutes:  raw.timecode.minutes,
			Hours:    raw.timecode.hours,
			UserBits: raw.timecode.userbits,
		},
	}
	switch b.Memory {
	case MemoryMmap:
		b.Offset = uint32(raw.m)
	case MemoryUserPtr:
		b.UserPtr = raw.m
	}
	return b
}

func (p *v4l2PixFormat) decode() PixFormat {
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        Field(p.field),
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
	}
}
