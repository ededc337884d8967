//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2FrmsizeDiscrete{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Fract{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2Requestbuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Timecode{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocGFmt               = 0xc0d05604
	vidiocSFmt               = 0xc0d05605
	vidiocReqbufs            = 0xc0145608
	vidiocQuerybuf           = 0xc0585609
	vidiocQbuf               = 0xc058560f
	vidiocDqbuf              = 0xc0585611
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
)

// v4l2Format has size 208 bytes. The format union is 8-byte aligned because
// v4l2_window carries pointers.
type v4l2Format struct {
	typ uint32        // offset 0
	_   [4]byte       // padding
	pix v4l2PixFormat // offset 8 (union with pix_mp, win, vbi, sdr, meta)
	_   [152]byte     // rest of the 200-byte union
}
