//go:build linux && arm && !arm64

package v4l2

import "unsafe"

// Compile-time struct size assertions for 32-bit ARM.
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
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2Requestbuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Timecode{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{} // 32-bit timeval and union word
)

// IOCTL constants for 32-bit ARM.
// The buffer and format requests differ from 64-bit because their sizes are
// encoded in the request number.
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocGFmt               = 0xc0cc5604
	vidiocSFmt               = 0xc0cc5605
	vidiocReqbufs            = 0xc0145608
	vidiocQuerybuf           = 0xc0445609
	vidiocQbuf               = 0xc044560f
	vidiocDqbuf              = 0xc0445611
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
)

// v4l2Format has size 204 bytes on 32-bit.
type v4l2Format struct {
	typ uint32        // offset 0
	pix v4l2PixFormat // offset 4 (union with pix_mp, win, vbi, sdr, meta)
	_   [152]byte     // rest of the 200-byte union
}
