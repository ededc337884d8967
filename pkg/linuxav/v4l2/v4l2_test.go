//go:build linux

package v4l2

import (
	"errors"
	"math"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{
			name:     "YUYV format",
			format:   PixFmtYUYV,
			expected: "YUYV",
		},
		{
			name:     "MJPEG format",
			format:   PixFmtMJPEG,
			expected: "MJPG",
		},
		{
			name:     "H264 format",
			format:   PixFmtH264,
			expected: "H264",
		},
		{
			name:     "HEVC format",
			format:   PixFmtHEVC,
			expected: "HEVC",
		},
		{
			name:     "NV12 format",
			format:   PixFmtNV12,
			expected: "NV12",
		},
		{
			name:     "null bytes",
			format:   0x00000000,
			expected: "\x00\x00\x00\x00",
		},
		{
			name:     "all 0xFF bytes",
			format:   0xFFFFFFFF,
			expected: "\xFF\xFF\xFF\xFF",
		},
		{
			name:     "mixed bytes",
			format:   0x01020304,
			expected: "\x04\x03\x02\x01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

func TestFramerateFPS(t *testing.T) {
	tests := []struct {
		name        string
		framerate   Framerate
		expectedFPS float64
	}{
		{
			name:        "60 fps (1/60)",
			framerate:   Framerate{Numerator: 1, Denominator: 60},
			expectedFPS: 60.0,
		},
		{
			name:        "30 fps (1/30)",
			framerate:   Framerate{Numerator: 1, Denominator: 30},
			expectedFPS: 30.0,
		},
		{
			name:        "29.97 fps (1001/30000)",
			framerate:   Framerate{Numerator: 1001, Denominator: 30000},
			expectedFPS: 30000.0 / 1001.0, // ~29.97
		},
		{
			name:        "25 fps (1/25)",
			framerate:   Framerate{Numerator: 1, Denominator: 25},
			expectedFPS: 25.0,
		},
		{
			name:        "zero numerator returns 0",
			framerate:   Framerate{Numerator: 0, Denominator: 60},
			expectedFPS: 0.0,
		},
		{
			name:        "zero denominator with non-zero numerator",
			framerate:   Framerate{Numerator: 1, Denominator: 0},
			expectedFPS: 0.0, // Division by numerator=1 gives 0/1=0
		},
		{
			name:        "both zero",
			framerate:   Framerate{Numerator: 0, Denominator: 0},
			expectedFPS: 0.0,
		},
		{
			name:        "large values",
			framerate:   Framerate{Numerator: 1000000, Denominator: 60000000},
			expectedFPS: 60.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.framerate.FPS()
			// Use approximate comparison for floating point
			if math.Abs(result-tt.expectedFPS) > 0.001 {
				t.Errorf("Framerate{%d, %d}.FPS() = %f, want %f",
					tt.framerate.Numerator, tt.framerate.Denominator,
					result, tt.expectedFPS)
			}
		})
	}
}

func TestParseFourCC(t *testing.T) {
	tests := []struct {
		code    string
		want    uint32
		wantErr bool
	}{
		{code: "YUYV", want: PixFmtYUYV},
		{code: "MJPG", want: PixFmtMJPEG},
		{code: "Y8", want: 0x20203859},
		{code: "", wantErr: true},
		{code: "TOOLONG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseFourCC(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFourCC(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFourCC(%q) = 0x%08X, want 0x%08X", tt.code, got, tt.want)
			}
		})
	}
}

func TestIoctlErrorMatching(t *testing.T) {
	err := error(&IoctlError{Op: "VIDIOC_DQBUF", Errno: unix.EAGAIN})

	if !errors.Is(err, unix.EAGAIN) {
		t.Error("IoctlError does not unwrap to its errno")
	}
	if !IsWouldBlock(err) {
		t.Error("IsWouldBlock(EAGAIN) = false")
	}
	if errors.Is(err, unix.EINVAL) {
		t.Error("IoctlError matched a different errno")
	}
	if !errors.Is(err, &IoctlError{Op: "VIDIOC_DQBUF", Errno: unix.EAGAIN}) {
		t.Error("IoctlError does not match an equal IoctlError")
	}
	if errors.Is(err, &IoctlError{Op: "VIDIOC_QBUF", Errno: unix.EAGAIN}) {
		t.Error("IoctlError matched a different request")
	}
	if got := err.Error(); got != "v4l2: VIDIOC_DQBUF: resource temporarily unavailable" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDirectionBufferType(t *testing.T) {
	tests := []struct {
		content ContentType
		capture BufferType
		output  BufferType
	}{
		{ContentVideo, BufTypeVideoCapture, BufTypeVideoOutput},
		{ContentVBI, BufTypeVBICapture, BufTypeVBIOutput},
		{ContentSlicedVBI, BufTypeSlicedVBICapture, BufTypeSlicedVBIOutput},
		{ContentOverlay, BufTypeVideoOverlay, BufTypeVideoOutputOverlay},
		{ContentVideoMplane, BufTypeVideoCaptureMplane, BufTypeVideoOutputMplane},
		{ContentSDR, BufTypeSDRCapture, BufTypeSDROutput},
		{ContentMeta, BufTypeMetaCapture, BufTypeMetaOutput},
	}

	for _, tt := range tests {
		t.Run(tt.content.String(), func(t *testing.T) {
			if got := Capture.BufferType(tt.content); got != tt.capture {
				t.Errorf("Capture.BufferType() = %v, want %v", got, tt.capture)
			}
			if got := Output.BufferType(tt.content); got != tt.output {
				t.Errorf("Output.BufferType() = %v, want %v", got, tt.output)
			}
			if tt.capture.IsOutput() || !tt.output.IsOutput() {
				t.Errorf("IsOutput() wrong for %v/%v", tt.capture, tt.output)
			}
			parsed, err := ParseContentType(tt.content.String())
			if err != nil || parsed != tt.content {
				t.Errorf("ParseContentType(%q) = %v, %v", tt.content.String(), parsed, err)
			}
		})
	}
}

func TestBufferDescriptorEncoding(t *testing.T) {
	tc := Timecode{Type: 2, Frames: 12, Seconds: 34, Minutes: 56, Hours: 7}

	t.Run("mmap keeps offset", func(t *testing.T) {
		b := Buffer{Index: 3, Type: BufTypeVideoCapture, Memory: MemoryMmap, Length: 4096, Offset: 0x3000,
			Timestamp: 1500 * time.Millisecond, Field: FieldNone}
		raw := b.encode()
		if raw.m != 0x3000 {
			t.Errorf("raw.m = %#x, want 0x3000", raw.m)
		}
		got := decodeBuffer(&raw)
		if got != b {
			t.Errorf("decodeBuffer(encode()) = %+v, want %+v", got, b)
		}
	})

	t.Run("userptr keeps address and timecode", func(t *testing.T) {
		b := Buffer{Index: 1, Type: BufTypeVideoOutput, Memory: MemoryUserPtr, Length: 64, BytesUsed: 10, UserPtr: 0xdead0000}
		b.SetTimecode(&tc)
		raw := b.encode()
		if raw.m != 0xdead0000 {
			t.Errorf("raw.m = %#x, want 0xdead0000", raw.m)
		}
		got := decodeBuffer(&raw)
		if got.UserPtr != b.UserPtr || got.Offset != 0 {
			t.Errorf("decoded pointer fields = %#x/%#x", got.UserPtr, got.Offset)
		}
		if gotTC, ok := got.Timecode(); !ok || gotTC != tc {
			t.Errorf("Timecode() = %v, %v, want %v", gotTC, ok, tc)
		}
	})

	t.Run("cleared timecode", func(t *testing.T) {
		b := Buffer{Memory: MemoryMmap}
		b.SetTimecode(&tc)
		b.SetTimecode(nil)
		if b.HasTimecode() {
			t.Error("HasTimecode() = true after clearing")
		}
	})
}

func TestBufferString(t *testing.T) {
	b := Buffer{
		Index:     2,
		Type:      BufTypeVideoCapture,
		Memory:    MemoryMmap,
		BytesUsed: 100,
		Length:    200,
		Flags:     BufFlagDone | BufFlagKeyFrame,
		Field:     FieldNone,
		Sequence:  42,
		Timestamp: 2 * time.Second,
	}
	want := "#42 @2 2s video-capture mmap 100/200 done|keyframe"
	if got := b.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	b.Field = FieldInterlaced
	b.Flags = BufFlagQueued | 0x200000
	want = "#42 @2 2s video-capture mmap 100/200 queued|0x200000 interlaced"
	if got := b.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestBufferTypeSupported(t *testing.T) {
	caps := uint32(CapVideoCapture | CapStreaming)
	if !BufTypeVideoCapture.Supported(caps) {
		t.Error("video capture not supported by capture device")
	}
	if BufTypeVideoOutput.Supported(caps) {
		t.Error("video output supported by capture-only device")
	}
	if BufferType(99).Supported(^uint32(0)) {
		t.Error("unknown buffer type reported supported")
	}
}

func TestCapabilityEffective(t *testing.T) {
	tests := []struct {
		name          string
		cap           Capability
		wantEffective uint32
		wantStreaming bool
	}{
		{
			name:          "device caps reported",
			cap:           Capability{Capabilities: CapVideoCapture | CapVideoOutput | CapStreaming | CapDeviceCaps, DeviceCaps: CapVideoOutput | CapStreaming},
			wantEffective: CapVideoOutput | CapStreaming,
			wantStreaming: true,
		},
		{
			name:          "legacy driver",
			cap:           Capability{Capabilities: CapVideoCapture | CapReadWrite},
			wantEffective: CapVideoCapture | CapReadWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cap.Effective(); got != tt.wantEffective {
				t.Errorf("Effective() = %#x, want %#x", got, tt.wantEffective)
			}
			if got := tt.cap.Streaming(); got != tt.wantStreaming {
				t.Errorf("Streaming() = %v, want %v", got, tt.wantStreaming)
			}
		})
	}
}
