package output

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// FrameSource produces output frames. Fill writes the next frame into dst
// and returns its length; io.EOF ends the feed.
type FrameSource interface {
	Fill(dst []byte) (int, error)
	Close() error
}

// PatternSource generates YUYV frames of moving vertical bars, so a
// consumer can see that consecutive frames differ.
type PatternSource struct {
	width, height int
	frame         int
}

// barColors are YUV triples of the eight classic colour bars.
var barColors = [8][3]byte{
	{235, 128, 128}, // white
	{210, 16, 146},  // yellow
	{170, 166, 16},  // cyan
	{145, 54, 34},   // green
	{106, 202, 222}, // magenta
	{81, 90, 240},   // red
	{41, 240, 110},  // blue
	{16, 128, 128},  // black
}

// NewPatternSource returns a generator for width x height YUYV frames.
// width must be even.
func NewPatternSource(width, height int) (*PatternSource, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid pattern size %dx%d", width, height)
	}
	return &PatternSource{width: width, height: height}, nil
}

// FrameSize returns the size in bytes of one frame.
func (p *PatternSource) FrameSize() int {
	return p.width * p.height * 2
}

// Fill implements FrameSource. Frames larger than dst are truncated to
// whole lines.
func (p *PatternSource) Fill(dst []byte) (int, error) {
	stride := p.width * 2
	lines := min(p.height, len(dst)/stride)
	if lines == 0 {
		return 0, fmt.Errorf("buffer of %d bytes cannot hold a %d byte line", len(dst), stride)
	}

	barWidth := max(p.width/len(barColors), 1)
	shift := p.frame % p.width
	line := dst[:stride]
	for x := 0; x < p.width; x += 2 {
		c := barColors[((x+shift)/barWidth)%len(barColors)]
		i := x * 2
		line[i], line[i+1], line[i+2], line[i+3] = c[0], c[1], c[0], c[2]
	}
	for y := 1; y < lines; y++ {
		copy(dst[y*stride:(y+1)*stride], line)
	}

	p.frame += 2
	return lines * stride, nil
}

// Close implements FrameSource.
func (p *PatternSource) Close() error { return nil }

// FileSource reads fixed-size frames from a raw file, optionally looping.
type FileSource struct {
	f         *os.File
	frameSize int
	loop      bool
}

// OpenFileSource opens path as a sequence of frameSize-byte frames.
func OpenFileSource(path string, frameSize int, loop bool) (*FileSource, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", frameSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f, frameSize: frameSize, loop: loop}, nil
}

// Fill implements FrameSource. A trailing partial frame ends the feed, or
// rewinds the file when looping.
func (s *FileSource) Fill(dst []byte) (int, error) {
	if len(dst) < s.frameSize {
		return 0, fmt.Errorf("buffer of %d bytes cannot hold a %d byte frame", len(dst), s.frameSize)
	}
	for attempt := 0; attempt < 2; attempt++ {
		n, err := io.ReadFull(s.f, dst[:s.frameSize])
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, err
		}
		if !s.loop {
			return 0, io.EOF
		}
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%s holds no complete frame", s.f.Name())
}

// Close implements FrameSource.
func (s *FileSource) Close() error {
	return s.f.Close()
}
