//go:build linux

package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// FrameSink consumes captured frames. data is only valid for the duration
// of the call; the buffer is handed back to the driver afterwards.
type FrameSink interface {
	WriteFrame(desc v4l2.Buffer, data []byte) error
	Close() error
}

// DiscardSink drops every frame.
type DiscardSink struct{}

// WriteFrame implements FrameSink.
func (DiscardSink) WriteFrame(v4l2.Buffer, []byte) error { return nil }

// Close implements FrameSink.
func (DiscardSink) Close() error { return nil }

// WriterSink appends every frame payload to w.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink returns a sink writing raw payloads back to back.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteFrame implements FrameSink.
func (s *WriterSink) WriteFrame(_ v4l2.Buffer, data []byte) error {
	_, err := s.w.Write(data)
	return err
}

// Close closes the writer if it is an io.Closer.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PatternSink writes each frame to its own file. The pattern is a path
// containing one integer verb, such as "frames/%06d.raw", filled with the
// driver sequence number.
type PatternSink struct {
	pattern string
}

// NewPatternSink creates the pattern's directory and returns the sink.
func NewPatternSink(pattern string) (*PatternSink, error) {
	if !strings.Contains(pattern, "%") {
		return nil, fmt.Errorf("pattern %q has no sequence verb", pattern)
	}
	if err := os.MkdirAll(filepath.Dir(pattern), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &PatternSink{pattern: pattern}, nil
}

// WriteFrame implements FrameSink.
func (s *PatternSink) WriteFrame(desc v4l2.Buffer, data []byte) error {
	return os.WriteFile(fmt.Sprintf(s.pattern, desc.Sequence), data, 0o644)
}

// Close implements FrameSink.
func (s *PatternSink) Close() error { return nil }

// OpenSink picks a sink for an output path: "" or "-" discards, a path
// with a % verb writes one file per frame, "stdout" writes to standard
// output and anything else is created as a single raw file.
func OpenSink(path string) (FrameSink, error) {
	switch {
	case path == "" || path == "-":
		return DiscardSink{}, nil
	case path == "stdout":
		return NewWriterSink(nopCloser{os.Stdout}), nil
	case strings.Contains(path, "%"):
		return NewPatternSink(path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewWriterSink(f), nil
}

type nopCloser struct{ io.Writer }
