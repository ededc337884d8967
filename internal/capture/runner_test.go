//go:build linux

package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/metrics"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

type fakeFrame struct {
	desc     v4l2.Buffer
	data     []byte
	released *int
}

func (f *fakeFrame) Bytes() []byte           { return f.data }
func (f *fakeFrame) Descriptor() v4l2.Buffer { return f.desc }
func (f *fakeFrame) Release()                { *f.released++ }

// fakeStream produces frames with increasing sequence numbers, reporting
// each dequeue to the observer like the real pool does.
type fakeStream struct {
	observer v4l2.Observer
	sequence uint32
	released int
	closed   int
	failAt   uint32
	block    bool
}

func (s *fakeStream) next(ctx context.Context) (frame, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.failAt != 0 && s.sequence == s.failAt {
		return nil, &v4l2.IoctlError{Op: "VIDIOC_DQBUF", Errno: 19}
	}
	desc := v4l2.Buffer{Index: s.sequence % 4, Sequence: s.sequence, BytesUsed: 4}
	if s.sequence == 1 {
		desc.Flags = v4l2.BufFlagError
	}
	s.observer.BufferDequeued(desc)
	s.sequence++
	return &fakeFrame{desc: desc, data: []byte{byte(desc.Sequence), 0, 0, 0}, released: &s.released}, nil
}

func (s *fakeStream) Stats() v4l2.PoolStats { return v4l2.PoolStats{Buffers: 4, Queued: 3} }
func (s *fakeStream) Len() int              { return 4 }
func (s *fakeStream) Close() error          { s.closed++; return nil }

func newTestRunner(t *testing.T, cfg Config, sink FrameSink, bus *events.Bus, stream *fakeStream) *Runner {
	t.Helper()
	if cfg.Device == "" {
		cfg.Device = "/dev/video-" + t.Name()
	}
	t.Cleanup(func() { metrics.DeleteStreamMetrics(cfg.Device) })
	r := NewRunner(cfg, sink, bus)
	r.open = func(obs v4l2.Observer) (frameStream, error) {
		stream.observer = obs
		return stream, nil
	}
	return r
}

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *recordingSink) WriteFrame(_ v4l2.Buffer, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), data...))
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func TestRunnerStopsAtFrameLimit(t *testing.T) {
	stream := &fakeStream{}
	sink := &recordingSink{}
	r := newTestRunner(t, Config{Frames: 5}, sink, nil, stream)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.frames) != 5 {
		t.Fatalf("sink got %d frames, want 5", len(sink.frames))
	}
	for i, f := range sink.frames {
		if f[0] != byte(i) {
			t.Errorf("frame %d payload = %v", i, f)
		}
	}
	if stream.released != 5 {
		t.Errorf("released %d frames, want 5", stream.released)
	}
	if stream.closed != 1 {
		t.Errorf("stream closed %d times, want 1", stream.closed)
	}

	st := r.Stats()
	if st.Running || st.Frames != 5 || st.Bytes != 20 || st.Corrupted != 1 || st.LastSequence != 4 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Buffers != 4 || st.Pool.Queued != 3 {
		t.Errorf("Stats() pool = %+v, buffers %d", st.Pool, st.Buffers)
	}

	m := metrics.GetStreamMetrics(st.Device)
	if m == nil || m.Frames != 5 || m.Errors != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestRunnerCancellationIsNotAnError(t *testing.T) {
	stream := &fakeStream{block: true}
	r := newTestRunner(t, Config{}, DiscardSink{}, nil, stream)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !r.Stats().Running && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !r.Stats().Running {
		t.Fatal("runner never reported running")
	}
	if err := r.Run(context.Background()); err == nil {
		t.Error("second concurrent Run succeeded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if stream.closed != 1 {
		t.Errorf("stream closed %d times, want 1", stream.closed)
	}
}

func TestRunnerReportsStreamErrors(t *testing.T) {
	bus := events.New()
	errs := make(chan events.StreamErrorEvent, 1)
	defer bus.Subscribe(func(e events.StreamErrorEvent) { errs <- e })()

	stream := &fakeStream{failAt: 3}
	r := newTestRunner(t, Config{}, DiscardSink{}, bus, stream)

	err := r.Run(context.Background())
	var ioctlErr *v4l2.IoctlError
	if !errors.As(err, &ioctlErr) {
		t.Fatalf("Run() error = %v, want *v4l2.IoctlError", err)
	}
	if r.Stats().Frames != 3 {
		t.Errorf("Frames = %d, want 3", r.Stats().Frames)
	}

	select {
	case e := <-errs:
		if e.Device != r.cfg.Device || e.Error != err.Error() {
			t.Errorf("error event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no StreamErrorEvent published")
	}
}

func TestRunnerSinkErrorReleasesFrame(t *testing.T) {
	stream := &fakeStream{}
	sink := &recordingSink{err: errors.New("disk full")}
	r := newTestRunner(t, Config{}, sink, nil, stream)

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with failing sink")
	}
	if stream.released != 1 {
		t.Errorf("released %d frames, want 1", stream.released)
	}
	if stream.closed != 1 {
		t.Error("stream not closed after sink error")
	}
}

func TestRunnerOpenFailure(t *testing.T) {
	r := NewRunner(Config{Device: "/dev/video-open-failure"}, DiscardSink{}, nil)
	want := errors.New("no such device")
	r.open = func(v4l2.Observer) (frameStream, error) { return nil, want }

	if err := r.Run(context.Background()); !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
	if r.Stats().Running {
		t.Error("runner reports running after open failure")
	}
}

func TestRunnerDefaults(t *testing.T) {
	r := NewRunner(Config{Device: "/dev/video0"}, DiscardSink{}, nil)
	if r.cfg.Memory.Memory() != v4l2.MemoryMmap {
		t.Errorf("default memory = %v, want mmap", r.cfg.Memory.Memory())
	}
	if r.cfg.Buffers != 4 {
		t.Errorf("default buffers = %d, want 4", r.cfg.Buffers)
	}
}

func TestOpenSink(t *testing.T) {
	dir := t.TempDir()

	sink, err := OpenSink(filepath.Join(dir, "sub", "out.raw"))
	if err != nil {
		t.Fatal(err)
	}
	for i := byte(0); i < 3; i++ {
		if err := sink.WriteFrame(v4l2.Buffer{}, []byte{i, i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "out.raw"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0, 0, 1, 1, 2, 2}) {
		t.Errorf("file contents = %v", data)
	}

	pattern, err := OpenSink(filepath.Join(dir, "frames", "%03d.raw"))
	if err != nil {
		t.Fatal(err)
	}
	if err := pattern.WriteFrame(v4l2.Buffer{Sequence: 7}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "frames", "007.raw")); err != nil {
		t.Errorf("per-frame file missing: %v", err)
	}

	if s, err := OpenSink("-"); err != nil || s != (DiscardSink{}) {
		t.Errorf("OpenSink(-) = %v, %v", s, err)
	}
	if _, err := NewPatternSink(filepath.Join(dir, "plain.raw")); err == nil {
		t.Error("pattern without verb accepted")
	}
}
