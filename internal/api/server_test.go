//go:build linux

package api

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/v4l2queue/internal/api/models"
	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

func newTestServer(t *testing.T, opts *Options) (*httptest.Server, *events.Bus) {
	t.Helper()
	if opts.EventBus == nil {
		opts.EventBus = events.New()
	}
	opts.AuthUsername = "test"
	opts.AuthPassword = "test"
	server := NewServer(opts)
	ts := httptest.NewServer(server.GetMux())
	t.Cleanup(ts.Close)
	return ts, opts.EventBus
}

func get(t *testing.T, url string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth("test", "test")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// sseData connects to an SSE endpoint and returns its data lines.
func sseData(t *testing.T, url string) <-chan string {
	t.Helper()
	credentials := base64.StdEncoding.EncodeToString([]byte("test:test"))
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	resp := get(t, url+sep+"auth="+credentials, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want an event stream", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data:"); ok {
				lines <- strings.TrimSpace(data)
			}
		}
	}()
	return lines
}

func expectData(t *testing.T, lines <-chan string, substr string) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line := <-lines:
			if strings.Contains(line, substr) {
				return line
			}
		case <-timeout:
			t.Fatalf("no SSE data containing %q", substr)
			return ""
		}
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts, _ := newTestServer(t, &Options{})

	resp := get(t, ts.URL+"/api/health", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body models.HealthData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestStreamStatus(t *testing.T) {
	want := models.StreamStatus{Device: "/dev/video0", Direction: "capture", Running: true, Frames: 42, Buffers: 4, Queued: 3}
	ts, _ := newTestServer(t, &Options{Status: func() models.StreamStatus { return want }})

	if resp := get(t, ts.URL+"/api/stream", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	} else if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	resp := get(t, ts.URL+"/api/stream", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got models.StreamStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("status = %+v, want %+v", got, want)
	}
}

func TestStreamStatusWithoutStream(t *testing.T) {
	ts, _ := newTestServer(t, &Options{})
	if resp := get(t, ts.URL+"/api/stream", true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWrongCredentials(t *testing.T) {
	ts, _ := newTestServer(t, &Options{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stream", nil)
	req.SetBasicAuth("test", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "v4l2queue_up 1")
	})
	ts, _ := newTestServer(t, &Options{PrometheusHandler: handler})

	resp := get(t, ts.URL+"/metrics", false)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "v4l2queue_up") {
		t.Errorf("GET /metrics = %d %q", resp.StatusCode, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, &Options{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/devices", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestEventStream(t *testing.T) {
	ts, bus := newTestServer(t, &Options{})
	lines := sseData(t, ts.URL+"/api/events")

	expectData(t, lines, "SSE connection established")

	bus.Publish(events.StreamStateChangedEvent{Device: "/dev/video7", BufferType: "video-capture", Streaming: true})
	line := expectData(t, lines, "/dev/video7")

	var got events.StreamStateChangedEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if !got.Streaming || got.BufferType != "video-capture" {
		t.Errorf("event = %+v", got)
	}
}

func TestEventStreamDeviceChanges(t *testing.T) {
	ts, bus := newTestServer(t, &Options{})
	lines := sseData(t, ts.URL+"/api/events")
	expectData(t, lines, "SSE connection established")

	bus.Publish(events.DeviceChangedEvent{Action: events.DeviceRemoved, DevicePath: "/dev/video4", DeviceName: "vivid"})
	if line := expectData(t, lines, "/dev/video4"); !strings.Contains(line, `"action":"removed"`) {
		t.Errorf("device event = %s", line)
	}
}

func TestEventStreamFramesAreOptIn(t *testing.T) {
	ts, bus := newTestServer(t, &Options{})
	quiet := sseData(t, ts.URL+"/api/events")
	frames := sseData(t, ts.URL+"/api/events?frames=true")
	expectData(t, quiet, "SSE connection established")
	expectData(t, frames, "SSE connection established")

	bus.Publish(events.FrameEvent{Device: "/dev/video3", Sequence: 9})
	bus.Publish(events.StreamErrorEvent{Device: "/dev/video3", Error: "gone"})

	expectData(t, frames, `"sequence":9`)
	if line := expectData(t, quiet, "/dev/video3"); !strings.Contains(line, "gone") {
		t.Errorf("client without frames=true got %q", line)
	}
}

func TestMetricsStream(t *testing.T) {
	ts, bus := newTestServer(t, &Options{})
	lines := sseData(t, ts.URL+"/api/metrics")
	expectData(t, lines, "SSE connection established")

	bus.Publish(events.StreamMetricsEvent{Device: "/dev/video5", FPS: 30})
	if line := expectData(t, lines, "/dev/video5"); !strings.Contains(line, `"fps":30`) {
		t.Errorf("metrics event = %s", line)
	}
}

func TestLogStreamReplaysBuffer(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logging.GetLogger("api-test").Info("replayed entry", "n", 1)

	ts, bus := newTestServer(t, &Options{})
	ForwardLogs(bus)
	t.Cleanup(func() { logging.SetLogCallback(nil) })

	lines := sseData(t, ts.URL+"/api/logs/stream")
	expectData(t, lines, "replayed entry")

	logging.GetLogger("api-test").Warn("live entry")
	line := expectData(t, lines, "live entry")
	if !strings.Contains(line, `"level":"warn"`) {
		t.Errorf("log event = %s", line)
	}
}

func TestTranslateCapabilities(t *testing.T) {
	got := translateCapabilities(v4l2.CapStreaming | v4l2.CapVideoCapture | v4l2.CapVideoOutput)
	want := []string{"Video Capture", "Video Output", "Streaming I/O"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("translateCapabilities() = %v, want %v", got, want)
	}
	if got := translateCapabilities(0); len(got) != 0 {
		t.Errorf("translateCapabilities(0) = %v, want none", got)
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		method string
		path   string
		status int
		want   slog.Level
	}{
		{http.MethodGet, "/api/stream", 200, slog.LevelInfo},
		{http.MethodGet, "/api/health", 200, slog.LevelDebug},
		{http.MethodOptions, "/api/devices", 204, slog.LevelDebug},
		{http.MethodGet, "/api/stream", 401, slog.LevelWarn},
		{http.MethodGet, "/api/health", 500, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.method, tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%s, %s, %d) = %v, want %v", tt.method, tt.path, tt.status, got, tt.want)
		}
	}
}
