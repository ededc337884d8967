//go:build linux

package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/v4l2queue/internal/metrics"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

func TestHTTPHandler(t *testing.T) {
	device := "/dev/video-http-test"
	defer metrics.DeleteStreamMetrics(device)

	obs := metrics.NewObserver(device)
	obs.StreamStateChanged(v4l2.BufTypeVideoCapture, true)
	obs.BufferDequeued(v4l2.Buffer{BytesUsed: 100})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	HTTPHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`v4l2queue_stream_frames_total{device="/dev/video-http-test"} 1`,
		`v4l2queue_stream_streaming{device="/dev/video-http-test"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %q", want)
		}
	}
}
