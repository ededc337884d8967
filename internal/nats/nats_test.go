package nats

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/v4l2queue/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(ServerOptions{Port: -1, Name: "test-server", Logger: quietLogger()})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("nats.Connect() error = %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(ServerOptions{Port: -1, Logger: quietLogger()})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !srv.IsRunning() {
		t.Error("server not running after Start()")
	}
	if srv.ClientURL() == "" {
		t.Error("ClientURL() is empty")
	}
	srv.Stop()
	if srv.IsRunning() {
		t.Error("server running after Stop()")
	}
}

func TestDeviceToken(t *testing.T) {
	tests := []struct {
		device string
		want   string
	}{
		{"/dev/video0", "video0"},
		{"/dev/v4l/by-id/usb-046d_C920.1-video-index0", "v4l_by-id_usb-046d_C920_1-video-index0"},
		{"video3", "video3"},
		{"", "_"},
		{"/dev/", "_"},
	}
	for _, tt := range tests {
		if got := DeviceToken(tt.device); got != tt.want {
			t.Errorf("DeviceToken(%q) = %q, want %q", tt.device, got, tt.want)
		}
	}
}

func TestSubjects(t *testing.T) {
	tests := []struct {
		fn   func(string) string
		want string
	}{
		{SubjectStreamState, "v4l2queue.streams.video0.state"},
		{SubjectStreamMetrics, "v4l2queue.streams.video0.metrics"},
		{SubjectStreamErrors, "v4l2queue.streams.video0.errors"},
		{SubjectControlRestart, "v4l2queue.control.video0.restart"},
	}
	for _, tt := range tests {
		if got := tt.fn("/dev/video0"); got != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
}

func TestPublisherForwardsEvents(t *testing.T) {
	srv := startServer(t)
	nc := connect(t, srv.ClientURL())

	msgs := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("v4l2queue.>", msgs)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	bus := events.New()
	pub := NewPublisher(srv.ClientURL(), bus, quietLogger())
	if err := pub.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pub.Stop()
	if !pub.IsConnected() {
		t.Fatal("publisher not connected")
	}

	bus.Publish(events.StreamStateChangedEvent{Device: "/dev/video0", BufferType: "video-capture", Streaming: true})
	bus.Publish(events.DeviceChangedEvent{Action: events.DeviceAdded, DevicePath: "/dev/video2"})

	seen := map[string][]byte{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case m := <-msgs:
			seen[m.Subject] = m.Data
		case <-deadline:
			t.Fatalf("received %d subjects, want 2: %v", len(seen), seen)
		}
	}

	var state events.StreamStateChangedEvent
	if err := json.Unmarshal(seen["v4l2queue.streams.video0.state"], &state); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if !state.Streaming || state.BufferType != "video-capture" {
		t.Errorf("state = %+v", state)
	}

	var dev events.DeviceChangedEvent
	if err := json.Unmarshal(seen[SubjectDevices], &dev); err != nil {
		t.Fatalf("device payload: %v", err)
	}
	if dev.Action != events.DeviceAdded || dev.DevicePath != "/dev/video2" {
		t.Errorf("device event = %+v", dev)
	}
}

func TestPublisherControl(t *testing.T) {
	srv := startServer(t)
	nc := connect(t, srv.ClientURL())

	got := make(chan string, 2)
	pub := NewPublisher(srv.ClientURL(), events.New(), quietLogger())
	pub.OnControl(func(device string, msg ControlMessage) {
		got <- device + " " + msg.Reason
	}, "/dev/video0")
	if err := pub.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pub.Stop()

	send := func(subject string, msg ControlMessage) {
		t.Helper()
		data, err := msg.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if err := nc.Publish(subject, data); err != nil {
			t.Fatal(err)
		}
	}
	send(SubjectControlRestart("/dev/video1"), ControlMessage{Action: ActionRestart, Reason: "other device"})
	send(SubjectControlRestart("/dev/video0"), ControlMessage{Action: "pause", Reason: "unknown action"})
	send(SubjectControlRestart("/dev/video0"), ControlMessage{Action: ActionRestart, Reason: "manual"})
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-got:
		if s != "/dev/video0 manual" {
			t.Errorf("control = %q, want /dev/video0 manual", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control callback not called")
	}
	select {
	case s := <-got:
		t.Errorf("unexpected control %q", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublisherWithoutServer(t *testing.T) {
	pub := NewPublisher("nats://127.0.0.1:1", events.New(), quietLogger())
	if err := pub.Start(); err == nil {
		t.Fatal("Start() succeeded without a server")
	}
	if pub.IsConnected() {
		t.Error("IsConnected() = true")
	}
	pub.Stop()
}

func TestControlMessageRoundTrip(t *testing.T) {
	data, err := ControlMessage{Action: ActionRestart, Reason: "test"}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := UnmarshalControl(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Action != ActionRestart || msg.Reason != "test" {
		t.Errorf("msg = %+v", msg)
	}
	if _, err := UnmarshalControl([]byte("{")); err == nil {
		t.Error("UnmarshalControl accepted truncated JSON")
	}
}
