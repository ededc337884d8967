//go:build linux

package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/pkg/linuxav/hotplug"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// fakeScanner returns whatever list was set last.
type fakeScanner struct {
	mu    sync.Mutex
	list  []v4l2.DeviceInfo
	err   error
	calls int
}

func (f *fakeScanner) set(list ...v4l2.DeviceInfo) {
	f.mu.Lock()
	f.list = list
	f.mu.Unlock()
}

func (f *fakeScanner) scan() ([]v4l2.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]v4l2.DeviceInfo(nil), f.list...), f.err
}

func (f *fakeScanner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var (
	webcam = v4l2.DeviceInfo{DevicePath: "/dev/video0", DeviceName: "C920", DeviceID: "usb-046d_C920-video-index0", Caps: uint32(v4l2.CapVideoCapture)}
	vivid  = v4l2.DeviceInfo{DevicePath: "/dev/video2", DeviceName: "vivid", DeviceID: "platform-vivid.0-video-index0", Caps: uint32(v4l2.CapVideoOutput)}
)

func actions(changes []events.DeviceChangedEvent) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Action + " " + c.DevicePath
	}
	return out
}

func TestRescanReportsDifferences(t *testing.T) {
	scanner := &fakeScanner{}
	w := NewWatcher(nil, WithScanner(scanner.scan))

	steps := []struct {
		name string
		list []v4l2.DeviceInfo
		want []string
	}{
		{name: "initial", list: []v4l2.DeviceInfo{vivid, webcam}, want: []string{"added /dev/video2", "added /dev/video0"}},
		{name: "unchanged", list: []v4l2.DeviceInfo{webcam, vivid}, want: []string{}},
		{name: "unplugged", list: []v4l2.DeviceInfo{vivid}, want: []string{"removed /dev/video0"}},
		{
			name: "renumbered",
			list: []v4l2.DeviceInfo{{DevicePath: "/dev/video5", DeviceName: "vivid", DeviceID: vivid.DeviceID, Caps: vivid.Caps}},
			want: []string{"changed /dev/video5"},
		},
		{name: "all gone", list: nil, want: []string{"removed /dev/video5"}},
	}

	for _, step := range steps {
		scanner.set(step.list...)
		got := actions(w.Rescan())
		if len(got) != len(step.want) {
			t.Fatalf("%s: changes = %v, want %v", step.name, got, step.want)
		}
		for i := range got {
			if got[i] != step.want[i] {
				t.Errorf("%s: changes = %v, want %v", step.name, got, step.want)
				break
			}
		}
	}
}

func TestRescanKeepsInventoryOnError(t *testing.T) {
	scanner := &fakeScanner{}
	scanner.set(webcam)
	w := NewWatcher(nil, WithScanner(scanner.scan))
	w.Rescan()

	scanner.mu.Lock()
	scanner.err = errors.New("sysfs unavailable")
	scanner.mu.Unlock()
	if changes := w.Rescan(); changes != nil {
		t.Errorf("Rescan() after error = %v, want nil", changes)
	}
	if got := w.Devices(); len(got) != 1 || got[0] != webcam {
		t.Errorf("Devices() = %+v, want the webcam", got)
	}
}

func TestRescanPublishes(t *testing.T) {
	bus := events.New()
	received := make(chan events.DeviceChangedEvent, 2)
	defer bus.Subscribe(func(e events.DeviceChangedEvent) { received <- e })()

	scanner := &fakeScanner{}
	scanner.set(vivid)
	NewWatcher(bus, WithScanner(scanner.scan)).Rescan()

	select {
	case e := <-received:
		if e.Action != events.DeviceAdded || e.DeviceID != vivid.DeviceID || e.Caps != vivid.Caps || e.Timestamp == "" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no DeviceChangedEvent published")
	}
}

func TestDevicesSortedByPath(t *testing.T) {
	scanner := &fakeScanner{}
	scanner.set(vivid, webcam)
	w := NewWatcher(nil, WithScanner(scanner.scan))
	w.Rescan()

	got := w.Devices()
	if len(got) != 2 || got[0].DevicePath != "/dev/video0" || got[1].DevicePath != "/dev/video2" {
		t.Errorf("Devices() = %+v", got)
	}
}

func TestUeventsCollapseIntoOneRescan(t *testing.T) {
	scanner := &fakeScanner{}
	w := NewWatcher(nil, WithScanner(scanner.scan), WithSettle(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.loop(ctx)
		close(done)
	}()

	for _, action := range []string{hotplug.ActionAdd, hotplug.ActionBind, hotplug.ActionChange, hotplug.ActionAdd} {
		w.handle(hotplug.Event{Action: action, DevName: "video4", Subsystem: hotplug.SubsystemVideo4Linux})
	}

	deadline := time.Now().Add(time.Second)
	for scanner.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	if got := scanner.count(); got != 1 {
		t.Errorf("scans = %d, want 1", got)
	}
}

func TestUnbindDoesNotRescan(t *testing.T) {
	w := NewWatcher(nil, WithScanner((&fakeScanner{}).scan))
	w.handle(hotplug.Event{Action: hotplug.ActionUnbind})

	select {
	case <-w.trigger:
		t.Error("unbind scheduled a rescan")
	default:
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "usb-cam-video-index0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	oldDirs, oldLookup := linkDirs, lookupID
	t.Cleanup(func() { linkDirs, lookupID = oldDirs, oldLookup })
	linkDirs = []string{filepath.Join(dir, "missing"), dir}
	lookupID = func(id string) (string, error) {
		if id == "platform-vivid.0-video-index1" {
			return "/dev/video3", nil
		}
		return "", errors.New("not found")
	}

	tests := []struct {
		device  string
		want    string
		wantErr bool
	}{
		{device: "/dev/video0", want: "/dev/video0"},
		{device: "usb-cam-video-index0", want: filepath.Join(dir, "usb-cam-video-index0")},
		{device: "platform-vivid.0-video-index1", want: "/dev/video3"},
		{device: "unknown", wantErr: true},
		{device: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			got, err := Resolve(tt.device)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.device, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.device, got, tt.want)
			}
		})
	}
}
