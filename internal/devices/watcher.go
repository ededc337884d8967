//go:build linux

// Package devices tracks which V4L2 nodes are present and announces changes
// on the event bus.
package devices

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/v4l2queue/internal/events"
	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/pkg/linuxav/hotplug"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// DefaultSettle is how long the watcher waits after the last uevent before
// it rescans, so udev can finish creating nodes and by-id links.
const DefaultSettle = time.Second

// Watcher keeps the set of streaming-capable devices current.
type Watcher struct {
	bus    *events.Bus
	logger *slog.Logger
	scan   func() ([]v4l2.DeviceInfo, error)
	settle time.Duration

	mu    sync.Mutex
	known map[string]v4l2.DeviceInfo // by DeviceID

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithScanner replaces v4l2.FindDevices as the source of the device list.
func WithScanner(scan func() ([]v4l2.DeviceInfo, error)) Option {
	return func(w *Watcher) { w.scan = scan }
}

// NewWatcher creates a watcher publishing to bus. bus may be nil.
func NewWatcher(bus *events.Bus, opts ...Option) *Watcher {
	w := &Watcher{
		bus:     bus,
		logger:  logging.GetLogger("devices"),
		scan:    v4l2.FindDevices,
		settle:  DefaultSettle,
		known:   make(map[string]v4l2.DeviceInfo),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start takes the initial inventory and follows kernel uevents until ctx is
// done or Stop is called. When the uevent socket cannot be opened the
// inventory is still taken and the error is returned.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.Rescan()
	w.logger.Info("Initialized with V4L2 devices", "count", len(w.Devices()))

	mon, err := hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
	if err != nil {
		return err
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		defer mon.Close()
		if runErr := mon.Run(ctx, w.handle); runErr != nil && !errors.Is(runErr, context.Canceled) {
			w.logger.Error("Uevent monitor stopped", "error", runErr)
		}
	}()
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	w.logger.Info("Device monitoring started")
	return nil
}

// Stop ends monitoring and waits for the goroutines to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) handle(ev hotplug.Event) {
	switch ev.Action {
	case hotplug.ActionAdd, hotplug.ActionRemove, hotplug.ActionChange:
	default:
		return
	}
	w.logger.Debug("Uevent", "action", ev.Action, "node", ev.Node(), "kobj", ev.KObj)
	w.notify()
}

// notify schedules a rescan. Bursts collapse into one.
func (w *Watcher) notify() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// loop rescans once no trigger has arrived for the settle period.
func (w *Watcher) loop(ctx context.Context) {
	timer := time.NewTimer(w.settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			timer.Reset(w.settle)
		case <-timer.C:
			w.Rescan()
		}
	}
}

// Rescan compares the current device list with the last one, publishes a
// DeviceChangedEvent per difference and returns them.
func (w *Watcher) Rescan() []events.DeviceChangedEvent {
	current, err := w.scan()
	if err != nil {
		w.logger.Error("Failed to list devices", "error", err)
		return nil
	}

	found := make(map[string]v4l2.DeviceInfo, len(current))
	for _, dev := range current {
		found[dev.DeviceID] = dev
	}

	now := time.Now().Format(time.RFC3339)
	var changes []events.DeviceChangedEvent

	w.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(w.known)) {
		if _, ok := found[id]; !ok {
			changes = append(changes, changeEvent(events.DeviceRemoved, w.known[id], now))
			delete(w.known, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(found)) {
		dev := found[id]
		old, ok := w.known[id]
		switch {
		case !ok:
			changes = append(changes, changeEvent(events.DeviceAdded, dev, now))
		case old != dev:
			changes = append(changes, changeEvent(events.DeviceChanged, dev, now))
		default:
			continue
		}
		w.known[id] = dev
	}
	w.mu.Unlock()

	for _, c := range changes {
		w.logger.Info("Device "+c.Action, "device", c.DevicePath, "name", c.DeviceName, "id", c.DeviceID)
		if w.bus != nil {
			w.bus.Publish(c)
		}
	}
	return changes
}

// Devices returns the last inventory ordered by path.
func (w *Watcher) Devices() []v4l2.DeviceInfo {
	w.mu.Lock()
	list := slices.Collect(maps.Values(w.known))
	w.mu.Unlock()

	slices.SortFunc(list, func(a, b v4l2.DeviceInfo) int {
		return strings.Compare(a.DevicePath, b.DevicePath)
	})
	return list
}

func changeEvent(action string, dev v4l2.DeviceInfo, ts string) events.DeviceChangedEvent {
	return events.DeviceChangedEvent{
		Action:     action,
		DevicePath: dev.DevicePath,
		DeviceName: dev.DeviceName,
		DeviceID:   dev.DeviceID,
		Caps:       dev.Caps,
		Timestamp:  ts,
	}
}
