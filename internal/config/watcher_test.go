package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type watchedConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadWatchedConfig(path string) (watchedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return watchedConfig{}, err
	}
	var cfg watchedConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, path string, loader func(string) (watchedConfig, error), opts ...WatcherOption[watchedConfig]) *Watcher[watchedConfig] {
	t.Helper()
	opts = append([]WatcherOption[watchedConfig]{WithDebounce[watchedConfig](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loader, newTestLogger(), opts...)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	return w
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("name = \"initial\"\nvalue = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, loadWatchedConfig)
	received := make(chan watchedConfig, 4)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	if err := os.WriteFile(path, []byte("name = \"updated\"\nvalue = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherSeesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, loadWatchedConfig)
	received := make(chan watchedConfig, 4)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	tmp := filepath.Join(dir, "config.toml.tmp")
	if err := os.WriteFile(tmp, []byte("value = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 7 {
			t.Errorf("Value = %d, want 7", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var loads atomic.Int32
	loader := func(p string) (watchedConfig, error) {
		loads.Add(1)
		return loadWatchedConfig(p)
	}
	w := startWatcher(t, path, loader, WithDebounce[watchedConfig](300*time.Millisecond))
	received := make(chan watchedConfig, 10)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	for i := 1; i <= 5; i++ {
		data, _ := toml.Marshal(watchedConfig{Value: i})
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 5 {
			t.Errorf("Value = %d, want the last write", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	time.Sleep(400 * time.Millisecond)
	if n := loads.Load(); n != 1 {
		t.Errorf("loader ran %d times, want 1", n)
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, loadWatchedConfig)
	var removed atomic.Int32
	unsubscribe := w.OnReload(func(watchedConfig) { removed.Add(1) })
	kept := make(chan watchedConfig, 4)
	w.OnReload(func(cfg watchedConfig) { kept <- cfg })
	unsubscribe()

	if err := os.WriteFile(path, []byte("value = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-kept:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if removed.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 4)
	w := startWatcher(t, path, loadWatchedConfig, WithErrorHandler[watchedConfig](func(err error) { errs <- err }))
	var called atomic.Bool
	w.OnReload(func(watchedConfig) { called.Store(true) })

	if err := os.WriteFile(path, []byte("value = [\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		var decodeErr *toml.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("error = %v, want *toml.DecodeError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for load error")
	}
	if called.Load() {
		t.Error("handler called with a config that failed to load")
	}
}

func TestWatcherStopBeforeStart(t *testing.T) {
	w := NewConfigWatcher("unused.toml", loadWatchedConfig, newTestLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
