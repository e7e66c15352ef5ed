package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_AppliesValidEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { got <- c }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	// let the watcher register before editing
	time.Sleep(100 * time.Millisecond)

	// invalid edit is ignored
	if err := os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDebounce)
	select {
	case c := <-got:
		t.Fatalf("invalid config applied: %+v", c.Server)
	default:
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\nretention:\n  hours: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Logging.Level != "debug" || c.Retention.Hours != 5 {
			t.Errorf("reloaded = %+v %+v", c.Logging, c.Retention)
		}
	case <-time.After(3 * time.Second):
		t.Skip("no fsnotify events delivered on this filesystem")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yaml"), func(*Config) {}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Error("expected error for missing directory")
	}
}
