package watcher

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHandler collects processed paths and removes them like a real
// handler would.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (h *recordingHandler) handle(_ context.Context, path string) error {
	h.mu.Lock()
	h.calls = append(h.calls, filepath.Base(path))
	fail := h.fail
	h.mu.Unlock()
	if fail {
		return errors.New("conversion failed")
	}
	return os.Remove(path)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestExistingFilesProcessedOnStart(t *testing.T) {
	inbox := t.TempDir()
	for _, name := range []string{"a.png", "b.JPG", "notes.txt", ".hidden.png"} {
		if err := os.WriteFile(filepath.Join(inbox, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h := &recordingHandler{}
	svc := NewService(inbox, h.handle, nil, testLogger())
	svc.SetSettle(20 * time.Millisecond)
	svc.ForcePoll(true)
	startService(t, svc)

	waitFor(t, 2*time.Second, func() bool { return h.count() == 2 })
	time.Sleep(100 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.calls) != 2 || h.calls[0] != "a.png" || h.calls[1] != "b.JPG" {
		t.Errorf("calls = %v, want [a.png b.JPG]", h.calls)
	}
}

func TestNotifyPicksUpNewFile(t *testing.T) {
	inbox := t.TempDir()
	if !ProbeFSNotify(inbox, 2*time.Second) {
		t.Skip("fsnotify not delivering events here")
	}

	bus := event.NewBus(testLogger(), 16)
	go bus.Start()
	t.Cleanup(bus.Stop)
	var detected sync.WaitGroup
	detected.Add(1)
	var once sync.Once
	bus.Subscribe(event.WatchFileDetected, func(_ event.Event) { once.Do(detected.Done) })

	h := &recordingHandler{}
	svc := NewService(inbox, h.handle, bus, testLogger())
	svc.SetSettle(50 * time.Millisecond)
	startService(t, svc)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(inbox, "logo.png"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.count() == 1 })
	detected.Wait()
}

func TestPollPicksUpNewFile(t *testing.T) {
	inbox := t.TempDir()
	h := &recordingHandler{}
	svc := NewService(inbox, h.handle, nil, testLogger())
	svc.SetSettle(20 * time.Millisecond)
	svc.SetPollInterval(30 * time.Millisecond)
	svc.ForcePoll(true)
	startService(t, svc)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(inbox, "late.webp"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })
}

func TestFailedFileNotRetriedUntilChanged(t *testing.T) {
	inbox := t.TempDir()
	path := filepath.Join(inbox, "broken.png")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &recordingHandler{fail: true}
	svc := NewService(inbox, h.handle, nil, testLogger())
	svc.SetSettle(10 * time.Millisecond)
	svc.SetPollInterval(20 * time.Millisecond)
	svc.ForcePoll(true)
	startService(t, svc)

	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })
	time.Sleep(150 * time.Millisecond)
	if got := h.count(); got != 1 {
		t.Fatalf("unchanged failed file retried: %d calls", got)
	}

	h.mu.Lock()
	h.fail = false
	h.mu.Unlock()
	later := time.Now().Add(time.Minute)
	if err := os.WriteFile(path, []byte("version two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return h.count() == 2 })
}

func TestEligible(t *testing.T) {
	svc := NewService("/in", nil, nil, testLogger())
	tests := []struct {
		path string
		want bool
	}{
		{"/in/a.png", true},
		{"/in/a.JPEG", true},
		{"/in/a.bmp", true},
		{"/in/a.txt", false},
		{"/in/.a.png", false},
		{"/in/sub/a.png", false},
		{"/other/a.png", false},
	}
	for _, tt := range tests {
		if got := svc.eligible(tt.path); got != tt.want {
			t.Errorf("eligible(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestProbeFSNotify_NonexistentDir(t *testing.T) {
	if ProbeFSNotify("/nonexistent/path/that/does/not/exist", 200*time.Millisecond) {
		t.Error("expected unsupported for nonexistent dir")
	}
}

func TestProbeFSNotify_LeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	_ = ProbeFSNotify(dir, time.Second)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe left %d entries behind", len(entries))
	}
}

func whitePNG(t *testing.T, size int) []byte {
	t.Helper()
	m := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			m.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestProcessor_WritesBundleAndRetiresSource(t *testing.T) {
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	outbox := filepath.Join(root, "outbox")
	processed := filepath.Join(inbox, "processed")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(inbox, "brand.png")
	if err := os.WriteFile(src, whitePNG(t, 32), 0o644); err != nil {
		t.Fatal(err)
	}

	conv := convert.New(convert.DefaultOptions(), testLogger())
	p := NewProcessor(ProcessorConfig{
		Outbox:       outbox,
		ProcessedDir: processed,
		BundleFormat: bundle.FormatTarZst,
		Sizes:        []convert.Size{{Width: 16, Height: 16}, {Width: 32, Height: 32}},
	}, conv, nil, nil, testLogger())

	if err := p.Process(context.Background(), src); err != nil {
		t.Fatalf("Process: %v", err)
	}

	f, err := os.Open(filepath.Join(outbox, "brand_icons.tar.zst"))
	if err != nil {
		t.Fatalf("bundle missing: %v", err)
	}
	defer f.Close() //nolint:errcheck
	files, err := bundle.Read(f, bundle.FormatTarZst)
	if err != nil {
		t.Fatalf("reading bundle: %v", err)
	}
	if len(files) != 6 {
		t.Errorf("bundle has %d files, want 6", len(files))
	}

	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Error("source still in inbox")
	}
	if _, err := os.Stat(filepath.Join(processed, "brand.png")); err != nil {
		t.Errorf("source not moved to processed: %v", err)
	}
}

func TestProcessor_RejectsOversized(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.png")
	if err := os.WriteFile(src, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	conv := convert.New(convert.DefaultOptions(), testLogger())
	p := NewProcessor(ProcessorConfig{Outbox: dir, MaxBytes: 1024, Sizes: []convert.Size{{Width: 16, Height: 16}}}, conv, nil, nil, testLogger())
	if err := p.Process(context.Background(), src); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("failed source should stay in the inbox")
	}
}

func TestProcessor_SameStemSourcesKeepSeparateBundles(t *testing.T) {
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	outbox := filepath.Join(root, "outbox")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatal(err)
	}

	conv := convert.New(convert.DefaultOptions(), testLogger())
	p := NewProcessor(ProcessorConfig{
		Outbox: outbox,
		Sizes:  []convert.Size{{Width: 16, Height: 16}},
	}, conv, nil, nil, testLogger())

	for _, name := range []string{"logo.png", "logo.v2.png", "logo.gif"} {
		src := filepath.Join(inbox, name)
		data := whitePNG(t, 16)
		if err := os.WriteFile(src, data, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := p.Process(context.Background(), src); err != nil {
			t.Fatalf("Process(%s): %v", name, err)
		}
	}

	for _, want := range []string{"logo_icons_16x16.zip", "logo_icons_16x16-2.zip", "logo_icons_16x16-3.zip"} {
		if _, err := os.Stat(filepath.Join(outbox, want)); err != nil {
			t.Errorf("missing bundle %s: %v", want, err)
		}
	}
	entries, err := os.ReadDir(outbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("outbox has %d entries, want 3", len(entries))
	}
}

func TestOutboxPath(t *testing.T) {
	dir := t.TempDir()
	got, err := outboxPath(dir, "app_icons", ".zip")
	if err != nil || got != filepath.Join(dir, "app_icons.zip") {
		t.Fatalf("outboxPath = %q, %v", got, err)
	}
	for _, name := range []string{"app_icons.zip", "app_icons-2.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err = outboxPath(dir, "app_icons", ".zip")
	if err != nil || got != filepath.Join(dir, "app_icons-3.zip") {
		t.Errorf("outboxPath = %q, %v; want app_icons-3.zip", got, err)
	}
}
