package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/iconforge/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher(srv *httptest.Server, hooks ...Webhook) *Dispatcher {
	d := NewDispatcherWithHTTPClient(hooks, srv.Client(), testLogger())
	d.baseDelay = time.Millisecond
	return d
}

func completed() event.Event {
	return event.Event{
		Type:      event.ConversionCompleted,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"id": "abc", "source": "brand.png", "artifacts": 21},
	}
}

func TestDispatcher_GenericWebhook(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	var signature, agent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received) //nolint:errcheck
		signature = r.Header.Get(SignatureHeader)
		agent = r.Header.Get("User-Agent")
		if signature != Sign("s3cret", body) {
			signature = "mismatch"
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, Webhook{
		Name:   "test",
		URL:    srv.URL,
		Type:   TypeGeneric,
		Events: []string{"conversion.completed"},
		Secret: "s3cret",
	})
	d.HandleEvent(completed())
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("expected to receive webhook payload")
	}
	if received["event"] != "conversion.completed" {
		t.Errorf("event = %v, want conversion.completed", received["event"])
	}
	if signature == "" || signature == "mismatch" {
		t.Errorf("signature = %q", signature)
	}
	if agent != "iconforge-webhook/dev" {
		t.Errorf("User-Agent = %q", agent)
	}
}

func TestDispatcher_DiscordFormat(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&received) //nolint:errcheck
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, Webhook{Name: "discord", URL: srv.URL, Type: TypeDiscord})
	d.HandleEvent(completed())
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	embeds, ok := received["embeds"].([]any)
	if !ok || len(embeds) == 0 {
		t.Fatalf("expected embeds, got %v", received)
	}
	embed := embeds[0].(map[string]any)
	if want := "Converted brand.png into 21 artifacts (abc)"; embed["description"] != want {
		t.Errorf("description = %v, want %q", embed["description"], want)
	}
}

func TestDispatcher_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, Webhook{Name: "retry-test", URL: srv.URL})
	d.HandleEvent(completed())
	d.Wait()

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDispatcher_MaxRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, Webhook{Name: "maxretry-test", URL: srv.URL})
	d.HandleEvent(completed())
	d.Wait()

	if got := attempts.Load(); got != maxRetries {
		t.Errorf("attempts = %d, want %d", got, maxRetries)
	}
}

func TestDispatcher_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, Webhook{Name: "gone", URL: srv.URL})
	d.HandleEvent(completed())
	d.Wait()

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestDispatcher_NoMatchingWebhooks(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer srv.Close()

	d := newTestDispatcher(srv, Webhook{Name: "other", URL: srv.URL, Events: []string{"backup.completed"}})
	d.HandleEvent(completed())
	d.Wait()

	d.SetWebhooks(nil)
	d.HandleEvent(event.Event{Type: event.BackupCompleted})
	d.Wait()

	if got := attempts.Load(); got != 0 {
		t.Errorf("attempts = %d, want 0", got)
	}
}
