package webhook

import (
	"strings"
	"testing"

	"github.com/sydlexius/iconforge/internal/event"
)

func TestWebhook_Matches(t *testing.T) {
	tests := []struct {
		events []string
		typ    string
		want   bool
	}{
		{nil, "conversion.completed", true},
		{[]string{"*"}, "backup.completed", true},
		{[]string{"conversion.failed"}, "conversion.failed", true},
		{[]string{"conversion.failed"}, "conversion.completed", false},
	}
	for _, tt := range tests {
		w := Webhook{Events: tt.events}
		if got := w.Matches(tt.typ); got != tt.want {
			t.Errorf("Matches(%v, %q) = %v, want %v", tt.events, tt.typ, got, tt.want)
		}
	}
}

func TestWebhook_Validate(t *testing.T) {
	tests := []struct {
		name string
		hook Webhook
		want string
	}{
		{"ok", Webhook{Name: "a", URL: "https://example.com/hook"}, ""},
		{"gotify", Webhook{Name: "a", URL: "http://gotify:80/message", Type: TypeGotify}, ""},
		{"no name", Webhook{URL: "https://example.com"}, "name is required"},
		{"relative", Webhook{Name: "a", URL: "/hook"}, "absolute"},
		{"scheme", Webhook{Name: "a", URL: "ftp://example.com"}, "absolute"},
		{"type", Webhook{Name: "a", URL: "https://example.com", Type: "teams"}, "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hook.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		e    event.Event
		want string
	}{
		{event.Event{Type: event.ConversionFailed, Data: map[string]any{"source": "a.gif", "error": "boom"}}, "Converting a.gif failed: boom"},
		{event.Event{Type: event.ConversionDeleted, Data: map[string]any{"id": "x1"}}, "Deleted conversion x1"},
		{event.Event{Type: event.RetentionPruned, Data: map[string]any{"count": 4}}, "Pruned 4 expired conversions"},
		{event.Event{Type: event.WatchFileDetected}, "watch.file.detected"},
	}
	for _, tt := range tests {
		if got := describe(tt.e); got != tt.want {
			t.Errorf("describe(%s) = %q, want %q", tt.e.Type, got, tt.want)
		}
	}
}
