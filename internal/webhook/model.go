package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// Webhook is one configured notification endpoint.
type Webhook struct {
	Name string `yaml:"name" toml:"name" json:"name"`
	URL  string `yaml:"url" toml:"url" json:"url"`
	Type string `yaml:"type" toml:"type" json:"type"`
	// Events lists event types to deliver; empty or "*" means all.
	Events []string `yaml:"events" toml:"events" json:"events"`
	// Secret, when set, signs generic payloads with HMAC-SHA256.
	Secret string `yaml:"secret" toml:"secret" json:"-"`
}

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// Matches reports whether the webhook subscribes to eventType.
func (w *Webhook) Matches(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	return slices.Contains(w.Events, "*") || slices.Contains(w.Events, eventType)
}

// Validate checks the URL and type.
func (w *Webhook) Validate() error {
	if w.Name == "" {
		return errors.New("webhook name is required")
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook %q: url must be an absolute http(s) URL", w.Name)
	}
	switch w.Type {
	case "", TypeGeneric, TypeDiscord, TypeSlack, TypeGotify:
	default:
		return fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type)
	}
	return nil
}
