package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/sydlexius/iconforge/internal/event"
)

// formatPayload returns the request body and content-type for a webhook delivery.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	switch w.Type {
	case TypeDiscord:
		return formatDiscord(e)
	case TypeSlack:
		return formatSlack(e)
	case TypeGotify:
		return formatGotify(e)
	default:
		return formatGeneric(e)
	}
}

func formatGeneric(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatDiscord(e event.Event) ([]byte, string) {
	color := 3447003 // blue
	if e.Type == event.ConversionFailed {
		color = 15158332 // red
	}
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       "iconforge: " + string(e.Type),
				"description": describe(e),
				"color":       color,
				"timestamp":   e.Timestamp.Format("2006-01-02T15:04:05Z"),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatSlack(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"text": fmt.Sprintf("*iconforge: %s*\n%s", e.Type, describe(e)),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatGotify(e event.Event) ([]byte, string) {
	priority := 2
	if e.Type == event.ConversionFailed {
		priority = 6
	}
	payload := map[string]any{
		"title":    "iconforge: " + string(e.Type),
		"message":  describe(e),
		"priority": priority,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

// describe renders a one-line human summary of e.
func describe(e event.Event) string {
	source, _ := e.Data["source"].(string)
	switch e.Type {
	case event.ConversionCompleted:
		return fmt.Sprintf("Converted %s into %v artifacts (%v)", source, e.Data["artifacts"], e.Data["id"])
	case event.ConversionFailed:
		return fmt.Sprintf("Converting %s failed: %v", source, e.Data["error"])
	case event.ConversionDeleted:
		return fmt.Sprintf("Deleted conversion %v", e.Data["id"])
	case event.RetentionPruned:
		return fmt.Sprintf("Pruned %v expired conversions", e.Data["count"])
	case event.BackupCompleted:
		return fmt.Sprintf("Database backup %v written", e.Data["filename"])
	}
	if e.Data == nil {
		return string(e.Type)
	}
	b, _ := json.Marshal(e.Data)
	return string(b)
}
