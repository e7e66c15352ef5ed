package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sydlexius/iconforge/internal/event"
	"github.com/sydlexius/iconforge/internal/version"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
	// SignatureHeader carries "sha256=<hex hmac>" of the body for webhooks
	// with a secret.
	SignatureHeader = "X-Iconforge-Signature"
)

// Dispatcher sends events to matching webhooks.
type Dispatcher struct {
	mu         sync.RWMutex
	webhooks   []Webhook
	httpClient *http.Client
	baseDelay  time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(webhooks []Webhook, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(webhooks, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(webhooks []Webhook, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		httpClient: httpClient,
		baseDelay:  time.Second,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
	}
	d.SetWebhooks(webhooks)
	return d
}

// SetWebhooks replaces the configured endpoints.
func (d *Dispatcher) SetWebhooks(webhooks []Webhook) {
	d.mu.Lock()
	d.webhooks = append([]Webhook(nil), webhooks...)
	d.mu.Unlock()
}

// HandleEvent is an event.Handler that dispatches the event to all matching
// webhooks. Deliveries run in the background.
func (d *Dispatcher) HandleEvent(e event.Event) {
	d.mu.RLock()
	var targets []Webhook
	for _, w := range d.webhooks {
		if w.Matches(string(e.Type)) {
			targets = append(targets, w)
		}
	}
	d.mu.RUnlock()

	for _, w := range targets {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(w, e)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	body, contentType := formatPayload(&w, e)
	attempt := 0
	backoff := retry.WithMaxRetries(maxRetries-1, retry.NewExponential(d.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := d.send(ctx, &w, body, contentType)
		if err == nil {
			return nil
		}
		d.logger.Warn("webhook delivery failed",
			"webhook", w.Name,
			"event", string(e.Type),
			"attempt", attempt,
			"error", err,
		)
		if permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		d.logger.Error("webhook delivery abandoned",
			"webhook", w.Name,
			"event", string(e.Type),
			"attempts", attempt,
			"error", err,
		)
		return
	}
	d.logger.Debug("webhook delivered",
		"webhook", w.Name,
		"event", string(e.Type),
		"attempt", attempt,
	)
}

// statusErr is a non-2xx response from the endpoint.
type statusErr int

func (s statusErr) Error() string { return fmt.Sprintf("unexpected status %d", int(s)) }

// permanent reports whether retrying err cannot help: a client error other
// than 408 or 429.
func permanent(err error) bool {
	s, ok := err.(statusErr)
	return ok && s >= 400 && s < 500 && s != http.StatusRequestTimeout && s != http.StatusTooManyRequests
}

func (d *Dispatcher) send(ctx context.Context, w *Webhook, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "iconforge-webhook/"+version.Version)
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 300 {
		return statusErr(resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
