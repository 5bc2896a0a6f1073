// Package notify delivers best-effort admin alerts. Failures are logged
// by callers and never affect the request that triggered the alert.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier sends an alert with a title and a body.
type Notifier interface {
	Notify(ctx context.Context, title, content string) error
}

// WebhookNotifier posts alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, title, content string) error {
	body, err := json.Marshal(webhookPayload{Title: title, Content: content})
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// NopNotifier drops all alerts. Used when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, title, content string) error { return nil }
