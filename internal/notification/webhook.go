package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to a configured URL. The payload
// carries the structured fields plus a rendered "text" field, so the
// same URL works for a custom receiver or a Slack/Mattermost-style
// incoming hook that only reads text.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier targeting the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Service string     `json:"service"`
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Text    string     `json:"text"`
	TS      string     `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, _ := json.Marshal(webhookPayload{
		Service: "breakout-scanner",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Text:    fmt.Sprintf("[%s] %s\n%s", alert.Level, alert.Title, alert.Message),
		TS:      time.Now().Format(time.RFC3339Nano),
	})

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		lastErr = w.post(ctx, body)
		if lastErr == nil {
			log.Printf("[webhook] sent alert: %s", alert.Title)
			return nil
		}
		if !retryable(lastErr) {
			break
		}
	}
	return lastErr
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &webhookError{status: 0, err: fmt.Errorf("webhook: send: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &webhookError{status: resp.StatusCode,
			err: fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)}
	}
	return nil
}

type webhookError struct {
	status int
	err    error
}

func (e *webhookError) Error() string { return e.err.Error() }
func (e *webhookError) Unwrap() error { return e.err }

// retryable reports whether a second attempt makes sense: transport
// failures and server-side errors do, client errors (bad URL, auth) do not.
func retryable(err error) bool {
	we, ok := err.(*webhookError)
	if !ok {
		return false
	}
	return we.status == 0 || we.status == http.StatusTooManyRequests || we.status >= 500
}
