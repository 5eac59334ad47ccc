package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TelegramNotifier sends alerts via the Telegram Bot API. A burst of
// simultaneous detector fires can trip Telegram's per-chat rate limit,
// so a 429 is retried once after the hinted delay.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s *%s*\n\n%s",
		alertEmoji(alert), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	retryAfter, err := t.post(ctx, url, body)
	if retryAfter > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
		_, err = t.post(ctx, url, body)
	}
	if err != nil {
		return err
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

// post performs one sendMessage call. A positive retryAfter means the
// API rate-limited the chat and hinted when to retry.
func (t *TelegramNotifier) post(ctx context.Context, url string, body []byte) (retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return 0, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		wait := 3 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if n, perr := strconv.Atoi(s); perr == nil && n > 0 && n <= 30 {
				wait = time.Duration(n) * time.Second
			}
		}
		return wait, fmt.Errorf("telegram: rate limited")
	}

	// Telegram wraps errors as {"ok":false,"description":"..."}
	var apiErr struct {
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Description != "" {
		return 0, fmt.Errorf("telegram: status %d: %s", resp.StatusCode, apiErr.Description)
	}
	return 0, fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
}

// alertEmoji picks the message prefix: signal direction when the title
// carries one, severity otherwise.
func alertEmoji(alert Alert) string {
	switch {
	case strings.HasPrefix(alert.Title, "BULLISH"):
		return "🟢"
	case strings.HasPrefix(alert.Title, "BEARISH"):
		return "🔴"
	case alert.Level == AlertCritical:
		return "🚨"
	case alert.Level == AlertWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
