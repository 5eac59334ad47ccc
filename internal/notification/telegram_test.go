package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEscapeMarkdown(t *testing.T) {
	cases := []struct{ in, want string }{
		{"NIFTY 22050 CE (+3.2%)", `NIFTY 22050 CE \(\+3\.2%\)`},
		{"target 22100.50, stop 21980.00", `target 22100\.50, stop 21980\.00`},
		{"plain words", "plain words"},
	}
	for _, c := range cases {
		if got := escapeMarkdown(c.in); got != c.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAlertEmoji_DirectionBeatsLevel(t *testing.T) {
	// A critical bullish signal renders with the direction glyph.
	a := Alert{Level: AlertCritical, Title: "BULLISH vwap_volume_breakout"}
	if got := alertEmoji(a); got != "🟢" {
		t.Errorf("bullish: got %q, want 🟢", got)
	}
	a.Title = "BEARISH oi_writing_imbalance"
	if got := alertEmoji(a); got != "🔴" {
		t.Errorf("bearish: got %q, want 🔴", got)
	}
	// System alerts fall back to severity.
	a = Alert{Level: AlertWarning, Title: "quote feed stale"}
	if got := alertEmoji(a); got != "⚠️" {
		t.Errorf("warning: got %q, want ⚠️", got)
	}
}

func TestTelegramPost_RateLimitHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "chat")
	wait, err := tn.post(context.Background(), srv.URL, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if wait != 2*time.Second {
		t.Errorf("retry hint: got %v, want 2s", wait)
	}
}

func TestTelegramPost_ErrorDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "chat")
	_, err := tn.post(context.Background(), srv.URL, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if want := "chat not found"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should mention %q", err.Error(), want)
	}
}
