package scanner

import (
	"context"
	"testing"
	"time"

	"breakout-scanner/internal/metrics"
	"breakout-scanner/internal/model"
	"breakout-scanner/internal/notification"
	"breakout-scanner/internal/session"
)

type captureNotifier struct {
	alerts []notification.Alert
}

func (n *captureNotifier) Name() string { return "capture" }

func (n *captureNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

func newTestWatchdog(cadence time.Duration, factor int) (*Watchdog, *captureNotifier, *metrics.HealthStatus) {
	cn := &captureNotifier{}
	alerter := notification.NewAlerter(model.PriorityHigh, time.Minute, cn)
	health := metrics.NewHealthStatus()
	return NewWatchdog(cadence, factor, health, alerter), cn, health
}

// Monday 10:00 IST, well inside market hours.
var openTime = time.Date(2026, 1, 19, 10, 0, 0, 0, session.IST)

func TestWatchdog_StaleAndRecover(t *testing.T) {
	w, cn, health := newTestWatchdog(30*time.Second, 3) // limit 90s
	ctx := context.Background()

	w.beat(openTime, openTime)

	// One missed poll: inside the limit
	w.check(ctx, openTime.Add(60*time.Second))
	if w.Stale() {
		t.Error("should not be stale at 60s with a 90s limit")
	}

	// Past the limit: alarm once
	w.check(ctx, openTime.Add(2*time.Minute))
	if !w.Stale() {
		t.Error("should be stale at 120s with a 90s limit")
	}
	if len(cn.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(cn.alerts))
	}
	if cn.alerts[0].Title != "quote feed stale" || cn.alerts[0].Level != notification.AlertWarning {
		t.Errorf("unexpected alert: %+v", cn.alerts[0])
	}
	if health.FetchOK {
		t.Error("FetchOK should be false while stale")
	}

	// Still silent: no repeat alert
	w.check(ctx, openTime.Add(3*time.Minute))
	if len(cn.alerts) != 1 {
		t.Errorf("stale episode should alert once, got %d alerts", len(cn.alerts))
	}

	// A snapshot lands: alarm clears
	w.beat(openTime.Add(3*time.Minute+10*time.Second), openTime.Add(3*time.Minute))
	if w.Stale() {
		t.Error("beat should clear the alarm")
	}
	if !health.FetchOK {
		t.Error("FetchOK should be true after recovery")
	}
}

func TestWatchdog_OffHoursRearm(t *testing.T) {
	w, cn, _ := newTestWatchdog(30*time.Second, 3)
	ctx := context.Background()

	w.beat(openTime, openTime)

	// Evening tick: hours-old beat, but market closed, so no alarm
	evening := time.Date(2026, 1, 19, 20, 0, 0, 0, session.IST)
	w.check(ctx, evening)
	if w.Stale() || len(cn.alerts) != 0 {
		t.Fatal("off-hours silence should not alarm")
	}

	// Last pre-open tick the next morning re-arms the clock
	preOpen := time.Date(2026, 1, 20, 9, 14, 30, 0, session.IST)
	w.check(ctx, preOpen)

	// 60s into the new session: armed from the pre-open tick, not from
	// yesterday's beat
	w.check(ctx, preOpen.Add(60*time.Second))
	if w.Stale() {
		t.Error("overnight gap should not alarm right after the open")
	}

	// Feed never comes up: alarm at limit past the re-arm
	w.check(ctx, preOpen.Add(2*time.Minute))
	if !w.Stale() {
		t.Error("no snapshots 120s into the session should alarm")
	}
	if len(cn.alerts) != 1 {
		t.Errorf("expected 1 alert, got %d", len(cn.alerts))
	}
}

func TestWatchdog_FirstTickArms(t *testing.T) {
	w, _, _ := newTestWatchdog(30*time.Second, 3)
	ctx := context.Background()

	// No beat yet: first in-hours tick arms instead of alarming
	w.check(ctx, openTime)
	if w.Stale() {
		t.Error("first tick should arm, not alarm")
	}
	w.check(ctx, openTime.Add(2*time.Minute))
	if !w.Stale() {
		t.Error("should alarm once the limit passes after arming")
	}
}

func TestWatchdog_FactorFloor(t *testing.T) {
	w, _, _ := newTestWatchdog(30*time.Second, 1) // raised to 2 → limit 60s
	ctx := context.Background()

	w.beat(openTime, openTime)
	w.check(ctx, openTime.Add(45*time.Second))
	if w.Stale() {
		t.Error("factor floor of 2 means 45s must not alarm")
	}
	w.check(ctx, openTime.Add(61*time.Second))
	if !w.Stale() {
		t.Error("61s should alarm with the floored 60s limit")
	}
}
