package scanner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"breakout-scanner/internal/metrics"
	"breakout-scanner/internal/notification"
	"breakout-scanner/internal/session"
)

// Watchdog alarms when no snapshot lands for longer than factor*cadence
// during market hours. A silent feed with a live session is the failure
// mode this catches: the poll loop is running but every fetch dies, or
// the upstream returns data so late it gets dropped as stale.
type Watchdog struct {
	cadence time.Duration
	limit   time.Duration
	health  *metrics.HealthStatus
	alerter *notification.Alerter

	mu       sync.Mutex
	lastBeat time.Time // wall clock of the last good snapshot
	lastTS   time.Time // feed timestamp of that snapshot
	stale    bool
}

// NewWatchdog builds a watchdog with limit factor*cadence. factor < 2 is
// raised to 2: one missed poll must never alarm.
func NewWatchdog(cadence time.Duration, factor int, health *metrics.HealthStatus, alerter *notification.Alerter) *Watchdog {
	if factor < 2 {
		factor = 2
	}
	return &Watchdog{
		cadence: cadence,
		limit:   time.Duration(factor) * cadence,
		health:  health,
		alerter: alerter,
	}
}

// Beat records a good snapshot. Clears a standing alarm.
func (w *Watchdog) Beat(ts time.Time) {
	w.beat(time.Now(), ts)
}

func (w *Watchdog) beat(now, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stale {
		w.stale = false
		w.health.SetFetchOK(true)
		log.Printf("[watchdog] feed recovered after %v silent", now.Sub(w.lastBeat).Truncate(time.Second))
	}
	w.lastBeat = now
	w.lastTS = ts
}

// Run checks feed age once per cadence until ctx ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.check(ctx, now)
		}
	}
}

// check evaluates feed age at now and raises the alarm on the first
// over-limit observation of an episode. Off-hours ticks re-arm the
// watchdog instead, so the overnight gap never alarms at the next open.
func (w *Watchdog) check(ctx context.Context, now time.Time) {
	w.mu.Lock()
	if !session.IsMarketOpen(now) {
		w.lastBeat = now
		w.mu.Unlock()
		return
	}
	if w.lastBeat.IsZero() {
		w.lastBeat = now
		w.mu.Unlock()
		return
	}
	age := now.Sub(w.lastBeat)
	if age <= w.limit || w.stale {
		w.mu.Unlock()
		return
	}
	w.stale = true
	lastTS := w.lastTS
	w.mu.Unlock()

	w.health.SetFetchOK(false)
	msg := fmt.Sprintf("no snapshot for %v (limit %v)", age.Truncate(time.Second), w.limit)
	if !lastTS.IsZero() {
		msg += fmt.Sprintf(", last feed time %s", lastTS.In(session.IST).Format("15:04:05"))
	}
	log.Printf("[watchdog] ⚠️ %s", msg)
	w.alerter.System(ctx, notification.AlertWarning, "quote feed stale", msg)
}

// Stale reports whether the alarm is currently raised.
func (w *Watchdog) Stale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stale
}
