package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"breakout-scanner/internal/model"
)

// Alerter watches analysis results and pushes surfaced signals to the
// configured notifiers. Alerts are rate-limited per pattern so a signal
// that stays lit across consecutive cycles does not repeat-spam.
type Alerter struct {
	notifiers   []Notifier
	minPriority model.Priority
	cooldown    time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time // pattern (or system title) → last alert time

	// OnSend, if set, is called with the backend name after each
	// successful delivery (for metrics).
	OnSend func(channel string)
}

// NewAlerter creates an alerter that dispatches signals at or above
// minPriority, suppressing repeats of the same pattern within cooldown.
func NewAlerter(minPriority model.Priority, cooldown time.Duration, notifiers ...Notifier) *Alerter {
	return &Alerter{
		notifiers:   notifiers,
		minPriority: minPriority,
		cooldown:    cooldown,
		lastSent:    make(map[string]time.Time),
	}
}

// Run consumes analysis results and dispatches alerts for qualifying
// signals. Blocks until ctx is cancelled or resultCh is closed.
func (a *Alerter) Run(ctx context.Context, resultCh <-chan model.AnalysisResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resultCh:
			if !ok {
				return
			}
			a.process(ctx, &res)
		}
	}
}

func (a *Alerter) process(ctx context.Context, res *model.AnalysisResult) {
	for i := range res.Signals {
		sig := &res.Signals[i]
		if priorityRank(sig.Priority) < priorityRank(a.minPriority) {
			continue
		}
		if !a.take(sig.Pattern) {
			continue
		}
		a.dispatch(ctx, signalAlert(sig, res))
	}
}

// System sends an operational alert (login failure, stale feed, shutdown).
// The title doubles as the cooldown key so a persisting condition does not
// flood the channels.
func (a *Alerter) System(ctx context.Context, level AlertLevel, title, message string) {
	if !a.take(title) {
		return
	}
	a.dispatch(ctx, Alert{Level: level, Title: title, Message: message})
}

// take records an alert attempt for the key and reports whether it is
// outside the cooldown window.
func (a *Alerter) take(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastSent[key]; ok && time.Since(last) < a.cooldown {
		return false
	}
	a.lastSent[key] = time.Now()
	return true
}

func (a *Alerter) dispatch(ctx context.Context, alert Alert) {
	for _, n := range a.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[alerter] %s delivery failed: %v", n.Name(), err)
			continue
		}
		if a.OnSend != nil {
			a.OnSend(n.Name())
		}
	}
}

// signalAlert renders one surfaced signal as an alert.
func signalAlert(sig *model.BreakoutSignal, res *model.AnalysisResult) Alert {
	title := fmt.Sprintf("%s %s", sig.Direction, sig.Pattern)

	msg := fmt.Sprintf("%s\nconfidence %.2f (%s), strength %.2f\nspot %.2f, ATM %.0f",
		sig.Message, sig.Confidence, sig.Priority, sig.Strength,
		model.Rupees(res.Spot), model.Rupees(res.ATMStrike))
	if sig.Target != 0 && sig.Stop != 0 {
		msg += fmt.Sprintf("\ntarget %.2f, stop %.2f", model.Rupees(sig.Target), model.Rupees(sig.Stop))
	}

	return Alert{Level: levelFor(sig.Priority), Title: title, Message: msg}
}

func levelFor(p model.Priority) AlertLevel {
	switch p {
	case model.PriorityHigh:
		return AlertCritical
	case model.PriorityMedium:
		return AlertWarning
	default:
		return AlertInfo
	}
}

func priorityRank(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 2
	case model.PriorityMedium:
		return 1
	default:
		return 0
	}
}
