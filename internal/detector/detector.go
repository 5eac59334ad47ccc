// Package detector holds the pattern detectors that turn one cycle's
// snapshot, history and indicators into breakout signals.
//
// A Detector inspects the cycle Context and emits at most one signal.
// Detectors are pure: no I/O, no stored state between cycles. Anything a
// detector needs from earlier cycles arrives through the Context (the
// history suffix or the engine's Priors). The Runner isolates each
// detector behind a recover boundary so one fault never takes down the
// cycle.
package detector

import (
	"github.com/google/uuid"

	"breakout-scanner/internal/indicator"
	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

// Detector is the interface every pattern detector implements.
type Detector interface {
	// Name returns the stable pattern name used in signals, metrics and
	// the per-pattern API.
	Name() string

	// Evaluate inspects the cycle and returns a signal if the pattern
	// fired, or nil to stay quiet.
	Evaluate(ctx *Context) *model.BreakoutSignal
}

// Priors carries values the engine cached from the previous cycle.
type Priors struct {
	MaxPain   int64 // paise
	MaxPainOK bool
	GEX       float64
	GEXOK     bool
}

// Context is the read-only view of one scan cycle handed to every
// detector: the latest snapshot, the history suffix (oldest-first, ending
// with Snapshot), the shared indicator pass, the session flags at the
// snapshot instant, the active thresholds, and the previous cycle's
// cached values.
type Context struct {
	Snapshot model.MarketSnapshot
	Points   []model.MarketSnapshot
	Ind      indicator.Set
	Flags    session.Flags
	Cfg      Config
	Prev     Priors
}

// newSignal builds a signal with identity, timestamp and clamped scores.
// Priority and the actionable flag are assigned later by the aggregator,
// after the time-of-day weight has been applied.
func newSignal(ctx *Context, pattern string, dir model.Direction, strength, confidence float64, msg string, evidence map[string]float64) *model.BreakoutSignal {
	return &model.BreakoutSignal{
		ID:         uuid.NewString(),
		Pattern:    pattern,
		Direction:  dir,
		Strength:   clamp01(strength),
		Confidence: clamp01(confidence),
		Message:    msg,
		Evidence:   evidence,
		TS:         ctx.Snapshot.TS,
		Timeframe:  "intraday",
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// strengthBeyond normalizes how far value exceeded threshold:
// 0 at the threshold, 1 at double the threshold.
func strengthBeyond(value, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return clamp01((value - threshold) / threshold)
}

// pts renders a paise distance as index points for messages.
func pts(paise int64) float64 {
	return model.Rupees(paise)
}
