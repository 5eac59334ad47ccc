package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// FirstHourBreakout fires when spot clears the first trading hour's high
// or low after that hour has closed, provided the session did not open on
// an outsized gap (gap days trend on their own logic and fake this
// pattern). Projects the first-hour range as target and uses its far side
// as the stop.
type FirstHourBreakout struct{}

func (FirstHourBreakout) Name() string { return "first_hour_breakout" }

func (FirstHourBreakout) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.FirstHourOK {
		return nil
	}
	snap := ctx.Snapshot
	if snap.PrevClose <= 0 || snap.Open <= 0 {
		return nil
	}
	gapPct := abs(float64(snap.Open-snap.PrevClose)) / float64(snap.PrevClose) * 100
	if gapPct >= ctx.Cfg.GapMaxPct {
		return nil
	}

	fhHigh, fhLow := ctx.Ind.FirstHourHigh, ctx.Ind.FirstHourLow
	fhRange := fhHigh - fhLow

	var dir model.Direction
	var level, breakDist int64
	switch {
	case snap.Spot > fhHigh:
		dir = model.DirBullish
		level = fhHigh
		breakDist = snap.Spot - fhHigh
	case snap.Spot < fhLow:
		dir = model.DirBearish
		level = fhLow
		breakDist = fhLow - snap.Spot
	default:
		return nil
	}

	// Break depth relative to the first-hour range itself.
	strength := 1.0
	if fhRange > 0 {
		strength = clamp01(float64(breakDist) / float64(fhRange))
	}

	conf := 0.6 + 0.15*strength
	if ctx.Ind.TrailVolOK && ctx.Ind.TrailVol > 0 &&
		float64(snap.OptionVolume()) > ctx.Ind.TrailVol {
		conf += 0.1
	}

	msg := fmt.Sprintf("spot %.2f broke first-hour %s %.2f by %.2f pts (gap %.2f%%)",
		pts(snap.Spot), sideWord(dir), pts(level), pts(breakDist), gapPct)
	sig := newSignal(ctx, "first_hour_breakout", dir, strength, conf, msg, map[string]float64{
		"first_hour_high": pts(fhHigh),
		"first_hour_low":  pts(fhLow),
		"break_distance":  pts(breakDist),
		"gap_pct":         gapPct,
	})
	if dir == model.DirBullish {
		sig.Target = fhHigh + fhRange
		sig.Stop = fhLow
	} else {
		sig.Target = fhLow - fhRange
		sig.Stop = fhHigh
	}
	return sig
}

func sideWord(d model.Direction) string {
	if d == model.DirBullish {
		return "high"
	}
	return "low"
}
