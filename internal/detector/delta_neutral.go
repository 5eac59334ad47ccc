package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// DeltaNeutralShift fires when the call share of near-ATM open interest
// crosses the configured boundary between cycles: a cross toward calls
// reads bullish, toward puts bearish. The boundary is symmetric, so with
// share threshold s the put-side cross sits at 1-s.
type DeltaNeutralShift struct{}

func (DeltaNeutralShift) Name() string { return "delta_neutral_shift" }

func (DeltaNeutralShift) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.NearOIOK {
		return nil
	}

	thr := ctx.Cfg.DeltaNeutralShare
	cur, prev := ctx.Ind.NearCallShare, ctx.Ind.PrevNearShare

	var dir model.Direction
	var excess float64
	switch {
	case prev < thr && cur >= thr:
		dir = model.DirBullish
		excess = cur - thr
	case prev > 1-thr && cur <= 1-thr:
		dir = model.DirBearish
		excess = (1 - thr) - cur
	default:
		return nil
	}

	// Room beyond the boundary is at most 1-thr on either side.
	strength := 0.0
	if room := 1 - thr; room > 0 {
		strength = clamp01(excess / room)
	}

	conf := 0.55 + 0.15*strength
	if abs(cur-prev) >= 0.1 {
		conf += 0.1
	}
	if ctx.Ind.GEXOK &&
		((dir == model.DirBullish && ctx.Ind.GEX > 0) ||
			(dir == model.DirBearish && ctx.Ind.GEX < 0)) {
		conf += 0.05
	}

	msg := fmt.Sprintf("near-ATM call OI share crossed %.0f%%: %.1f%% -> %.1f%%",
		thr*100, prev*100, cur*100)
	return newSignal(ctx, "delta_neutral_shift", dir, strength, conf, msg, map[string]float64{
		"call_share":      cur,
		"prev_call_share": prev,
		"threshold":       thr,
	})
}
