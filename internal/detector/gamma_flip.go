package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// GammaFlip fires when the OI-weighted exposure proxy around ATM changes
// sign between cycles with enough magnitude to matter. A flip marks a
// regime change in dealer positioning, not a direction, so the signal is
// neutral: expect movement, side unknown.
type GammaFlip struct{}

func (GammaFlip) Name() string { return "gamma_flip" }

func (GammaFlip) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.GEXOK || !ctx.Prev.GEXOK {
		return nil
	}

	cur, prev := ctx.Ind.GEX, ctx.Prev.GEX
	if cur*prev >= 0 {
		return nil
	}
	floor := ctx.Cfg.GEXFloor
	if abs(cur) < floor {
		return nil
	}

	strength := clamp01((abs(cur) - floor) / (2 * floor))
	conf := 0.6 + 0.15*strength
	if abs(prev) >= floor {
		// Both sides of the flip were sizeable, not noise around zero.
		conf += 0.1
	}

	msg := fmt.Sprintf("gamma exposure proxy flipped sign: %+.0f -> %+.0f", prev, cur)
	return newSignal(ctx, "gamma_flip", model.DirNeutral, strength, conf, msg, map[string]float64{
		"gex":      cur,
		"prev_gex": prev,
		"floor":    floor,
	})
}
