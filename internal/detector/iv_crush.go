package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// IVCrushStability flags the quiet-before-expansion regime: Bollinger
// width compressed below the configured threshold, ATM IV strictly
// falling across the trend window by at least the configured drop, and
// call/put IV skew narrow. Direction is neutral; the signal marks a
// coiled market, not a side. Missing width data reads as "not
// compressed" and stays quiet.
type IVCrushStability struct{}

func (IVCrushStability) Name() string { return "iv_crush_stability" }

func (IVCrushStability) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.BBWidthOK || ctx.Ind.BBWidth >= ctx.Cfg.CompressionWidthPct {
		return nil
	}
	if !ctx.Ind.IVSeriesOK || !strictlyFalling(ctx.Ind.IVSeries) {
		return nil
	}
	drop := ctx.Ind.IVSeries[0] - ctx.Ind.IVSeries[len(ctx.Ind.IVSeries)-1]
	if drop < ctx.Cfg.IVDropPct {
		return nil
	}
	if !ctx.Ind.ATMIVOK {
		return nil
	}
	skew := abs(ctx.Ind.CallIV - ctx.Ind.PutIV)
	if skew > ctx.Cfg.IVSkewMaxPts {
		return nil
	}

	strength := strengthBeyond(drop, ctx.Cfg.IVDropPct)
	conf := 0.6
	if ctx.Ind.BBWidth < ctx.Cfg.CompressionWidthPct/2 {
		conf += 0.15
	}
	if skew <= ctx.Cfg.IVSkewMaxPts/2 {
		conf += 0.05
	}

	msg := fmt.Sprintf("IV crushed %.1f pts into %.2f%% band width, skew %.1f pts",
		drop, ctx.Ind.BBWidth, skew)
	return newSignal(ctx, "iv_crush_stability", model.DirNeutral, strength, conf, msg, map[string]float64{
		"iv_drop":  drop,
		"bb_width": ctx.Ind.BBWidth,
		"iv_skew":  skew,
	})
}

func strictlyFalling(series []float64) bool {
	if len(series) < 2 {
		return false
	}
	for i := 1; i < len(series); i++ {
		if series[i] >= series[i-1] {
			return false
		}
	}
	return true
}
