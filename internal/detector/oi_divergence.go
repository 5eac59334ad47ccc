package detector

import (
	"fmt"

	"breakout-scanner/internal/indicator"
	"breakout-scanner/internal/model"
)

// OIPriceDivergence reads the classic price/OI/IV divergence over the
// recent comparison window:
//
//	price up, total OI down, IV down:  short covering, bullish
//	price down, total OI up, IV up:    fresh shorts, bearish
//
// All three legs must clear their thresholds together; two-leg moves are
// ambiguous and stay quiet.
type OIPriceDivergence struct{}

func (OIPriceDivergence) Name() string { return "oi_price_divergence" }

func (OIPriceDivergence) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.DivergenceOK {
		return nil
	}

	spotPct := ctx.Ind.SpotDeltaPct
	oiPct := ctx.Ind.OIDeltaPct
	ivDelta := ctx.Ind.IVDelta
	spotThr := ctx.Cfg.DivergenceSpotPct
	oiThr := ctx.Cfg.DivergenceOIPct
	ivThr := ctx.Cfg.DivergenceIVDrop

	var dir model.Direction
	var kind string
	switch {
	case spotPct >= spotThr && oiPct <= -oiThr && ivDelta <= -ivThr:
		dir = model.DirBullish
		kind = "short covering"
	case spotPct <= -spotThr && oiPct >= oiThr && ivDelta >= ivThr:
		dir = model.DirBearish
		kind = "fresh shorts"
	default:
		return nil
	}

	strength := (strengthBeyond(abs(spotPct), spotThr) +
		strengthBeyond(abs(oiPct), oiThr) +
		strengthBeyond(abs(ivDelta), ivThr)) / 3

	conf := 0.65
	if abs(oiPct) >= 1.5*oiThr {
		conf += 0.1
	}
	if abs(ivDelta) >= 1.5*ivThr {
		conf += 0.05
	}
	if strength > 0.5 {
		conf += 0.05
	}

	msg := fmt.Sprintf("%s: spot %+.2f%%, OI %+.1f%%, IV %+.1f pts over %d points",
		kind, spotPct, oiPct, ivDelta, indicator.DivergenceWindow)
	return newSignal(ctx, "oi_price_divergence", dir, strength, conf, msg, map[string]float64{
		"spot_pct": spotPct,
		"oi_pct":   oiPct,
		"iv_delta": ivDelta,
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
