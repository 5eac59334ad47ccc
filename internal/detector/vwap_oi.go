package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// VWAPOIConfluence requires price and option flow to agree: spot above
// VWAP while call writers cover and put writers add reads bullish, the
// mirror image bearish. Either leg alone is ignored; the confluence is
// the point.
type VWAPOIConfluence struct{}

func (VWAPOIConfluence) Name() string { return "vwap_oi_confluence" }

func (VWAPOIConfluence) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.VWAPOK || !ctx.Ind.OIFlowOK {
		return nil
	}

	spot := pts(ctx.Snapshot.Spot)
	dist := spot - ctx.Ind.VWAP
	callD := float64(ctx.Ind.CallOIDelta)
	putD := float64(ctx.Ind.PutOIDelta)

	var dir model.Direction
	switch {
	case dist > 0 && callD < 0 && putD > 0:
		dir = model.DirBullish
	case dist < 0 && callD > 0 && putD < 0:
		dir = model.DirBearish
	default:
		return nil
	}

	// Distance from VWAP in ATR units caps the strength; without a
	// usable ATR fall back to a neutral midpoint.
	strength := 0.5
	if ctx.Ind.ATROK && ctx.Ind.ATR > 0 {
		strength = clamp01(abs(dist) / ctx.Ind.ATR)
	}

	conf := 0.6 + 0.15*strength
	if abs(callD) > 0 && abs(putD) > 0 {
		conf += 0.05
	}
	if ctx.Ind.TrendOK &&
		((dir == model.DirBullish && ctx.Ind.TrendPct > 0) ||
			(dir == model.DirBearish && ctx.Ind.TrendPct < 0)) {
		conf += 0.1
	}

	side := "above"
	if dir == model.DirBearish {
		side = "below"
	}
	msg := fmt.Sprintf("spot %.1f pts %s VWAP with supportive ATM OI flow (calls %+.0f, puts %+.0f)",
		abs(dist), side, callD, putD)
	return newSignal(ctx, "vwap_oi_confluence", dir, strength, conf, msg, map[string]float64{
		"vwap_distance_pts": dist,
		"call_oi_delta":     callD,
		"put_oi_delta":      putD,
	})
}
