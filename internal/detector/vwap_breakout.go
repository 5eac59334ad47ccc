package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// VWAPVolumeBreakout fires when spot pulls away from the session VWAP by
// more than a configured multiple of ATR and has held that side for a
// minimum number of consecutive points. Above VWAP reads bullish, below
// bearish. Option volume running hot against its trailing average boosts
// confidence but is not required to fire.
type VWAPVolumeBreakout struct{}

func (VWAPVolumeBreakout) Name() string { return "vwap_volume_breakout" }

func (VWAPVolumeBreakout) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.VWAPOK || !ctx.Ind.ATROK || ctx.Ind.ATR <= 0 {
		return nil
	}

	spot := model.Rupees(ctx.Snapshot.Spot)
	dist := spot - ctx.Ind.VWAP
	need := ctx.Cfg.VWAPDistanceATR * ctx.Ind.ATR
	if dist <= need && -dist <= need {
		return nil
	}

	streak := sameSideStreak(ctx.Points, ctx.Ind.VWAP)
	if streak < int(ctx.Cfg.ConsecutivePoints) {
		return nil
	}

	dir := model.DirBullish
	absDist := dist
	if dist < 0 {
		dir = model.DirBearish
		absDist = -dist
	}

	strength := strengthBeyond(absDist, need)
	conf := 0.55 + 0.2*strength
	if streak >= int(ctx.Cfg.ConsecutivePoints)+2 {
		conf += 0.05
	}
	if ctx.Ind.TrailVolOK && ctx.Ind.TrailVol > 0 &&
		float64(ctx.Snapshot.OptionVolume()) > ctx.Ind.TrailVol {
		conf += 0.1
	}

	msg := fmt.Sprintf("spot %.2f is %.2f pts from VWAP %.2f (%.1fx ATR, %d point streak)",
		spot, absDist, ctx.Ind.VWAP, absDist/ctx.Ind.ATR, streak)
	return newSignal(ctx, "vwap_volume_breakout", dir, strength, conf, msg, map[string]float64{
		"vwap":      ctx.Ind.VWAP,
		"distance":  dist,
		"atr":       ctx.Ind.ATR,
		"threshold": need,
		"streak":    float64(streak),
	})
}

// sameSideStreak counts the trailing points whose spot sits on the same
// side of vwap as the latest point. A point exactly on VWAP breaks the
// streak.
func sameSideStreak(points []model.MarketSnapshot, vwap float64) int {
	if len(points) == 0 {
		return 0
	}
	last := model.Rupees(points[len(points)-1].Spot) - vwap
	if last == 0 {
		return 0
	}
	streak := 0
	for i := len(points) - 1; i >= 0; i-- {
		d := model.Rupees(points[i].Spot) - vwap
		if (last > 0 && d > 0) || (last < 0 && d < 0) {
			streak++
			continue
		}
		break
	}
	return streak
}
