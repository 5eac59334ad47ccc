package detector

import (
	"fmt"
	"math"

	"breakout-scanner/internal/model"
)

// VolumeSpikeKeyLevel fires when combined option volume jumps past the
// configured multiple of its trailing average while spot sits at a key
// level: a round number on the configured grid or the previous session's
// high/low. Direction follows the recent trend; a flat trend emits a
// neutral activity marker.
type VolumeSpikeKeyLevel struct{}

func (VolumeSpikeKeyLevel) Name() string { return "volume_spike_key_level" }

func (VolumeSpikeKeyLevel) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.TrailVolOK || ctx.Ind.TrailVol <= 0 {
		return nil
	}
	curVol := float64(ctx.Snapshot.OptionVolume())
	ratio := curVol / ctx.Ind.TrailVol
	if ratio <= ctx.Cfg.VolumeSpikeMult {
		return nil
	}

	levelName, level, dist, found := nearestKeyLevel(ctx)
	if !found || dist > ctx.Cfg.KeyLevelProximityPts {
		return nil
	}

	dir := trendDirection(ctx)
	strength := strengthBeyond(ratio, ctx.Cfg.VolumeSpikeMult)
	conf := 0.6 + 0.2*strength
	if dist <= ctx.Cfg.KeyLevelProximityPts/2 {
		conf += 0.1
	}

	msg := fmt.Sprintf("option volume %.1fx trailing average, %.1f pts from %s %.0f",
		ratio, dist, levelName, level)
	return newSignal(ctx, "volume_spike_key_level", dir, strength, conf, msg, map[string]float64{
		"volume_ratio": ratio,
		"level":        level,
		"distance":     dist,
	})
}

// nearestKeyLevel returns the closest key level to spot in points.
func nearestKeyLevel(ctx *Context) (name string, level, dist float64, found bool) {
	spot := pts(ctx.Snapshot.Spot)

	if grid := ctx.Cfg.RoundLevelPts; grid > 0 {
		rounded := math.Round(spot/grid) * grid
		name, level, dist, found = "round level", rounded, abs(spot-rounded), true
	}
	if ctx.Ind.PrevDayOK {
		if d := abs(spot - pts(ctx.Ind.PrevDayHigh)); !found || d < dist {
			name, level, dist, found = "prior high", pts(ctx.Ind.PrevDayHigh), d, true
		}
		if d := abs(spot - pts(ctx.Ind.PrevDayLow)); d < dist {
			name, level, dist = "prior low", pts(ctx.Ind.PrevDayLow), d
		}
	}
	return name, level, dist, found
}

// trendDirection maps the short-window slope onto a signal direction.
func trendDirection(ctx *Context) model.Direction {
	if !ctx.Ind.TrendOK {
		return model.DirNeutral
	}
	switch {
	case ctx.Ind.TrendPct > 0.05:
		return model.DirBullish
	case ctx.Ind.TrendPct < -0.05:
		return model.DirBearish
	default:
		return model.DirNeutral
	}
}
