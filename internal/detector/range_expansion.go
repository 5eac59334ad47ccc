package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// RangeExpansionVolume fires when the latest interval's price range blows
// out past the configured multiple of its trailing average and option
// volume spikes with it. Expansion without volume is noise; both legs
// must clear. Direction follows the recent trend.
type RangeExpansionVolume struct{}

func (RangeExpansionVolume) Name() string { return "range_expansion_volume" }

func (RangeExpansionVolume) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Ind.TrailRngOK || ctx.Ind.TrailRange <= 0 {
		return nil
	}
	if !ctx.Ind.TrailVolOK || ctx.Ind.TrailVol <= 0 {
		return nil
	}

	curRange := pts(ctx.Snapshot.High - ctx.Snapshot.Low)
	rangeRatio := curRange / ctx.Ind.TrailRange
	if rangeRatio <= ctx.Cfg.RangeExpansionMult {
		return nil
	}
	volRatio := float64(ctx.Snapshot.OptionVolume()) / ctx.Ind.TrailVol
	if volRatio <= ctx.Cfg.VolumeSpikeMult {
		return nil
	}

	dir := trendDirection(ctx)
	strength := strengthBeyond(rangeRatio, ctx.Cfg.RangeExpansionMult)
	conf := 0.6 + 0.15*strength
	if volRatio >= 1.5*ctx.Cfg.VolumeSpikeMult {
		conf += 0.1
	}

	msg := fmt.Sprintf("range %.1f pts is %.1fx trailing average on %.1fx volume",
		curRange, rangeRatio, volRatio)
	return newSignal(ctx, "range_expansion_volume", dir, strength, conf, msg, map[string]float64{
		"range_pts":    curRange,
		"range_ratio":  rangeRatio,
		"volume_ratio": volRatio,
	})
}
