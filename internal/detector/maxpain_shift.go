package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// MaxPainShift fires when the max-pain strike moved more than the
// configured distance since the previous cycle and the new strike carries
// real open interest (at least the chain's per-strike average), reading
// the move as a shift in where writers want the index pinned. Suppressed
// in the expiry tail, where pin effects distort the metric.
type MaxPainShift struct{}

func (MaxPainShift) Name() string { return "max_pain_shift" }

func (MaxPainShift) Evaluate(ctx *Context) *model.BreakoutSignal {
	if ctx.Flags.ExpiryTail {
		return nil
	}
	if !ctx.Ind.MaxPainOK || !ctx.Prev.MaxPainOK {
		return nil
	}

	cur, prev := ctx.Ind.MaxPain, ctx.Prev.MaxPain
	shift := cur - prev
	shiftPts := abs(pts(shift))
	if shiftPts <= ctx.Cfg.MaxPainShiftPts {
		return nil
	}
	if !oiSupported(ctx.Snapshot, cur) {
		return nil
	}

	dir := model.DirBullish
	if shift < 0 {
		dir = model.DirBearish
	}

	strength := strengthBeyond(shiftPts, ctx.Cfg.MaxPainShiftPts)
	conf := 0.6
	if shiftPts >= 2*ctx.Cfg.MaxPainShiftPts {
		conf += 0.1
	}
	if strongOI(ctx.Snapshot, cur) {
		conf += 0.1
	}

	msg := fmt.Sprintf("max pain moved %.0f -> %.0f (%+.0f pts)", pts(prev), pts(cur), pts(shift))
	return newSignal(ctx, "max_pain_shift", dir, strength, conf, msg, map[string]float64{
		"max_pain":      pts(cur),
		"prev_max_pain": pts(prev),
		"shift_pts":     pts(shift),
	})
}

// oiSupported requires the strike to hold at least the chain's average
// per-strike open interest.
func oiSupported(s model.MarketSnapshot, strike int64) bool {
	i := s.StrikeIndex(strike)
	if i < 0 || len(s.Chain) == 0 {
		return false
	}
	callOI, putOI := s.TotalOI()
	avg := (callOI + putOI) / int64(len(s.Chain))
	rowOI := s.Chain[i].Call.OI + s.Chain[i].Put.OI
	return rowOI >= avg
}

// strongOI is oiSupported at 1.5x the average.
func strongOI(s model.MarketSnapshot, strike int64) bool {
	i := s.StrikeIndex(strike)
	if i < 0 || len(s.Chain) == 0 {
		return false
	}
	callOI, putOI := s.TotalOI()
	avg := (callOI + putOI) / int64(len(s.Chain))
	rowOI := s.Chain[i].Call.OI + s.Chain[i].Put.OI
	return rowOI*2 >= avg*3
}
