package detector

import (
	"log"

	"breakout-scanner/internal/model"
)

// Runner evaluates every registered detector for one cycle. Each
// detector runs behind its own recover boundary: a panic is logged,
// counted through the OnPanic hook, and yields zero signals without
// disturbing the other detectors or the cycle.
//
// The runner also owns the time-of-day context: outside the optimal
// windows every fired signal's confidence is multiplied by the configured
// off-peak weight. Suppression windows (lunch, expiry tail) remain
// conditions inside the individual detectors.
type Runner struct {
	detectors []Detector

	// OnPanic, if set, is invoked with the detector name after a
	// recovered evaluation panic.
	OnPanic func(name string)

	// OnFire, if set, is invoked with the detector name for every
	// emitted signal.
	OnFire func(name string)
}

// NewRunner returns a runner with the full detector set registered in a
// fixed order, keeping cycle evaluation deterministic.
func NewRunner() *Runner {
	r := &Runner{}
	r.Register(OIWritingImbalance{})
	r.Register(VWAPVolumeBreakout{})
	r.Register(OIPriceDivergence{})
	r.Register(FirstHourBreakout{})
	r.Register(MaxPainShift{})
	r.Register(IVCrushStability{})
	r.Register(VolumeSpikeKeyLevel{})
	r.Register(RangeExpansionVolume{})
	r.Register(DeltaNeutralShift{})
	r.Register(VWAPOIConfluence{})
	r.Register(GammaFlip{})
	return r
}

// NewEmptyRunner returns a runner with no detectors registered.
func NewEmptyRunner() *Runner {
	return &Runner{}
}

// Register appends a detector. Evaluation follows registration order.
func (r *Runner) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Detectors returns the registered detector names in evaluation order.
func (r *Runner) Detectors() []string {
	names := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		names[i] = d.Name()
	}
	return names
}

// RunAll evaluates every detector against the cycle context and returns
// the raw fired signals with the off-peak weight already applied.
func (r *Runner) RunAll(ctx *Context) []model.BreakoutSignal {
	var out []model.BreakoutSignal
	for _, d := range r.detectors {
		sig := r.evaluate(d, ctx)
		if sig == nil {
			continue
		}
		if !ctx.Flags.Optimal && ctx.Cfg.OffPeakWeight > 0 {
			sig.Confidence = clamp01(sig.Confidence * ctx.Cfg.OffPeakWeight)
		}
		if r.OnFire != nil {
			r.OnFire(d.Name())
		}
		out = append(out, *sig)
	}
	return out
}

func (r *Runner) evaluate(d Detector, ctx *Context) (sig *model.BreakoutSignal) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[detector] %s: recovered from panic: %v", d.Name(), rec)
			if r.OnPanic != nil {
				r.OnPanic(d.Name())
			}
			sig = nil
		}
	}()
	return d.Evaluate(ctx)
}
