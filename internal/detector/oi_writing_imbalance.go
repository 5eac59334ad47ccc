package detector

import (
	"fmt"

	"breakout-scanner/internal/model"
)

// OIWritingImbalance fires when open interest change at the ATM strike is
// lopsided between calls and puts.
//
// Call-led writing (|dCallOI| > ratio * |dPutOI|) reads bearish: writers
// are selling calls above the market. Put-led writing reads bullish.
// Only evaluated inside the tradable window and never during the lunch
// lull, where OI flow is too thin to trust.
type OIWritingImbalance struct{}

func (OIWritingImbalance) Name() string { return "oi_writing_imbalance" }

func (OIWritingImbalance) Evaluate(ctx *Context) *model.BreakoutSignal {
	if !ctx.Flags.Tradable || ctx.Flags.Lunch {
		return nil
	}
	if !ctx.Ind.OIFlowOK {
		return nil
	}

	thr := ctx.Cfg.OIImbalanceRatio
	ratio := ctx.Ind.OIRatio

	var dir model.Direction
	var dominant float64
	switch {
	case ratio > thr:
		dir = model.DirBearish // call-led
		dominant = ratio
	case ratio > 0 && 1/ratio > thr:
		dir = model.DirBullish // put-led
		dominant = 1 / ratio
	default:
		return nil
	}

	strength := strengthBeyond(dominant, thr)
	conf := 0.5 + 0.3*strength
	// Fresh writing (OI building up) carries more conviction than
	// unwinding on the dominant side.
	if (dir == model.DirBearish && ctx.Ind.CallOIDelta > 0) ||
		(dir == model.DirBullish && ctx.Ind.PutOIDelta > 0) {
		conf += 0.1
	}

	side := "call"
	if dir == model.DirBullish {
		side = "put"
	}
	msg := fmt.Sprintf("%s-side OI writing %.2fx the other side at ATM %.0f", side, dominant, pts(ctx.Snapshot.ATMStrike))
	return newSignal(ctx, "oi_writing_imbalance", dir, strength, conf, msg, map[string]float64{
		"ratio":         ratio,
		"threshold":     thr,
		"call_oi_delta": float64(ctx.Ind.CallOIDelta),
		"put_oi_delta":  float64(ctx.Ind.PutOIDelta),
	})
}
