package engine

import (
	"sort"

	"breakout-scanner/internal/detector"
	"breakout-scanner/internal/indicator"
	"breakout-scanner/internal/model"
)

// Volume ratio buckets for the market-state label.
const (
	volumeLowRatio  = 0.7
	volumeHighRatio = 1.5
)

// Trend slope below this magnitude (percent over the trend window) reads
// as sideways.
const trendFlatPct = 0.1

// aggregate filters, ranks and summarizes one cycle's raw signals and
// attaches the qualitative market state.
func aggregate(cycleID string, snap model.MarketSnapshot, ind indicator.Set, raw []model.BreakoutSignal, cfg detector.Config) model.AnalysisResult {
	signals := make([]model.BreakoutSignal, 0, len(raw))
	for _, s := range raw {
		if s.Confidence < cfg.MinConfidence {
			continue
		}
		s.Priority = model.PriorityFromConfidence(s.Confidence)
		s.Actionable = s.Direction != model.DirNeutral && s.Confidence >= model.MediumConfidence
		signals = append(signals, s)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signals[i].TS.After(signals[j].TS)
	})

	return model.AnalysisResult{
		CycleID:   cycleID,
		Token:     snap.Token,
		Exchange:  snap.Exchange,
		TS:        snap.TS,
		Spot:      snap.Spot,
		ATMStrike: snap.ATMStrike,
		Signals:   signals,
		Summary:   summarize(signals),
		State:     marketState(snap, ind, cfg),
	}
}

func summarize(signals []model.BreakoutSignal) model.SignalSummary {
	sum := model.SignalSummary{Total: len(signals), Bias: model.DirNeutral}
	var confSum float64
	for i := range signals {
		s := &signals[i]
		confSum += s.Confidence
		switch s.Direction {
		case model.DirBullish:
			sum.Bullish++
		case model.DirBearish:
			sum.Bearish++
		default:
			sum.Neutral++
		}
		switch s.Priority {
		case model.PriorityHigh:
			sum.High++
		case model.PriorityMedium:
			sum.Medium++
		default:
			sum.Low++
		}
		switch model.StrengthBucket(s.Strength) {
		case "STRONG":
			sum.Strong++
		case "MODERATE":
			sum.Moderate++
		default:
			sum.Weak++
		}
	}
	if sum.Bullish > sum.Bearish {
		sum.Bias = model.DirBullish
	} else if sum.Bearish > sum.Bullish {
		sum.Bias = model.DirBearish
	}
	if len(signals) > 0 {
		sum.AvgConfidence = confSum / float64(len(signals))
	}
	return sum
}

// marketState builds the qualitative labels from whichever indicators
// were computable. Anything unavailable falls back to the middle bucket
// and a zero level.
func marketState(snap model.MarketSnapshot, ind indicator.Set, cfg detector.Config) model.MarketState {
	state := model.MarketState{Trend: "SIDEWAYS", Volatility: "MEDIUM", Volume: "NORMAL"}

	if ind.TrendOK {
		switch {
		case ind.TrendPct > trendFlatPct:
			state.Trend = "UP"
		case ind.TrendPct < -trendFlatPct:
			state.Trend = "DOWN"
		}
	}

	if ind.BBWidthOK {
		switch {
		case ind.BBWidth < cfg.CompressionWidthPct:
			state.Volatility = "LOW"
		case ind.BBWidth > 3*cfg.CompressionWidthPct:
			state.Volatility = "HIGH"
		}
	}

	if ind.TrailVolOK && ind.TrailVol > 0 {
		ratio := float64(snap.OptionVolume()) / ind.TrailVol
		switch {
		case ratio < volumeLowRatio:
			state.Volume = "LOW"
		case ratio > volumeHighRatio:
			state.Volume = "HIGH"
		}
	}

	if ind.LevelsOK {
		state.Levels.Support = ind.WindowLow
		state.Levels.Resistance = ind.WindowHigh
	}
	if ind.VWAPOK {
		state.Levels.VWAP = model.Paise(ind.VWAP)
	}
	if ind.MaxPainOK {
		state.Levels.MaxPain = ind.MaxPain
	}
	return state
}
