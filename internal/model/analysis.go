package model

import (
	"encoding/json"
	"time"
)

// SignalSummary aggregates one cycle's surfaced signals by direction,
// strength and priority. Bias is the majority direction (NEUTRAL on tie);
// AvgConfidence is the mean confidence of the surfaced signals.
type SignalSummary struct {
	Total         int       `json:"total"`
	Bullish       int       `json:"bullish"`
	Bearish       int       `json:"bearish"`
	Neutral       int       `json:"neutral"`
	High          int       `json:"high_priority"`
	Medium        int       `json:"medium_priority"`
	Low           int       `json:"low_priority"`
	Strong        int       `json:"strong"`
	Moderate      int       `json:"moderate"`
	Weak          int       `json:"weak"`
	Bias          Direction `json:"bias"`
	AvgConfidence float64   `json:"avg_confidence"`
}

// KeyLevels are the price levels surfaced with each cycle. Zero means the
// level could not be computed this cycle.
type KeyLevels struct {
	Support    int64 `json:"support"`    // paise, recent window low
	Resistance int64 `json:"resistance"` // paise, recent window high
	VWAP       int64 `json:"vwap"`       // paise
	MaxPain    int64 `json:"max_pain"`   // paise, strike
}

// MarketState is the coarse market context computed alongside signals.
type MarketState struct {
	Trend      string    `json:"trend"`      // UP / DOWN / SIDEWAYS
	Volatility string    `json:"volatility"` // LOW / MEDIUM / HIGH
	Volume     string    `json:"volume"`     // LOW / NORMAL / HIGH
	Levels     KeyLevels `json:"levels"`
}

// AnalysisResult is the complete outcome of one analysis cycle: the
// surfaced signals, their summary, and the market state. A cycle with no
// firing detectors still produces a well-formed result with empty Signals.
type AnalysisResult struct {
	CycleID   string           `json:"cycle_id"`
	Token     string           `json:"token"`
	Exchange  string           `json:"exchange"`
	TS        time.Time        `json:"ts"`
	Spot      int64            `json:"spot"` // paise
	ATMStrike int64            `json:"atm_strike"`
	Signals   []BreakoutSignal `json:"signals"`
	Summary   SignalSummary    `json:"summary"`
	State     MarketState      `json:"market_state"`
}

// Key returns "exchange:token" for the analyzed underlying.
func (r *AnalysisResult) Key() string {
	return r.Exchange + ":" + r.Token
}

// JSON returns the JSON-encoded result.
func (r *AnalysisResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// SignalRow is the flattened persistence form of one surfaced signal:
// the signal fields plus the raw market values of its cycle, shaped for
// a single relational row.
type SignalRow struct {
	TS         time.Time `json:"ts"`
	CycleID    string    `json:"cycle_id"`
	Pattern    string    `json:"pattern"`
	Direction  Direction `json:"direction"`
	Strength   float64   `json:"strength"`
	Confidence float64   `json:"confidence"`
	Priority   Priority  `json:"priority"`
	Actionable bool      `json:"actionable"`
	Message    string    `json:"message"`
	Spot       int64     `json:"spot"`       // paise
	ATMStrike  int64     `json:"atm_strike"` // paise
	VWAP       int64     `json:"vwap"`       // paise
	MaxPain    int64     `json:"max_pain"`   // paise
}

// Rows flattens the result's signals into persistence rows carrying the
// cycle's market values.
func (r *AnalysisResult) Rows() []SignalRow {
	rows := make([]SignalRow, 0, len(r.Signals))
	for i := range r.Signals {
		s := &r.Signals[i]
		rows = append(rows, SignalRow{
			TS:         s.TS,
			CycleID:    r.CycleID,
			Pattern:    s.Pattern,
			Direction:  s.Direction,
			Strength:   s.Strength,
			Confidence: s.Confidence,
			Priority:   s.Priority,
			Actionable: s.Actionable,
			Message:    s.Message,
			Spot:       r.Spot,
			ATMStrike:  r.ATMStrike,
			VWAP:       r.State.Levels.VWAP,
			MaxPain:    r.State.Levels.MaxPain,
		})
	}
	return rows
}
