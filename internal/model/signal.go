package model

import (
	"encoding/json"
	"time"
)

// Direction is the directional read of a signal.
type Direction string

const (
	DirBullish Direction = "BULLISH"
	DirBearish Direction = "BEARISH"
	DirNeutral Direction = "NEUTRAL"
)

// Priority buckets signals by confidence for alerting and display.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Confidence cutoffs for priority assignment.
const (
	HighConfidence   = 0.8
	MediumConfidence = 0.6
)

// Strength cutoffs for summary bucketing.
const (
	StrongStrength   = 0.7
	ModerateStrength = 0.4
)

// PriorityFromConfidence maps a confidence score onto a priority bucket.
func PriorityFromConfidence(c float64) Priority {
	switch {
	case c >= HighConfidence:
		return PriorityHigh
	case c >= MediumConfidence:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// StrengthBucket labels a strength score: STRONG, MODERATE or WEAK.
func StrengthBucket(s float64) string {
	switch {
	case s >= StrongStrength:
		return "STRONG"
	case s >= ModerateStrength:
		return "MODERATE"
	default:
		return "WEAK"
	}
}

// BreakoutSignal is one detected pattern occurrence. Signals are created
// fresh each cycle and never mutated after creation.
type BreakoutSignal struct {
	ID         string             `json:"id"`
	Pattern    string             `json:"pattern"`
	Direction  Direction          `json:"direction"`
	Strength   float64            `json:"strength"`   // 0..1, distance beyond threshold
	Confidence float64            `json:"confidence"` // 0..1
	Message    string             `json:"message"`
	Evidence   map[string]float64 `json:"evidence,omitempty"`
	TS         time.Time          `json:"ts"`
	Target     int64              `json:"target,omitempty"` // paise, 0 = none
	Stop       int64              `json:"stop,omitempty"`   // paise, 0 = none
	Timeframe  string             `json:"timeframe"`        // e.g. "intraday"
	Priority   Priority           `json:"priority"`
	Actionable bool               `json:"actionable"`
}

// JSON returns the JSON-encoded signal.
func (s *BreakoutSignal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
