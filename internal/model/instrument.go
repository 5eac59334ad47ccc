package model

import "time"

// IndexSpec describes the scanned index and its option grid.
type IndexSpec struct {
	Token         string       `json:"token"`
	Exchange      string       `json:"exchange"`
	Name          string       `json:"name"`
	LotSize       int          `json:"lot_size"`
	StrikeGap     int64        `json:"strike_gap"`     // paise between adjacent strikes
	GridSteps     int          `json:"grid_steps"`     // strikes fetched each side of ATM
	ExpiryWeekday time.Weekday `json:"expiry_weekday"` // weekly option expiry day
}

// Key returns a unique key for this index: "exchange:token".
func (s *IndexSpec) Key() string {
	return s.Exchange + ":" + s.Token
}

// NiftySpec returns the default scan target: the NIFTY 50 index with its
// 50-point strike grid and Tuesday weekly expiry.
func NiftySpec() IndexSpec {
	return IndexSpec{
		Token:         "99926000",
		Exchange:      "NSE",
		Name:          "NIFTY",
		LotSize:       75,
		StrikeGap:     50_00,
		GridSteps:     10,
		ExpiryWeekday: time.Tuesday,
	}
}
