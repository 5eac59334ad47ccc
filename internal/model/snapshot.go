package model

import (
	"encoding/json"
	"sort"
	"time"
)

// OptionQuote holds one side (call or put) of a single strike at one
// polling instant. All prices are in paise (int64) to avoid floating-point
// drift; implied volatility is an annualized percentage.
type OptionQuote struct {
	LastPrice   int64   `json:"last_price"`   // paise
	Volume      int64   `json:"volume"`       // contracts traded since the previous snapshot
	OI          int64   `json:"oi"`           // open interest
	PriceChange int64   `json:"price_change"` // paise, vs previous close
	IV          float64 `json:"iv"`           // implied volatility, percent
}

// StrikeRow is one rung of the option chain: a strike with its call and
// put quotes. Chains are kept sorted ascending by strike.
type StrikeRow struct {
	Strike int64       `json:"strike"` // paise
	Call   OptionQuote `json:"call"`
	Put    OptionQuote `json:"put"`
}

// MarketSnapshot is one polling cycle's view of the underlying index and
// its option chain. Each snapshot doubles as the interval candle since the
// previous poll: High/Low bound that interval and Spot closes it. Strikes
// lie on a fixed grid; ATMStrike is recomputed each snapshot by rounding
// spot to the nearest grid strike.
type MarketSnapshot struct {
	Token       string      `json:"token"`
	Exchange    string      `json:"exchange"`
	TS          time.Time   `json:"ts"`
	Spot        int64       `json:"spot"`         // paise
	Open        int64       `json:"open"`         // paise, session open
	High        int64       `json:"high"`         // paise, interval high
	Low         int64       `json:"low"`          // paise, interval low
	DayHigh     int64       `json:"day_high"`     // paise, session high so far
	DayLow      int64       `json:"day_low"`      // paise, session low so far
	PrevClose   int64       `json:"prev_close"`   // paise, previous session close
	TotalVolume int64       `json:"total_volume"` // cumulative session quantity
	ATMStrike   int64       `json:"atm_strike"`   // paise
	Chain       []StrikeRow `json:"chain"`        // ascending by strike
}

// Key returns a unique key for this snapshot's underlying: "exchange:token".
func (s *MarketSnapshot) Key() string {
	return s.Exchange + ":" + s.Token
}

// JSON returns the JSON-encoded snapshot (ignoring errors for hot-path usage).
func (s *MarketSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// StrikeIndex returns the chain index of the given strike, or -1 when the
// strike is not present. The chain must be sorted ascending.
func (s *MarketSnapshot) StrikeIndex(strike int64) int {
	i := sort.Search(len(s.Chain), func(i int) bool { return s.Chain[i].Strike >= strike })
	if i < len(s.Chain) && s.Chain[i].Strike == strike {
		return i
	}
	return -1
}

// ATMRow returns the chain row at the ATM strike. ok is false when the
// chain has no row for the ATM strike (missing chain data).
func (s *MarketSnapshot) ATMRow() (StrikeRow, bool) {
	i := s.StrikeIndex(s.ATMStrike)
	if i < 0 {
		return StrikeRow{}, false
	}
	return s.Chain[i], true
}

// OptionVolume returns the combined call+put traded volume across every
// strike in the chain.
func (s *MarketSnapshot) OptionVolume() int64 {
	var v int64
	for i := range s.Chain {
		v += s.Chain[i].Call.Volume + s.Chain[i].Put.Volume
	}
	return v
}

// TotalOI returns the summed call and put open interest across the chain.
func (s *MarketSnapshot) TotalOI() (callOI, putOI int64) {
	for i := range s.Chain {
		callOI += s.Chain[i].Call.OI
		putOI += s.Chain[i].Put.OI
	}
	return callOI, putOI
}

// NearestStrike rounds a spot price to the nearest strike on a grid with
// the given gap. Exact midpoints round up.
func NearestStrike(spot, gap int64) int64 {
	if gap <= 0 {
		return spot
	}
	return ((spot + gap/2) / gap) * gap
}
