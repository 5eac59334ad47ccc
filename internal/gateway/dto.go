package gateway

import (
	"encoding/json"
	"time"

	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

// MarketStateView is the market_state channel and REST payload: the
// cycle's qualitative state block with its provenance.
type MarketStateView struct {
	CycleID string          `json:"cycle_id"`
	TS      time.Time       `json:"ts"`
	Spot    int64           `json:"spot"`
	State   json.RawMessage `json:"market_state"`
}

// ConfigView is the config channel and REST payload: the full active
// threshold map after a change.
type ConfigView struct {
	TS         time.Time          `json:"ts"`
	Thresholds map[string]float64 `json:"thresholds"`
}

// SignalsResponse is the REST response for signal listings.
type SignalsResponse struct {
	Signals []model.BreakoutSignal `json:"signals"`
	Count   int                    `json:"count"`
	TS      time.Time              `json:"ts"`
}

// PatternResponse is the REST response for one pattern's recent signals.
type PatternResponse struct {
	Pattern string                 `json:"pattern"`
	Signals []model.BreakoutSignal `json:"signals"`
	Count   int                    `json:"count"`
}

// SignalLogResponse is the REST response for the historical signal log.
type SignalLogResponse struct {
	Rows  []model.SignalRow `json:"rows"`
	Count int               `json:"count"`
}

// SessionResponse is the REST response for the session-gate view.
type SessionResponse struct {
	TS         time.Time     `json:"ts"`
	IST        string        `json:"ist"`
	MarketOpen bool          `json:"market_open"`
	Status     string        `json:"status"`
	Gate       session.Flags `json:"gate"`
}

// ReplayResponse carries buffered WS envelopes for gap backfill.
// OldestAvailable tells the client whether the requested range was
// already evicted; a from below it means the gap cannot be healed from
// replay and the latest REST state should be refetched.
type ReplayResponse struct {
	Channel         string            `json:"channel"`
	From            int64             `json:"from"`
	To              int64             `json:"to"`
	CurrentSeq      int64             `json:"current_seq"`
	OldestAvailable int64             `json:"oldest_available"`
	Envelopes       []json.RawMessage `json:"envelopes"`
}

// HealthResponse is the gateway health view.
type HealthResponse struct {
	Status    string `json:"status"`
	Redis     bool   `json:"redis"`
	SQLite    bool   `json:"sqlite"`
	WSClients int    `json:"ws_clients"`
	UptimeSec int64  `json:"uptime_sec"`
	TS        string `json:"ts"`
}

// APIError is the JSON error body for non-2xx responses.
type APIError struct {
	Error string `json:"error"`
}
