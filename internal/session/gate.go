package session

import "time"

// Trading-window boundaries in IST, minutes from midnight. Windows are
// inclusive of their start and exclusive of their end.
const (
	tradableStart = 9*60 + 30  // 09:30
	tradableEnd   = 15*60 + 30 // 15:30

	morningStart   = 9*60 + 30  // 09:30
	morningEnd     = 11*60 + 30 // 11:30
	afternoonStart = 14*60 + 30 // 14:30
	afternoonEnd   = 15*60 + 15 // 15:15

	lunchStart = 12 * 60 // 12:00
	lunchEnd   = 14 * 60 // 14:00

	expiryTailStart = 15 * 60 // 15:00
)

// Gate is the pure trading-window gate detectors consult. It is a
// function of wall-clock weekday and minute only; holidays are the
// polling loop's concern, not the gate's.
type Gate struct {
	ExpiryWeekday time.Weekday
}

// NewGate returns a gate with the given weekly option expiry weekday.
func NewGate(expiry time.Weekday) Gate {
	return Gate{ExpiryWeekday: expiry}
}

// Flags is one evaluation of every gate window at a single instant.
type Flags struct {
	Tradable   bool `json:"tradable"`
	Optimal    bool `json:"optimal"`
	Lunch      bool `json:"lunch"`
	ExpiryTail bool `json:"expiry_tail"`
}

// Tradable reports whether t is inside the signal window:
// 09:30–15:30 IST, Monday through Friday.
func (g Gate) Tradable(t time.Time) bool {
	ist := t.In(IST)
	if !isWeekday(ist) {
		return false
	}
	hm := minuteOfDay(ist)
	return hm >= tradableStart && hm < tradableEnd
}

// Optimal reports whether t is inside one of the high-conviction windows:
// 09:30–11:30 or 14:30–15:15 IST on a weekday.
func (g Gate) Optimal(t time.Time) bool {
	ist := t.In(IST)
	if !isWeekday(ist) {
		return false
	}
	hm := minuteOfDay(ist)
	return (hm >= morningStart && hm < morningEnd) ||
		(hm >= afternoonStart && hm < afternoonEnd)
}

// Lunch reports whether t falls in the 12:00–14:00 IST lull where open
// interest flow reads are unreliable and OI-driven detectors stay quiet.
func (g Gate) Lunch(t time.Time) bool {
	ist := t.In(IST)
	if !isWeekday(ist) {
		return false
	}
	hm := minuteOfDay(ist)
	return hm >= lunchStart && hm < lunchEnd
}

// ExpiryTail reports whether t is at or past 15:00 IST on the weekly
// expiry weekday, when pin risk distorts Max Pain moves.
func (g Gate) ExpiryTail(t time.Time) bool {
	ist := t.In(IST)
	if ist.Weekday() != g.ExpiryWeekday {
		return false
	}
	return minuteOfDay(ist) >= expiryTailStart
}

// Flags evaluates every window at t.
func (g Gate) Flags(t time.Time) Flags {
	return Flags{
		Tradable:   g.Tradable(t),
		Optimal:    g.Optimal(t),
		Lunch:      g.Lunch(t),
		ExpiryTail: g.ExpiryTail(t),
	}
}

func isWeekday(ist time.Time) bool {
	wd := ist.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func minuteOfDay(ist time.Time) int {
	return ist.Hour()*60 + ist.Minute()
}
