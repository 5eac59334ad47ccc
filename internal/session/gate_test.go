package session

import (
	"testing"
	"time"
)

// ist builds an IST wall-clock instant on a fixed March 2026 week:
// Mar 9 = Monday ... Mar 13 = Friday, Mar 7/8 = weekend.
func ist(day, hour, min int) time.Time {
	return time.Date(2026, time.March, day, hour, min, 0, 0, IST)
}

func TestGate_Tradable(t *testing.T) {
	g := NewGate(time.Tuesday)

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"tuesday 09:31", ist(10, 9, 31), true},
		{"tuesday 09:30 open boundary", ist(10, 9, 30), true},
		{"tuesday 09:29 before open", ist(10, 9, 29), false},
		{"tuesday 15:29 last minute", ist(10, 15, 29), true},
		{"tuesday 15:30 close boundary", ist(10, 15, 30), false},
		{"saturday morning", ist(7, 10, 0), false},
		{"saturday midday", ist(7, 12, 30), false},
		{"sunday", ist(8, 11, 0), false},
		{"friday 14:00", ist(13, 14, 0), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := g.Tradable(c.t); got != c.want {
				t.Errorf("Tradable(%s) = %v, want %v", c.t.Format("Mon 15:04"), got, c.want)
			}
		})
	}
}

func TestGate_TradableConvertsZone(t *testing.T) {
	g := NewGate(time.Tuesday)
	// 04:01 UTC on Tuesday Mar 10 is 09:31 IST.
	utc := time.Date(2026, time.March, 10, 4, 1, 0, 0, time.UTC)
	if !g.Tradable(utc) {
		t.Error("04:01 UTC Tuesday should be tradable (09:31 IST)")
	}
}

func TestGate_Optimal(t *testing.T) {
	g := NewGate(time.Tuesday)

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"morning window", ist(10, 10, 15), true},
		{"morning end boundary 11:30", ist(10, 11, 30), false},
		{"midday", ist(10, 13, 0), false},
		{"afternoon window", ist(10, 14, 45), true},
		{"afternoon end boundary 15:15", ist(10, 15, 15), false},
		{"weekend", ist(7, 10, 15), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := g.Optimal(c.t); got != c.want {
				t.Errorf("Optimal(%s) = %v, want %v", c.t.Format("Mon 15:04"), got, c.want)
			}
		})
	}
}

func TestGate_Lunch(t *testing.T) {
	g := NewGate(time.Tuesday)

	// Wednesday 12:30 sits in the lunch lull: OI-driven detectors must
	// treat this as suppressed even if their thresholds are met.
	if !g.Lunch(ist(11, 12, 30)) {
		t.Error("wednesday 12:30 should be lunch")
	}
	if g.Lunch(ist(11, 11, 59)) {
		t.Error("11:59 is before lunch")
	}
	if g.Lunch(ist(11, 14, 0)) {
		t.Error("14:00 is past lunch")
	}
}

func TestGate_ExpiryTail(t *testing.T) {
	cases := []struct {
		name   string
		expiry time.Weekday
		t      time.Time
		want   bool
	}{
		{"expiry day 15:05", time.Tuesday, ist(10, 15, 5), true},
		{"expiry day 15:00 boundary", time.Tuesday, ist(10, 15, 0), true},
		{"expiry day 14:59", time.Tuesday, ist(10, 14, 59), false},
		{"non-expiry weekday 15:05", time.Tuesday, ist(11, 15, 5), false},
		{"thursday expiry honored", time.Thursday, ist(12, 15, 10), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := NewGate(c.expiry)
			if got := g.ExpiryTail(c.t); got != c.want {
				t.Errorf("ExpiryTail(%s) = %v, want %v", c.t.Format("Mon 15:04"), got, c.want)
			}
		})
	}
}

func TestGate_Flags(t *testing.T) {
	g := NewGate(time.Tuesday)

	f := g.Flags(ist(10, 15, 5)) // Tuesday 15:05
	if !f.Tradable {
		t.Error("15:05 should be tradable")
	}
	if !f.Optimal {
		t.Error("15:05 sits inside the 14:30-15:15 afternoon window")
	}
	if f.Lunch {
		t.Error("15:05 is not lunch")
	}
	if !f.ExpiryTail {
		t.Error("tuesday 15:05 should be expiry tail")
	}

	// Past the afternoon window the tail keeps running but the optimal
	// flag drops.
	f = g.Flags(ist(10, 15, 16))
	if !f.Tradable || f.Optimal {
		t.Errorf("15:16 should be tradable but not optimal, got %+v", f)
	}
	if !f.ExpiryTail {
		t.Error("tuesday 15:16 should still be expiry tail")
	}
}

func TestIsMarketOpen_Holiday(t *testing.T) {
	// Republic Day 2026 falls on a Monday; the feed never opens.
	republicDay := time.Date(2026, time.January, 26, 10, 0, 0, 0, IST)
	if IsMarketOpen(republicDay) {
		t.Error("Republic Day should not be a market day")
	}
	// The pure gate ignores holidays: the polling loop owns that check.
	if !NewGate(time.Tuesday).Tradable(republicDay) {
		t.Error("gate is holiday-blind: Monday 10:00 passes the window check")
	}
}
