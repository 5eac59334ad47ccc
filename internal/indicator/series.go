package indicator

import (
	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

// TrendPct returns the percentage spot change across the last window
// points (first to last).
func TrendPct(points []model.MarketSnapshot, window int) (float64, bool) {
	if window < 2 || len(points) < window {
		return 0, false
	}
	first := points[len(points)-window]
	last := points[len(points)-1]
	if first.Spot == 0 {
		return 0, false
	}
	return float64(last.Spot-first.Spot) / float64(first.Spot) * 100, true
}

// TrailingVolume returns the mean combined option volume of the window
// points preceding the latest one. Excluding the latest keeps a spike
// from inflating its own baseline. Needs window+1 points.
func TrailingVolume(points []model.MarketSnapshot, window int) (float64, bool) {
	if window <= 0 || len(points) < window+1 {
		return 0, false
	}
	prior := points[len(points)-window-1 : len(points)-1]
	var sum int64
	for i := range prior {
		sum += prior[i].OptionVolume()
	}
	return float64(sum) / float64(window), true
}

// TrailingRange returns the mean interval range (high-low, points) of the
// window points preceding the latest one. Needs window+1 points.
func TrailingRange(points []model.MarketSnapshot, window int) (float64, bool) {
	if window <= 0 || len(points) < window+1 {
		return 0, false
	}
	prior := points[len(points)-window-1 : len(points)-1]
	var sum float64
	for i := range prior {
		sum += model.Rupees(prior[i].High - prior[i].Low)
	}
	return sum / float64(window), true
}

// WindowLevels returns the highest interval high and lowest interval low
// of the last window points: the support/resistance pair surfaced with
// each cycle. Uses whatever points exist when fewer than window are held.
func WindowLevels(points []model.MarketSnapshot, window int) (high, low int64, ok bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	start := len(points) - window
	if start < 0 {
		start = 0
	}
	w := points[start:]
	high, low = w[0].High, w[0].Low
	for i := 1; i < len(w); i++ {
		if w[i].High > high {
			high = w[i].High
		}
		if w[i].Low < low && w[i].Low > 0 {
			low = w[i].Low
		}
	}
	return high, low, true
}

// PrevDayLevels returns the interval high/low extremes of the most recent
// session day in history before the latest point's day. ok is false when
// history holds only the current session.
func PrevDayLevels(points []model.MarketSnapshot) (high, low int64, ok bool) {
	if len(points) < 2 {
		return 0, 0, false
	}
	latest := points[len(points)-1]

	// Walk backwards past the current session, then collect the one before.
	i := len(points) - 1
	for i >= 0 && session.SameSessionDay(points[i].TS, latest.TS) {
		i--
	}
	if i < 0 {
		return 0, 0, false
	}
	prevDay := points[i].TS
	for ; i >= 0 && session.SameSessionDay(points[i].TS, prevDay); i-- {
		if points[i].High > high {
			high = points[i].High
		}
		if low == 0 || (points[i].Low < low && points[i].Low > 0) {
			low = points[i].Low
		}
	}
	return high, low, true
}

// FirstHourLevels returns the interval high/low extremes of the latest
// session's first trading hour (09:15-10:15 IST). ok requires the latest
// point to be past the first hour and at least one point inside it.
func FirstHourLevels(points []model.MarketSnapshot) (high, low int64, ok bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	latest := points[len(points)-1]
	ist := latest.TS.In(session.IST)
	endHM := (session.OpenHour+1)*60 + session.OpenMinute
	if ist.Hour()*60+ist.Minute() < endHM {
		return 0, 0, false
	}

	var seen bool
	for i := range points {
		if !session.SameSessionDay(points[i].TS, latest.TS) {
			continue
		}
		pi := points[i].TS.In(session.IST)
		hm := pi.Hour()*60 + pi.Minute()
		if hm < session.OpenHour*60+session.OpenMinute || hm >= endHM {
			continue
		}
		if !seen {
			high, low = points[i].High, points[i].Low
			seen = true
			continue
		}
		if points[i].High > high {
			high = points[i].High
		}
		if points[i].Low < low && points[i].Low > 0 {
			low = points[i].Low
		}
	}
	return high, low, seen
}
