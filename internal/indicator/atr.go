package indicator

import "breakout-scanner/internal/model"

// ATR returns the average true range in points over the last period
// intervals. Each snapshot is treated as the candle of its polling
// interval with Spot as the close; the true range against the previous
// close needs one extra leading point, so ATR is unavailable below
// period+1 points.
func ATR(points []model.MarketSnapshot, period int) (float64, bool) {
	if period <= 0 || len(points) < period+1 {
		return 0, false
	}
	window := points[len(points)-period-1:]

	var sum float64
	for i := 1; i < len(window); i++ {
		sum += trueRange(&window[i], window[i-1].Spot)
	}
	return sum / float64(period), true
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|) in points.
func trueRange(s *model.MarketSnapshot, prevClose int64) float64 {
	hl := s.High - s.Low
	hc := s.High - prevClose
	if hc < 0 {
		hc = -hc
	}
	lc := s.Low - prevClose
	if lc < 0 {
		lc = -lc
	}
	tr := hl
	if hc > tr {
		tr = hc
	}
	if lc > tr {
		tr = lc
	}
	return model.Rupees(tr)
}
