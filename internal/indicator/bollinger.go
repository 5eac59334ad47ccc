package indicator

import (
	"math"

	"breakout-scanner/internal/model"
)

// BollingerWidth returns the band width as a percentage of the middle
// band: (upper-lower)/SMA * 100 with bands at SMA +/- k standard
// deviations of spot. Unavailable below period points, which callers must
// treat as "not compressed": a compression-gated detector must not fire
// on missing data.
func BollingerWidth(points []model.MarketSnapshot, period int, k float64) (float64, bool) {
	sma, ok := SpotSMA(points, period)
	if !ok || sma == 0 {
		return 0, false
	}
	sd, ok := SpotStdDev(points, period)
	if !ok {
		return 0, false
	}
	return (2 * k * sd) / sma * 100, true
}

// SpotSMA returns the simple moving average of spot in rupees over the
// last period points.
func SpotSMA(points []model.MarketSnapshot, period int) (float64, bool) {
	if period <= 0 || len(points) < period {
		return 0, false
	}
	window := points[len(points)-period:]
	var sum float64
	for i := range window {
		sum += model.Rupees(window[i].Spot)
	}
	return sum / float64(period), true
}

// SpotStdDev returns the population standard deviation of spot in rupees
// over the last period points.
func SpotStdDev(points []model.MarketSnapshot, period int) (float64, bool) {
	mean, ok := SpotSMA(points, period)
	if !ok {
		return 0, false
	}
	window := points[len(points)-period:]
	var ss float64
	for i := range window {
		d := model.Rupees(window[i].Spot) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(period)), true
}
