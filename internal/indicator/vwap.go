package indicator

import "breakout-scanner/internal/model"

// VWAP returns the volume-weighted average spot over the last lookback
// points, weighted by each point's combined call+put option volume across
// the chain. Falls back to the unweighted mean when no option volume
// traded in the window. Unavailable below lookback points.
func VWAP(points []model.MarketSnapshot, lookback int) (float64, bool) {
	if lookback <= 0 || len(points) < lookback {
		return 0, false
	}
	window := points[len(points)-lookback:]

	var weighted float64
	var totalVol int64
	for i := range window {
		vol := window[i].OptionVolume()
		weighted += model.Rupees(window[i].Spot) * float64(vol)
		totalVol += vol
	}
	if totalVol == 0 {
		var sum float64
		for i := range window {
			sum += model.Rupees(window[i].Spot)
		}
		return sum / float64(lookback), true
	}
	return weighted / float64(totalVol), true
}
