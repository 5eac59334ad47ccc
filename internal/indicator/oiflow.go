package indicator

import "breakout-scanner/internal/model"

// OIImbalance compares open interest change at the current ATM strike
// between the latest point and the previous one, returning
// |dCallOI| / |dPutOI| plus the raw signed deltas so callers can classify
// call-led vs put-led flow. ok is false when either point lacks the ATM
// strike, or when dPutOI is zero: an undefined ratio is "no signal",
// never a fired condition.
func OIImbalance(cur, prev model.MarketSnapshot) (ratio float64, callDelta, putDelta int64, ok bool) {
	curRow, found := cur.ATMRow()
	if !found {
		return 0, 0, 0, false
	}
	pi := prev.StrikeIndex(cur.ATMStrike)
	if pi < 0 {
		return 0, 0, 0, false
	}
	prevRow := prev.Chain[pi]

	callDelta = curRow.Call.OI - prevRow.Call.OI
	putDelta = curRow.Put.OI - prevRow.Put.OI
	if putDelta == 0 {
		return 0, callDelta, putDelta, false
	}
	ratio = abs64f(callDelta) / abs64f(putDelta)
	return ratio, callDelta, putDelta, true
}

// NearShareChange returns the call share of near-ATM open interest
// (ATM strike and one grid step each side) for the latest and previous
// points. ok requires both points to have near-ATM rows with nonzero
// combined OI.
func NearShareChange(cur, prev model.MarketSnapshot) (curShare, prevShare float64, ok bool) {
	curShare, ok = nearCallShare(cur)
	if !ok {
		return 0, 0, false
	}
	prevShare, ok = nearCallShare(prev)
	if !ok {
		return 0, 0, false
	}
	return curShare, prevShare, true
}

func nearCallShare(s model.MarketSnapshot) (float64, bool) {
	i := s.StrikeIndex(s.ATMStrike)
	if i < 0 {
		return 0, false
	}
	lo, hi := i-1, i+1
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.Chain)-1 {
		hi = len(s.Chain) - 1
	}
	var callOI, putOI int64
	for j := lo; j <= hi; j++ {
		callOI += s.Chain[j].Call.OI
		putOI += s.Chain[j].Put.OI
	}
	total := callOI + putOI
	if total == 0 {
		return 0, false
	}
	return float64(callOI) / float64(total), true
}

// ATMIV returns the latest ATM call and put implied vols.
func ATMIV(s model.MarketSnapshot) (callIV, putIV float64, ok bool) {
	row, found := s.ATMRow()
	if !found {
		return 0, 0, false
	}
	return row.Call.IV, row.Put.IV, true
}

// ATMIVSeries returns the mean of ATM call and put IV for each of the
// last n points, oldest-first. Every point must have its own ATM row.
func ATMIVSeries(points []model.MarketSnapshot, n int) ([]float64, bool) {
	if n <= 0 || len(points) < n {
		return nil, false
	}
	window := points[len(points)-n:]
	out := make([]float64, n)
	for i := range window {
		row, found := window[i].ATMRow()
		if !found {
			return nil, false
		}
		out[i] = (row.Call.IV + row.Put.IV) / 2
	}
	return out, true
}

// Divergence measures the joint move of spot, total chain OI and ATM IV
// between the latest point and window-1 points earlier. Spot and OI
// changes are percentages; the IV change is in percentage points.
func Divergence(points []model.MarketSnapshot, window int) (spotPct, oiPct, ivDelta float64, ok bool) {
	if window < 2 || len(points) < window {
		return 0, 0, 0, false
	}
	first := points[len(points)-window]
	last := points[len(points)-1]

	if first.Spot == 0 {
		return 0, 0, 0, false
	}
	spotPct = float64(last.Spot-first.Spot) / float64(first.Spot) * 100

	fc, fp := first.TotalOI()
	lc, lp := last.TotalOI()
	firstOI, lastOI := fc+fp, lc+lp
	if firstOI == 0 {
		return 0, 0, 0, false
	}
	oiPct = float64(lastOI-firstOI) / float64(firstOI) * 100

	firstRow, found := first.ATMRow()
	if !found {
		return 0, 0, 0, false
	}
	lastRow, found := last.ATMRow()
	if !found {
		return 0, 0, 0, false
	}
	ivDelta = (lastRow.Call.IV+lastRow.Put.IV)/2 - (firstRow.Call.IV+firstRow.Put.IV)/2
	return spotPct, oiPct, ivDelta, true
}

func abs64f(v int64) float64 {
	if v < 0 {
		v = -v
	}
	return float64(v)
}
