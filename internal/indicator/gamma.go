package indicator

import "breakout-scanner/internal/model"

// GammaExposure is a dealer-positioning proxy built from open interest
// around the money: the signed sum of (callOI - putOI) over the strikes
// within steps grid steps of ATM, weighted by proximity with
// k(d) = 1/(1+d) so ATM dominates. Positive values read as call-heavy
// (dealers long gamma), negative as put-heavy. Strikes missing from the
// chain edge contribute nothing; ok requires the ATM row itself.
func GammaExposure(s model.MarketSnapshot, steps int) (float64, bool) {
	atm := s.StrikeIndex(s.ATMStrike)
	if atm < 0 {
		return 0, false
	}
	var gex float64
	for d := -steps; d <= steps; d++ {
		i := atm + d
		if i < 0 || i >= len(s.Chain) {
			continue
		}
		w := 1.0 / float64(1+absInt(d))
		gex += float64(s.Chain[i].Call.OI-s.Chain[i].Put.OI) * w
	}
	return gex, true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
