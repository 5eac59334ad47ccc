package indicator

import "breakout-scanner/internal/model"

// MaxPain returns the strike minimizing the aggregate option writer
// payout across the chain: for a settlement at strike S the payout is
//
//	sum over K > S of (K-S) * callOI(K)  +  sum over K < S of (S-K) * putOI(K)
//
// Pure int64 paise arithmetic keeps the result bit-for-bit deterministic
// for a given chain. Ties resolve to the first minimum in ascending
// strike order. Unavailable on an empty chain or one with no open
// interest at all.
func MaxPain(chain []model.StrikeRow) (int64, bool) {
	if len(chain) == 0 {
		return 0, false
	}
	var anyOI bool
	for i := range chain {
		if chain[i].Call.OI > 0 || chain[i].Put.OI > 0 {
			anyOI = true
			break
		}
	}
	if !anyOI {
		return 0, false
	}

	best := chain[0].Strike
	bestPain := painAt(chain, chain[0].Strike)
	for i := 1; i < len(chain); i++ {
		// Strict < keeps the first minimum on ties.
		if p := painAt(chain, chain[i].Strike); p < bestPain {
			bestPain = p
			best = chain[i].Strike
		}
	}
	return best, true
}

func painAt(chain []model.StrikeRow, s int64) int64 {
	var pain int64
	for i := range chain {
		k := chain[i].Strike
		switch {
		case k > s:
			pain += (k - s) * chain[i].Call.OI
		case k < s:
			pain += (s - k) * chain[i].Put.OI
		}
	}
	return pain
}
