// Package indicator computes derived market metrics from the rolling
// snapshot history. All functions are pure: they read a history suffix
// (oldest-first) and return (value, ok) where ok=false means the metric
// is unavailable on the given data. Price-valued results are in rupees;
// model prices stay in paise.
package indicator

import "breakout-scanner/internal/model"

// Default lookbacks. Detector thresholds are configurable; these window
// sizes are fixed properties of the metrics themselves.
const (
	VWAPLookback     = 20
	ATRPeriod        = 14
	BollingerPeriod  = 20
	BollingerK       = 2.0
	TrailingWindow   = 10 // volume / range baselines
	LevelWindow      = 20 // support / resistance window
	DivergenceWindow = 3  // points compared for price/OI/IV divergence
	IVTrendPoints    = 3
	TrendWindow      = 5 // points for the trend slope
	GEXSteps         = 2 // grid steps each side of ATM
)

// Set is the shared indicator pass for one cycle. It is computed once per
// snapshot and handed to every detector so no detector recomputes a
// metric another already needed.
type Set struct {
	// Price and volume, from the history suffix.
	VWAP       float64 // rupees
	VWAPOK     bool
	ATR        float64 // points
	ATROK      bool
	BBWidth    float64 // percent of the mean band
	BBWidthOK  bool
	SpotSMA    float64 // rupees
	SpotSMAOK  bool
	TrendPct   float64 // percent spot change over TrendWindow points
	TrendOK    bool
	TrailVol   float64 // mean option volume of the prior TrailingWindow points
	TrailVolOK bool
	TrailRange float64 // mean interval range (points) of the prior window
	TrailRngOK bool

	// Chain-derived, from the latest snapshot(s).
	MaxPain       int64     // paise, strike
	MaxPainOK     bool
	OIRatio       float64   // |dCallOI| / |dPutOI| at ATM
	CallOIDelta   int64
	PutOIDelta    int64
	OIFlowOK      bool
	GEX           float64   // signed, OI-weighted around ATM
	GEXOK         bool
	NearCallShare float64   // call share of near-ATM OI, latest point
	PrevNearShare float64   // same, previous point
	NearOIOK      bool
	CallIV        float64   // ATM call IV, percent
	PutIV         float64   // ATM put IV, percent
	ATMIVOK       bool
	IVSeries      []float64 // mean ATM IV, oldest-first, IVTrendPoints long
	IVSeriesOK    bool

	// Divergence window: latest vs DivergenceWindow points ago.
	SpotDeltaPct float64
	OIDeltaPct   float64
	IVDelta      float64 // percentage points
	DivergenceOK bool

	// Levels.
	WindowHigh    int64 // paise, LevelWindow interval high
	WindowLow     int64 // paise
	LevelsOK      bool
	PrevDayHigh   int64 // paise, previous session in history
	PrevDayLow    int64
	PrevDayOK     bool
	FirstHourHigh int64 // paise, latest session's first hour
	FirstHourLow  int64
	FirstHourOK   bool
}

// Compute runs the full indicator pass over the history suffix. points is
// oldest-first and must end with the current cycle's snapshot. Missing
// inputs surface as ok=false on the affected metrics, never as an error.
func Compute(points []model.MarketSnapshot) Set {
	var set Set
	if len(points) == 0 {
		return set
	}
	latest := points[len(points)-1]

	set.VWAP, set.VWAPOK = VWAP(points, VWAPLookback)
	set.ATR, set.ATROK = ATR(points, ATRPeriod)
	set.BBWidth, set.BBWidthOK = BollingerWidth(points, BollingerPeriod, BollingerK)
	set.SpotSMA, set.SpotSMAOK = SpotSMA(points, BollingerPeriod)
	set.TrendPct, set.TrendOK = TrendPct(points, TrendWindow)
	set.TrailVol, set.TrailVolOK = TrailingVolume(points, TrailingWindow)
	set.TrailRange, set.TrailRngOK = TrailingRange(points, TrailingWindow)

	set.MaxPain, set.MaxPainOK = MaxPain(latest.Chain)
	if len(points) >= 2 {
		prev := points[len(points)-2]
		set.OIRatio, set.CallOIDelta, set.PutOIDelta, set.OIFlowOK = OIImbalance(latest, prev)
		set.NearCallShare, set.PrevNearShare, set.NearOIOK = NearShareChange(latest, prev)
	}
	set.GEX, set.GEXOK = GammaExposure(latest, GEXSteps)
	set.CallIV, set.PutIV, set.ATMIVOK = ATMIV(latest)
	set.IVSeries, set.IVSeriesOK = ATMIVSeries(points, IVTrendPoints)
	set.SpotDeltaPct, set.OIDeltaPct, set.IVDelta, set.DivergenceOK = Divergence(points, DivergenceWindow)
	set.WindowHigh, set.WindowLow, set.LevelsOK = WindowLevels(points, LevelWindow)
	set.PrevDayHigh, set.PrevDayLow, set.PrevDayOK = PrevDayLevels(points)
	set.FirstHourHigh, set.FirstHourLow, set.FirstHourOK = FirstHourLevels(points)
	return set
}
