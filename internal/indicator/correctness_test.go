package indicator

import (
	"math"
	"testing"
	"time"

	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func row(strike, callOI, putOI int64) model.StrikeRow {
	return model.StrikeRow{
		Strike: strike,
		Call:   model.OptionQuote{OI: callOI},
		Put:    model.OptionQuote{OI: putOI},
	}
}

// snapPV builds a snapshot at the given spot carrying the point's option
// volume on a one-strike chain.
func snapPV(spotPaise, optVol int64) model.MarketSnapshot {
	return model.MarketSnapshot{
		Spot: spotPaise, High: spotPaise, Low: spotPaise,
		ATMStrike: 10000,
		Chain: []model.StrikeRow{
			{Strike: 10000, Call: model.OptionQuote{Volume: optVol, OI: 10}},
		},
	}
}

// snapHLC builds a snapshot with an explicit interval candle.
func snapHLC(high, low, closePaise int64) model.MarketSnapshot {
	return model.MarketSnapshot{Spot: closePaise, High: high, Low: low}
}

// ────────────────────────────────────────────────────────────
// VWAP
// ────────────────────────────────────────────────────────────

func TestVWAP_Correctness(t *testing.T) {
	// Spots (rupees): 100, 102, 104 with option volumes 100, 200, 100.
	// VWAP = (100*100 + 102*200 + 104*100) / 400
	//      = (10000 + 20400 + 10400) / 400 = 40800/400 = 102.0
	points := []model.MarketSnapshot{
		snapPV(10000, 100),
		snapPV(10200, 200),
		snapPV(10400, 100),
	}
	got, ok := VWAP(points, 3)
	if !ok {
		t.Fatal("VWAP should be available with 3 points")
	}
	assertClose(t, "VWAP(3)", got, 102.0, 0.0001)
}

func TestVWAP_InsufficientHistory(t *testing.T) {
	points := []model.MarketSnapshot{snapPV(10000, 100), snapPV(10200, 100)}
	if _, ok := VWAP(points, 3); ok {
		t.Error("VWAP with 2 of 3 points should be unavailable")
	}
}

func TestVWAP_ZeroVolumeFallsBackToMean(t *testing.T) {
	// No option volume traded: VWAP degrades to the plain mean.
	// (100 + 102 + 104) / 3 = 102.0
	points := []model.MarketSnapshot{
		snapPV(10000, 0), snapPV(10200, 0), snapPV(10400, 0),
	}
	got, ok := VWAP(points, 3)
	if !ok {
		t.Fatal("zero-volume VWAP should still be available")
	}
	assertClose(t, "VWAP zero-volume", got, 102.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// ATR
// ────────────────────────────────────────────────────────────

func TestATR_Correctness(t *testing.T) {
	// Point 0: close 100.00 (seed for the first true range)
	// Point 1: H 102.00, L 99.00, C 101.00
	//   TR1 = max(102-99, |102-100|, |99-100|) = max(3, 2, 1) = 3.00
	// Point 2: H 103.00, L 100.50, C 102.50
	//   TR2 = max(2.50, |103-101|=2.00, |100.50-101|=0.50) = 2.50
	// ATR(2) = (3.00 + 2.50) / 2 = 2.75
	points := []model.MarketSnapshot{
		snapHLC(10000, 10000, 10000),
		snapHLC(10200, 9900, 10100),
		snapHLC(10300, 10050, 10250),
	}
	got, ok := ATR(points, 2)
	if !ok {
		t.Fatal("ATR(2) should be available with 3 points")
	}
	assertClose(t, "ATR(2)", got, 2.75, 0.0001)
}

func TestATR_NeedsPeriodPlusOne(t *testing.T) {
	points := []model.MarketSnapshot{
		snapHLC(10200, 9900, 10100),
		snapHLC(10300, 10050, 10250),
	}
	if _, ok := ATR(points, 2); ok {
		t.Error("ATR(2) with only 2 points should be unavailable")
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger width
// ────────────────────────────────────────────────────────────

func TestBollingerWidth_Correctness(t *testing.T) {
	// Spots (rupees): 100, 102, 104, 102 over period 4.
	// mean = 102, deviations -2, 0, 2, 0 → variance = 8/4 = 2
	// sd = sqrt(2) = 1.414214
	// width = 2*k*sd / mean * 100 = 4*1.414214/102*100 = 5.545936
	points := []model.MarketSnapshot{
		snapPV(10000, 0), snapPV(10200, 0), snapPV(10400, 0), snapPV(10200, 0),
	}
	got, ok := BollingerWidth(points, 4, 2.0)
	if !ok {
		t.Fatal("width should be available with 4 points")
	}
	assertClose(t, "BollingerWidth(4,2)", got, 5.545936, 0.0001)
}

func TestBollingerWidth_FlatSeriesIsZero(t *testing.T) {
	points := []model.MarketSnapshot{
		snapPV(10000, 0), snapPV(10000, 0), snapPV(10000, 0),
	}
	got, ok := BollingerWidth(points, 3, 2.0)
	if !ok {
		t.Fatal("flat series width should be available")
	}
	assertClose(t, "flat width", got, 0.0, 0.0001)
}

func TestBollingerWidth_InsufficientIsUnavailable(t *testing.T) {
	// The caller must read !ok as "not compressed": a detector gated on
	// compression can never fire from missing data.
	points := []model.MarketSnapshot{snapPV(10000, 0)}
	if _, ok := BollingerWidth(points, 3, 2.0); ok {
		t.Error("width with 1 of 3 points should be unavailable")
	}
}

// ────────────────────────────────────────────────────────────
// Max Pain
// ────────────────────────────────────────────────────────────

func TestMaxPain_Correctness(t *testing.T) {
	// Strikes 100, 200, 300 (paise) with call OI 10/20/30, put OI 5/15/25.
	// pain(100) = (200-100)*20 + (300-100)*30          = 2000 + 6000 = 8000
	// pain(200) = (300-200)*30 + (200-100)*5           = 3000 + 500  = 3500
	// pain(300) = (300-100)*5  + (300-200)*15          = 1000 + 1500 = 2500  ← min
	chain := []model.StrikeRow{
		row(100, 10, 5),
		row(200, 20, 15),
		row(300, 30, 25),
	}
	got, ok := MaxPain(chain)
	if !ok {
		t.Fatal("max pain should be available")
	}
	if got != 300 {
		t.Errorf("MaxPain = %d, want 300", got)
	}
}

func TestMaxPain_Deterministic(t *testing.T) {
	chain := []model.StrikeRow{
		row(2200000, 1200, 900),
		row(2205000, 800, 1100),
		row(2210000, 600, 1500),
	}
	first, _ := MaxPain(chain)
	for i := 0; i < 100; i++ {
		got, _ := MaxPain(chain)
		if got != first {
			t.Fatalf("run %d: MaxPain = %d, want %d (must be deterministic)", i, got, first)
		}
	}
}

func TestMaxPain_SymmetricTieBreaksToLowerStrike(t *testing.T) {
	// Mirror-symmetric chain: call OI 0/c/c/0, put OI 0/c/c/0.
	// pain(100) = 100c + 200c = 300c
	// pain(200) = 100c (call at 300) + 100*0 = 100c
	// pain(300) = 0 + 100c (put at 200)      = 100c
	// pain(400) = 200c + 100c                = 300c
	// Strikes 200 and 300 tie; ascending scan keeps the first: 200.
	c := int64(1000)
	chain := []model.StrikeRow{
		row(100, 0, 0),
		row(200, c, c),
		row(300, c, c),
		row(400, 0, 0),
	}
	got, ok := MaxPain(chain)
	if !ok {
		t.Fatal("max pain should be available")
	}
	if got != 200 {
		t.Errorf("symmetric tie: MaxPain = %d, want 200 (first minimum ascending)", got)
	}
}

func TestMaxPain_EmptyAndZeroOI(t *testing.T) {
	if _, ok := MaxPain(nil); ok {
		t.Error("empty chain should be unavailable")
	}
	chain := []model.StrikeRow{row(100, 0, 0), row(200, 0, 0)}
	if _, ok := MaxPain(chain); ok {
		t.Error("all-zero OI chain should be unavailable")
	}
}

// ────────────────────────────────────────────────────────────
// OI imbalance
// ────────────────────────────────────────────────────────────

func chainSnap(atm int64, rows ...model.StrikeRow) model.MarketSnapshot {
	return model.MarketSnapshot{Spot: atm, ATMStrike: atm, Chain: rows}
}

func TestOIImbalance_Correctness(t *testing.T) {
	// ATM 200: call OI 1000→1600 (+600), put OI 500→300 (-200).
	// ratio = |600| / |-200| = 3.0
	prev := chainSnap(200, row(100, 10, 10), row(200, 1000, 500), row(300, 10, 10))
	cur := chainSnap(200, row(100, 10, 10), row(200, 1600, 300), row(300, 10, 10))

	ratio, callD, putD, ok := OIImbalance(cur, prev)
	if !ok {
		t.Fatal("imbalance should be available")
	}
	assertClose(t, "OI ratio", ratio, 3.0, 0.0001)
	if callD != 600 || putD != -200 {
		t.Errorf("deltas = %d/%d, want 600/-200", callD, putD)
	}
}

func TestOIImbalance_ZeroPutDeltaIsNoSignal(t *testing.T) {
	prev := chainSnap(200, row(200, 1000, 500))
	cur := chainSnap(200, row(200, 1900, 500)) // put OI unchanged
	_, _, _, ok := OIImbalance(cur, prev)
	if ok {
		t.Error("zero put delta must read as no-signal, not a fired ratio")
	}
}

func TestOIImbalance_MissingATMRow(t *testing.T) {
	prev := chainSnap(200, row(200, 1000, 500))
	cur := model.MarketSnapshot{Spot: 200, ATMStrike: 200} // empty chain
	if _, _, _, ok := OIImbalance(cur, prev); ok {
		t.Error("missing ATM row should be unavailable")
	}
}

// ────────────────────────────────────────────────────────────
// Gamma exposure proxy
// ────────────────────────────────────────────────────────────

func TestGammaExposure_Correctness(t *testing.T) {
	// ATM 300, weights by distance: 1/3, 1/2, 1, 1/2, 1/3.
	// (call-put):  100: +50*(1/3) = 16.6667
	//              200: +100*(1/2) = 50
	//              300: +200*1 = 200
	//              400: -100*(1/2) = -50
	//              500: -30*(1/3) = -10
	// total = 206.6667
	s := chainSnap(300,
		row(100, 100, 50),
		row(200, 200, 100),
		row(300, 300, 100),
		row(400, 150, 250),
		row(500, 90, 120),
	)
	got, ok := GammaExposure(s, 2)
	if !ok {
		t.Fatal("gamma exposure should be available")
	}
	assertClose(t, "GEX", got, 206.6667, 0.001)
}

func TestGammaExposure_PartialGrid(t *testing.T) {
	// ATM at the chain edge: only ATM and the two strikes above exist.
	// 100: +100*1 = 100, 200: +50*(1/2) = 25, 300: +30*(1/3) = 10 → 135
	s := chainSnap(100,
		row(100, 200, 100),
		row(200, 100, 50),
		row(300, 60, 30),
	)
	got, ok := GammaExposure(s, 2)
	if !ok {
		t.Fatal("edge ATM should still be available")
	}
	assertClose(t, "edge GEX", got, 135.0, 0.001)
}

func TestGammaExposure_MissingATM(t *testing.T) {
	s := model.MarketSnapshot{Spot: 250, ATMStrike: 250, Chain: []model.StrikeRow{row(100, 1, 1)}}
	if _, ok := GammaExposure(s, 2); ok {
		t.Error("missing ATM strike should be unavailable")
	}
}

// ────────────────────────────────────────────────────────────
// Near-ATM OI share
// ────────────────────────────────────────────────────────────

func TestNearShareChange_Correctness(t *testing.T) {
	// Near window is ATM ± 1 strike.
	// prev: calls 100+200+100 = 400, puts 200+300+100 = 600 → share 0.4
	// cur:  calls 300+400+300 = 1000, puts 100+200+200 = 500 → share 0.6667
	prev := chainSnap(200, row(100, 100, 200), row(200, 200, 300), row(300, 100, 100))
	cur := chainSnap(200, row(100, 300, 100), row(200, 400, 200), row(300, 300, 200))

	curShare, prevShare, ok := NearShareChange(cur, prev)
	if !ok {
		t.Fatal("share should be available")
	}
	assertClose(t, "cur share", curShare, 1000.0/1500.0, 0.0001)
	assertClose(t, "prev share", prevShare, 0.4, 0.0001)
}

// ────────────────────────────────────────────────────────────
// IV series and divergence
// ────────────────────────────────────────────────────────────

func ivSnap(spot int64, callIV, putIV float64, oi int64) model.MarketSnapshot {
	return model.MarketSnapshot{
		Spot: spot, ATMStrike: 200,
		Chain: []model.StrikeRow{{
			Strike: 200,
			Call:   model.OptionQuote{IV: callIV, OI: oi},
			Put:    model.OptionQuote{IV: putIV, OI: oi},
		}},
	}
}

func TestATMIVSeries_Correctness(t *testing.T) {
	points := []model.MarketSnapshot{
		ivSnap(200, 16, 14, 100), // mean 15
		ivSnap(200, 15, 13, 100), // mean 14
		ivSnap(200, 13, 12, 100), // mean 12.5
	}
	series, ok := ATMIVSeries(points, 3)
	if !ok {
		t.Fatal("series should be available")
	}
	want := []float64{15, 14, 12.5}
	for i := range want {
		assertClose(t, "iv series", series[i], want[i], 0.0001)
	}
}

func TestDivergence_Correctness(t *testing.T) {
	// First vs last of 3 points:
	// spot 20000.00 → 20120.00 = +0.6%
	// total OI 200 → 130 = -35%
	// mean IV 15 → 12 = -3.0 points
	points := []model.MarketSnapshot{
		ivSnap(2000000, 16, 14, 100),
		ivSnap(2006000, 15, 13, 80),
		ivSnap(2012000, 13, 11, 65),
	}
	spotPct, oiPct, ivDelta, ok := Divergence(points, 3)
	if !ok {
		t.Fatal("divergence should be available")
	}
	assertClose(t, "spot pct", spotPct, 0.6, 0.0001)
	assertClose(t, "oi pct", oiPct, -35.0, 0.0001)
	assertClose(t, "iv delta", ivDelta, -3.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// Trailing baselines and levels
// ────────────────────────────────────────────────────────────

func TestTrailingVolume_ExcludesLatest(t *testing.T) {
	// Prior 3 volumes: 100, 120, 80 → mean 100. The 500 spike at the end
	// must not lift its own baseline.
	points := []model.MarketSnapshot{
		snapPV(10000, 100), snapPV(10000, 120), snapPV(10000, 80), snapPV(10000, 500),
	}
	got, ok := TrailingVolume(points, 3)
	if !ok {
		t.Fatal("trailing volume should be available")
	}
	assertClose(t, "trailing volume", got, 100.0, 0.0001)
}

func TestTrailingRange_Correctness(t *testing.T) {
	// Prior ranges (points): 2.00, 1.00, 3.00 → mean 2.00.
	points := []model.MarketSnapshot{
		snapHLC(10200, 10000, 10100),
		snapHLC(10150, 10050, 10100),
		snapHLC(10300, 10000, 10200),
		snapHLC(10500, 10100, 10400), // current, excluded
	}
	got, ok := TrailingRange(points, 3)
	if !ok {
		t.Fatal("trailing range should be available")
	}
	assertClose(t, "trailing range", got, 2.0, 0.0001)
}

func TestWindowLevels(t *testing.T) {
	points := []model.MarketSnapshot{
		snapHLC(10200, 10000, 10100),
		snapHLC(10400, 10150, 10300),
		snapHLC(10350, 10250, 10300),
	}
	hi, lo, ok := WindowLevels(points, 20)
	if !ok {
		t.Fatal("levels should be available")
	}
	if hi != 10400 || lo != 10000 {
		t.Errorf("levels = %d/%d, want 10400/10000", hi, lo)
	}
}

func TestPrevDayLevels(t *testing.T) {
	day1 := time.Date(2026, time.March, 9, 10, 0, 0, 0, session.IST)
	day2 := time.Date(2026, time.March, 10, 10, 0, 0, 0, session.IST)

	p1 := snapHLC(10500, 10100, 10300)
	p1.TS = day1
	p2 := snapHLC(10450, 10200, 10400)
	p2.TS = day1.Add(30 * time.Minute)
	p3 := snapHLC(10600, 10350, 10550)
	p3.TS = day2

	hi, lo, ok := PrevDayLevels([]model.MarketSnapshot{p1, p2, p3})
	if !ok {
		t.Fatal("previous day should be found")
	}
	if hi != 10500 || lo != 10100 {
		t.Errorf("prev day levels = %d/%d, want 10500/10100", hi, lo)
	}

	// Single-session history has no previous day.
	if _, _, ok := PrevDayLevels([]model.MarketSnapshot{p3}); ok {
		t.Error("single-session history should have no previous day")
	}
}

func TestFirstHourLevels(t *testing.T) {
	mk := func(h, m int, high, low int64) model.MarketSnapshot {
		s := snapHLC(high, low, (high+low)/2)
		s.TS = time.Date(2026, time.March, 10, h, m, 0, 0, session.IST)
		return s
	}
	points := []model.MarketSnapshot{
		mk(9, 20, 10300, 10100),
		mk(9, 50, 10400, 10200),
		mk(10, 10, 10350, 10050),
		mk(10, 40, 10600, 10300), // past the first hour, excluded
	}
	hi, lo, ok := FirstHourLevels(points)
	if !ok {
		t.Fatal("first hour should be available after 10:15")
	}
	if hi != 10400 || lo != 10050 {
		t.Errorf("first hour = %d/%d, want 10400/10050", hi, lo)
	}

	// Before 10:15 the first hour is still forming.
	early := points[:2]
	if _, _, ok := FirstHourLevels(early); ok {
		t.Error("first hour must be unavailable while still inside it")
	}
}

// ────────────────────────────────────────────────────────────
// Shared pass
// ────────────────────────────────────────────────────────────

func TestCompute_EmptyHistory(t *testing.T) {
	set := Compute(nil)
	if set.VWAPOK || set.ATROK || set.MaxPainOK || set.OIFlowOK || set.GEXOK {
		t.Error("empty history must leave every metric unavailable")
	}
}

func TestCompute_ShortHistoryMarksUnavailable(t *testing.T) {
	points := []model.MarketSnapshot{snapPV(10000, 100), snapPV(10100, 120)}
	set := Compute(points)
	if set.VWAPOK {
		t.Error("VWAP needs 20 points")
	}
	if set.ATROK {
		t.Error("ATR needs 15 points")
	}
	if set.BBWidthOK {
		t.Error("Bollinger width needs 20 points")
	}
	if !set.MaxPainOK {
		t.Error("max pain only needs the latest chain")
	}
}
