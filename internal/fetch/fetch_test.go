package fetch

import (
	"testing"
	"time"

	"breakout-scanner/internal/session"
	"breakout-scanner/pkg/smartapi"
)

// newTestFetcher skips NewLiveFetcher so no client or limiter is needed;
// these tests drive the assembly helpers directly.
func newTestFetcher() *LiveFetcher {
	return &LiveFetcher{
		spec: testSpec,
		plan: &ChainPlan{
			Expiry: istDate(2026, 1, 20),
			Center: 22000_00,
			Strikes: []StrikePlan{
				{Strike: 21950_00, CallToken: "101", PutToken: "102"},
				{Strike: 22000_00, CallToken: "103", PutToken: "104"},
				{Strike: 22050_00, CallToken: "105", PutToken: "106"},
			},
		},
		prev: prevState{
			day:  istDay(testNow),
			vols: make(map[string]int64),
			ivs:  make(map[ivKey]float64),
		},
	}
}

func gridQuotes() map[string]smartapi.FullQuote {
	quotes := make(map[string]smartapi.FullQuote)
	for i, token := range []string{"101", "102", "103", "104", "105", "106"} {
		quotes[token] = smartapi.FullQuote{
			LTP:          100 + float64(i),
			TradeVolume:  int64(1000 * (i + 1)),
			OpenInterest: int64(5000 * (i + 1)),
			NetChange:    2.05,
		}
	}
	return quotes
}

func TestVolumeSince(t *testing.T) {
	f := newTestFetcher()

	if got := f.volumeSince("101", 5000); got != 0 {
		t.Errorf("first sighting = %d, want 0", got)
	}
	if got := f.volumeSince("101", 6200); got != 1200 {
		t.Errorf("second poll = %d, want 1200", got)
	}
	if got := f.volumeSince("101", 100); got != 0 {
		t.Errorf("cumulative went backwards, got %d, want 0", got)
	}
	// The backwards value still re-anchors the baseline.
	if got := f.volumeSince("101", 150); got != 50 {
		t.Errorf("post-reset poll = %d, want 50", got)
	}
}

func TestBuildSnapshotFirstPoll(t *testing.T) {
	f := newTestFetcher()
	spotQ := smartapi.FullQuote{
		Open:         22000.50,
		High:         22040,
		Low:          21980,
		Close:        21950.25,
		TradeVolume:  123456,
		ExchFeedTime: "19-Jan-2026 10:00:05",
	}

	snap := f.buildSnapshot(spotQ, 22010_00, gridQuotes(), testNow)

	if snap.Spot != 22010_00 {
		t.Errorf("spot = %d", snap.Spot)
	}
	// No previous poll: the interval candle collapses to the spot.
	if snap.High != 22010_00 || snap.Low != 22010_00 {
		t.Errorf("first-poll high/low = %d/%d, want spot/spot", snap.High, snap.Low)
	}
	if snap.Open != 22000_50 || snap.PrevClose != 21950_25 {
		t.Errorf("open/prevClose = %d/%d", snap.Open, snap.PrevClose)
	}
	if snap.DayHigh != 22040_00 || snap.DayLow != 21980_00 {
		t.Errorf("day extremes = %d/%d", snap.DayHigh, snap.DayLow)
	}
	if snap.ATMStrike != 22000_00 {
		t.Errorf("atm = %d, want 2200000", snap.ATMStrike)
	}
	if snap.TotalVolume != 123456 {
		t.Errorf("total volume = %d", snap.TotalVolume)
	}
	wantTS := time.Date(2026, 1, 19, 10, 0, 5, 0, session.IST)
	if !snap.TS.Equal(wantTS) {
		t.Errorf("ts = %v, want exchange feed time %v", snap.TS, wantTS)
	}

	if len(snap.Chain) != 3 {
		t.Fatalf("chain rows = %d, want 3", len(snap.Chain))
	}
	row := snap.Chain[0]
	if row.Strike != 21950_00 {
		t.Errorf("chain[0].strike = %d", row.Strike)
	}
	if row.Call.LastPrice != 100_00 || row.Put.LastPrice != 101_00 {
		t.Errorf("chain[0] ltp = %d/%d", row.Call.LastPrice, row.Put.LastPrice)
	}
	if row.Call.Volume != 0 {
		t.Errorf("first-sighting option volume = %d, want 0", row.Call.Volume)
	}
	if row.Call.OI != 5000 || row.Put.OI != 10000 {
		t.Errorf("chain[0] oi = %d/%d", row.Call.OI, row.Put.OI)
	}
	if row.Call.PriceChange != 2_05 {
		t.Errorf("chain[0] call change = %d, want 205", row.Call.PriceChange)
	}

	// Baselines advanced for the next interval.
	if f.prev.spot != 22010_00 || f.prev.dayHigh != 22040_00 || f.prev.dayLow != 21980_00 {
		t.Errorf("prev state not advanced: %+v", f.prev)
	}
}

func TestBuildSnapshotIntervalBounds(t *testing.T) {
	seed := func(f *LiveFetcher) {
		f.prev.spot = 22005_00
		f.prev.dayHigh = 22040_00
		f.prev.dayLow = 21980_00
	}

	cases := []struct {
		name               string
		quoteHigh, quoteLow float64
		wantHigh, wantLow  int64
	}{
		{"endpoints only", 22040, 21980, 22010_00, 22005_00},
		{"day high advanced", 22060, 21980, 22060_00, 22005_00},
		{"day low advanced", 22040, 21960, 22010_00, 21960_00},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFetcher()
			seed(f)
			spotQ := smartapi.FullQuote{Open: 22000, High: tc.quoteHigh, Low: tc.quoteLow, Close: 21950}
			snap := f.buildSnapshot(spotQ, 22010_00, gridQuotes(), testNow)
			if snap.High != tc.wantHigh || snap.Low != tc.wantLow {
				t.Errorf("high/low = %d/%d, want %d/%d", snap.High, snap.Low, tc.wantHigh, tc.wantLow)
			}
		})
	}
}

func TestBuildSnapshotDropsOneSidedStrikes(t *testing.T) {
	f := newTestFetcher()
	quotes := gridQuotes()
	delete(quotes, "104") // 22000 put missing from the batch response

	snap := f.buildSnapshot(smartapi.FullQuote{High: 22040, Low: 21980}, 22010_00, quotes, testNow)
	if len(snap.Chain) != 2 {
		t.Fatalf("chain rows = %d, want 2", len(snap.Chain))
	}
	for _, row := range snap.Chain {
		if row.Strike == 22000_00 {
			t.Error("one-sided strike kept in chain")
		}
	}
}

func TestBuildSnapshotCarriesIVs(t *testing.T) {
	f := newTestFetcher()
	f.prev.ivs[ivKey{strike: 22000_00, side: "CE"}] = 14.2
	f.prev.ivs[ivKey{strike: 22000_00, side: "PE"}] = 15.1

	snap := f.buildSnapshot(smartapi.FullQuote{High: 22040, Low: 21980}, 22010_00, gridQuotes(), testNow)
	for _, row := range snap.Chain {
		if row.Strike != 22000_00 {
			continue
		}
		if row.Call.IV != 14.2 || row.Put.IV != 15.1 {
			t.Errorf("ivs = %.1f/%.1f, want 14.2/15.1", row.Call.IV, row.Put.IV)
		}
		return
	}
	t.Fatal("22000 strike missing from chain")
}

func TestFeedTime(t *testing.T) {
	fallback := testNow
	got := feedTime("21-Jun-2023 10:46:10", fallback)
	want := time.Date(2023, 6, 21, 10, 46, 10, 0, session.IST)
	if !got.Equal(want) {
		t.Errorf("feedTime = %v, want %v", got, want)
	}
	if got := feedTime("", fallback); !got.Equal(fallback) {
		t.Errorf("empty feed time = %v, want fallback", got)
	}
	if got := feedTime("2023-06-21T10:46:10Z", fallback); !got.Equal(fallback) {
		t.Errorf("unparseable feed time = %v, want fallback", got)
	}
}

func TestRollDay(t *testing.T) {
	f := newTestFetcher()
	f.volumeSince("101", 5000)
	f.prev.ivs[ivKey{strike: 22000_00, side: "CE"}] = 14.2

	// Same day: baselines survive.
	f.rollDay(testNow.Add(3 * time.Minute))
	if len(f.prev.vols) != 1 || len(f.prev.ivs) != 1 {
		t.Fatal("same-day roll cleared baselines")
	}

	// Next IST day: everything resets.
	f.rollDay(testNow.Add(24 * time.Hour))
	if len(f.prev.vols) != 0 || len(f.prev.ivs) != 0 || f.prev.spot != 0 {
		t.Errorf("day roll kept stale state: %+v", f.prev)
	}
	if f.prev.day != istDay(testNow.Add(24*time.Hour)) {
		t.Error("day marker not advanced")
	}
}
