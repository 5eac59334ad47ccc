package fetch

import (
	"fmt"
	"testing"
	"time"

	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

var testSpec = model.IndexSpec{
	Token:     "99926000",
	Exchange:  "NSE",
	Name:      "NIFTY",
	StrikeGap: 50_00,
	GridSteps: 2, // grid of 5
}

// Monday Jan 19 2026, mid-session IST.
var testNow = time.Date(2026, 1, 19, 10, 0, 0, 0, session.IST)

func istDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, session.IST)
}

// optRecords builds both contract sides for each strike at one expiry.
func optRecords(expiry time.Time, strikes ...int64) []ScripRecord {
	var out []ScripRecord
	for _, s := range strikes {
		for _, side := range []string{"CE", "PE"} {
			out = append(out, ScripRecord{
				Token:      fmt.Sprintf("%d%s", s, side),
				Symbol:     fmt.Sprintf("NIFTY%s%d%s", expiry.Format("02Jan06"), s/100, side),
				Name:       "NIFTY",
				Expiry:     expiry,
				Strike:     s,
				OptionType: side,
				LotSize:    75,
			})
		}
	}
	return out
}

func gridStrikes(center int64, steps int) []int64 {
	var out []int64
	for i := -steps; i <= steps; i++ {
		out = append(out, center+int64(i)*testSpec.StrikeGap)
	}
	return out
}

func TestBuildChainPlanNearestExpiry(t *testing.T) {
	near := istDate(2026, 1, 20)
	far := istDate(2026, 1, 27)

	// Full grid on both expiries; spot 22010 centers the grid on 22000.
	records := append(
		optRecords(near, gridStrikes(22000_00, 2)...),
		optRecords(far, gridStrikes(22000_00, 2)...)...,
	)

	plan, err := BuildChainPlan(records, testSpec, 22010_00, testNow)
	if err != nil {
		t.Fatalf("BuildChainPlan: %v", err)
	}
	if !plan.Expiry.Equal(near) {
		t.Errorf("expiry = %s, want %s", plan.Expiry.Format("02Jan2006"), near.Format("02Jan2006"))
	}
	if plan.Center != 22000_00 {
		t.Errorf("center = %d, want 2200000", plan.Center)
	}
	if len(plan.Strikes) != 5 {
		t.Fatalf("got %d strikes, want 5", len(plan.Strikes))
	}
	// Ascending grid with both tokens per strike.
	for i, sp := range plan.Strikes {
		want := 21900_00 + int64(i)*50_00
		if sp.Strike != want {
			t.Errorf("strike[%d] = %d, want %d", i, sp.Strike, want)
		}
		if sp.CallToken == "" || sp.PutToken == "" {
			t.Errorf("strike[%d] missing a token: %+v", i, sp)
		}
	}
	if got := len(plan.Tokens()); got != 10 {
		t.Errorf("Tokens() = %d, want 10", got)
	}
}

func TestBuildChainPlanSkipsPastExpiry(t *testing.T) {
	past := istDate(2026, 1, 13)
	future := istDate(2026, 1, 20)

	t.Run("only past expiries", func(t *testing.T) {
		records := optRecords(past, gridStrikes(22000_00, 2)...)
		if _, err := BuildChainPlan(records, testSpec, 22000_00, testNow); err == nil {
			t.Fatal("expected error for all-expired records")
		}
	})

	t.Run("past and future", func(t *testing.T) {
		records := append(
			optRecords(past, gridStrikes(22000_00, 2)...),
			optRecords(future, gridStrikes(22000_00, 2)...)...,
		)
		plan, err := BuildChainPlan(records, testSpec, 22000_00, testNow)
		if err != nil {
			t.Fatalf("BuildChainPlan: %v", err)
		}
		if !plan.Expiry.Equal(future) {
			t.Errorf("expiry = %s, want the future one", plan.Expiry.Format("02Jan2006"))
		}
	})

	t.Run("same-day expiry is live", func(t *testing.T) {
		today := istDate(2026, 1, 19)
		records := optRecords(today, gridStrikes(22000_00, 2)...)
		plan, err := BuildChainPlan(records, testSpec, 22000_00, testNow)
		if err != nil {
			t.Fatalf("BuildChainPlan: %v", err)
		}
		if !plan.Expiry.Equal(today) {
			t.Errorf("expiry = %s, want today", plan.Expiry.Format("02Jan2006"))
		}
	})
}

func TestBuildChainPlanMissingSide(t *testing.T) {
	expiry := istDate(2026, 1, 20)
	records := optRecords(expiry, gridStrikes(22000_00, 2)...)

	// Remove the 22100 PE: that strike should drop from the plan.
	filtered := records[:0]
	for _, r := range records {
		if r.Strike == 22100_00 && r.OptionType == "PE" {
			continue
		}
		filtered = append(filtered, r)
	}

	plan, err := BuildChainPlan(filtered, testSpec, 22000_00, testNow)
	if err != nil {
		t.Fatalf("BuildChainPlan: %v", err)
	}
	if len(plan.Strikes) != 4 {
		t.Fatalf("got %d strikes, want 4", len(plan.Strikes))
	}
	for _, sp := range plan.Strikes {
		if sp.Strike == 22100_00 {
			t.Error("one-sided strike 22100 kept in plan")
		}
	}
}

func TestBuildChainPlanTooSparse(t *testing.T) {
	expiry := istDate(2026, 1, 20)
	// Only the center strike exists; a 5-strike grid needs at least 3.
	records := optRecords(expiry, 22000_00)
	if _, err := BuildChainPlan(records, testSpec, 22000_00, testNow); err == nil {
		t.Fatal("expected error for sparse grid")
	}
}

func TestChainPlanCovers(t *testing.T) {
	plan := &ChainPlan{Expiry: istDate(2026, 1, 20), Center: 22000_00}

	cases := []struct {
		name string
		spot int64
		now  time.Time
		want bool
	}{
		{"spot near center", 22020_00, testNow, true},
		{"spot drifted one step", 22030_00, testNow, false},
		{"expiry passed", 22020_00, time.Date(2026, 1, 21, 10, 0, 0, 0, session.IST), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := plan.Covers(tc.spot, testSpec.StrikeGap, tc.now); got != tc.want {
				t.Errorf("Covers(%d) = %v, want %v", tc.spot, got, tc.want)
			}
		})
	}

	var nilPlan *ChainPlan
	if nilPlan.Covers(22000_00, testSpec.StrikeGap, testNow) {
		t.Error("nil plan reported covered")
	}
}

func TestParseExpiry(t *testing.T) {
	got, err := parseExpiry("30JAN2025")
	if err != nil {
		t.Fatalf("parseExpiry: %v", err)
	}
	want := istDate(2025, 1, 30)
	if !got.Equal(want) {
		t.Errorf("parseExpiry = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "JAN2025", "30XXX2025", "3OJAN2025", "30JAN25"} {
		if _, err := parseExpiry(bad); err == nil {
			t.Errorf("parseExpiry(%q) succeeded, want error", bad)
		}
	}
}

func TestConvertRow(t *testing.T) {
	row := scripRow{
		Token:          "43125",
		Symbol:         "NIFTY28JAN2522000CE",
		Name:           "NIFTY",
		Expiry:         "28JAN2025",
		Strike:         "2200000.000000",
		LotSize:        "75",
		InstrumentType: "OPTIDX",
		ExchSeg:        "NFO",
	}
	rec, ok := convertRow(row)
	if !ok {
		t.Fatal("convertRow rejected a valid row")
	}
	if rec.Strike != 2200000 {
		t.Errorf("strike = %d, want 2200000 paise", rec.Strike)
	}
	if rec.OptionType != "CE" {
		t.Errorf("option type = %q, want CE", rec.OptionType)
	}
	if rec.LotSize != 75 {
		t.Errorf("lot size = %d, want 75", rec.LotSize)
	}
	if !rec.Expiry.Equal(istDate(2025, 1, 28)) {
		t.Errorf("expiry = %v", rec.Expiry)
	}

	t.Run("junk rows dropped", func(t *testing.T) {
		junk := []scripRow{
			{Symbol: "NIFTY-FUT", Expiry: "28JAN2025", Strike: "2200000.0"},            // no CE/PE suffix
			{Symbol: "NIFTY28JAN2522000CE", Expiry: "bad", Strike: "100.0"},            // bad expiry
			{Symbol: "NIFTY28JAN2522000PE", Expiry: "28JAN2025", Strike: "-1.000000"}, // no strike
		}
		for i, row := range junk {
			if _, ok := convertRow(row); ok {
				t.Errorf("junk row %d accepted", i)
			}
		}
	})
}
