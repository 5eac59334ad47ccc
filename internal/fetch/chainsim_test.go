package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"breakout-scanner/internal/model"
)

func TestChainsimFetch(t *testing.T) {
	want := &model.MarketSnapshot{
		Token:     "99926000",
		Exchange:  "NSE",
		TS:        testNow,
		Spot:      22010_00,
		ATMStrike: 22000_00,
		Chain: []model.StrikeRow{
			{Strike: 22000_00, Call: model.OptionQuote{LastPrice: 100_00, OI: 5000}},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	// Trailing slash on the base URL must not double up.
	f := NewChainsimFetcher(srv.URL + "/")
	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Spot != want.Spot || snap.ATMStrike != want.ATMStrike {
		t.Errorf("spot/atm = %d/%d", snap.Spot, snap.ATMStrike)
	}
	if len(snap.Chain) != 1 || snap.Chain[0].Call.OI != 5000 {
		t.Errorf("chain = %+v", snap.Chain)
	}
}

func TestChainsimFetchRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"empty snapshot", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(&model.MarketSnapshot{})
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			if _, err := NewChainsimFetcher(srv.URL).Fetch(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
