package smartapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestClient points a client at a stub server with resolved header
// fields so no network lookups happen during tests.
func newTestClient(srvURL string) *Client {
	return New(Config{
		APIKey:         "test-key",
		RootURL:        srvURL,
		ClientPublicIP: "1.2.3.4",
		ClientLocalIP:  "127.0.0.1",
		ClientMAC:      "00:11:22:33:44:55",
	})
}

func TestFullQuotesDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != routes["api.market.data"] {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["mode"] != "FULL" {
			t.Errorf("mode = %v, want FULL", req["mode"])
		}
		w.Write([]byte(`{
			"status": true, "message": "SUCCESS",
			"data": {
				"fetched": [{
					"exchange": "NFO", "tradingSymbol": "NIFTY28JAN2521500CE", "symbolToken": "43125",
					"ltp": 145.55, "open": 130.0, "high": 152.3, "low": 128.15, "close": 133.2,
					"netChange": 12.35, "tradeVolume": 982640, "opnInterest": 1654200
				}],
				"unfetched": [{"exchange": "NFO", "symbolToken": "99999", "message": "invalid token", "errorCode": "AB1018"}]
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	fetched, unfetched, err := c.FullQuotes(map[string][]string{"NFO": {"43125", "99999"}})
	if err != nil {
		t.Fatalf("FullQuotes: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("fetched = %d quotes, want 1", len(fetched))
	}
	q := fetched[0]
	if q.SymbolToken != "43125" || q.LTP != 145.55 || q.OpenInterest != 1654200 {
		t.Errorf("quote decoded wrong: %+v", q)
	}
	if len(unfetched) != 1 || unfetched[0].SymbolToken != "99999" {
		t.Errorf("unfetched decoded wrong: %+v", unfetched)
	}
}

func TestFullQuotesBatchLimit(t *testing.T) {
	c := newTestClient("http://localhost:1")
	tokens := make([]string, MaxQuoteBatch+1)
	for i := range tokens {
		tokens[i] = "1"
	}
	if _, _, err := c.FullQuotes(map[string][]string{"NFO": tokens}); err == nil {
		t.Fatal("expected batch limit error, got nil")
	}
}

func TestSessionExpiryHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error_type": "TokenException", "message": "Token expired"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	hookFired := false
	c.SessionExpiryHook = func() { hookFired = true }

	_, _, err := c.FullQuotes(map[string][]string{"NSE": {"99926000"}})
	if err == nil {
		t.Fatal("expected TokenException error, got nil")
	}
	if !hookFired {
		t.Error("SessionExpiryHook not fired on 403 TokenException")
	}
}

func TestGenerateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case routes["api.login"]:
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["totp"] != "123456" {
				t.Errorf("totp = %v, want 123456", req["totp"])
			}
			w.Write([]byte(`{"status": true, "data": {"jwtToken": "jwt-1", "refreshToken": "ref-1", "feedToken": "feed-1"}}`))
		case routes["api.user.profile"]:
			if got := r.Header.Get("Authorization"); got != "Bearer jwt-1" {
				t.Errorf("Authorization = %q, want Bearer jwt-1", got)
			}
			w.Write([]byte(`{"status": true, "data": {"clientcode": "C123", "name": "Test User"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	sess, err := c.GenerateSession("C123", "pin", "123456")
	if err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}
	if sess.JWTToken != "jwt-1" || sess.FeedToken != "feed-1" {
		t.Errorf("tokens not captured: %+v", sess)
	}
	if sess.Name != "Test User" {
		t.Errorf("Name = %q, want Test User", sess.Name)
	}
	if c.ClientCode() != "C123" {
		t.Errorf("ClientCode = %q, want C123", c.ClientCode())
	}
}

func TestGenerateSessionLoginFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "message": "Invalid totp"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.GenerateSession("C123", "pin", "000000"); err == nil {
		t.Fatal("expected login error, got nil")
	}
}

func TestRenewTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != routes["api.token"] {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["refreshToken"] != "ref-0" {
			t.Errorf("refreshToken = %v, want ref-0", req["refreshToken"])
		}
		w.Write([]byte(`{"status": true, "data": {"jwtToken": "jwt-2", "refreshToken": "ref-2", "feedToken": "feed-2"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetTokens("jwt-0", "ref-0", "feed-0")
	if err := c.RenewTokens(); err != nil {
		t.Fatalf("RenewTokens: %v", err)
	}
	if c.FeedToken() != "feed-2" {
		t.Errorf("FeedToken = %q, want feed-2 (tokens not installed)", c.FeedToken())
	}
}

func TestRenewTokensWithoutSession(t *testing.T) {
	c := newTestClient("http://localhost:1")
	if err := c.RenewTokens(); err == nil {
		t.Fatal("expected error with no refresh token held")
	}
}

func TestSearchScripDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["searchscrip"] != "NIFTY" {
			t.Errorf("searchscrip = %v, want NIFTY", req["searchscrip"])
		}
		w.Write([]byte(`{
			"status": true,
			"data": [
				{"exchange": "NSE", "tradingsymbol": "NIFTY", "symboltoken": "99926000"},
				{"exchange": "NSE", "tradingsymbol": "NIFTYMIDCAP", "symboltoken": "99926012"}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	matches, err := c.SearchScrip("NSE", "NIFTY")
	if err != nil {
		t.Fatalf("SearchScrip: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].SymbolToken != "99926000" {
		t.Errorf("match decoded wrong: %+v", matches[0])
	}
}

func TestOptionGreeksDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": true,
			"data": [
				{"name": "NIFTY", "expiry": "25JAN2024", "strikePrice": "21500.000000", "optionType": "CE",
				 "delta": "0.492400", "gamma": "0.000680", "theta": "-7.475800", "vega": "16.818000",
				 "impliedVolatility": "11.260000"},
				{"name": "NIFTY", "expiry": "25JAN2024", "strikePrice": "garbage", "optionType": "PE",
				 "delta": "x", "gamma": "x", "theta": "x", "vega": "x", "impliedVolatility": "x"}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	greeks, err := c.OptionGreeks("NIFTY", "25JAN2024")
	if err != nil {
		t.Fatalf("OptionGreeks: %v", err)
	}
	if len(greeks) != 1 {
		t.Fatalf("got %d greek rows, want 1 (bad row skipped)", len(greeks))
	}
	g := greeks[0]
	if g.Strike != 21500 || g.OptionType != "CE" || g.IV != 11.26 {
		t.Errorf("greek decoded wrong: %+v", g)
	}
}
