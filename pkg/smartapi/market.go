package smartapi

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// MaxQuoteBatch is the upstream cap on tokens per market-data call.
// Callers holding more tokens must batch.
const MaxQuoteBatch = 50

// FullQuote is one instrument's FULL-mode quote. Prices are rupees as
// returned by the API; callers convert to paise at the model boundary.
type FullQuote struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingSymbol"`
	SymbolToken   string  `json:"symbolToken"`
	LTP           float64 `json:"ltp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"` // previous session close
	NetChange     float64 `json:"netChange"`
	PercentChange float64 `json:"percentChange"`
	AvgPrice      float64 `json:"avgPrice"`
	TradeVolume   int64   `json:"tradeVolume"` // cumulative session quantity
	OpenInterest  int64   `json:"opnInterest"`
	TotBuyQuan    int64   `json:"totBuyQuan"`
	TotSellQuan   int64   `json:"totSellQuan"`
	ExchFeedTime  string  `json:"exchFeedTime"`
}

// UnfetchedQuote reports a token the quote endpoint could not serve.
type UnfetchedQuote struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symbolToken"`
	Message     string `json:"message"`
	ErrorCode   string `json:"errorCode"`
}

// FullQuotes fetches FULL-mode quotes for the given exchange→tokens map
// in a single call. The total token count must not exceed MaxQuoteBatch.
func (c *Client) FullQuotes(exchangeTokens map[string][]string) ([]FullQuote, []UnfetchedQuote, error) {
	total := 0
	for _, tokens := range exchangeTokens {
		total += len(tokens)
	}
	if total == 0 {
		return nil, nil, nil
	}
	if total > MaxQuoteBatch {
		return nil, nil, fmt.Errorf("quote batch of %d exceeds limit %d", total, MaxQuoteBatch)
	}

	params := map[string]any{"mode": "FULL", "exchangeTokens": exchangeTokens}
	_, raw, err := c.post("api.market.data", params)
	if err != nil {
		return nil, nil, err
	}

	var env struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Fetched   []FullQuote      `json:"fetched"`
			Unfetched []UnfetchedQuote `json:"unfetched"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("decode quote response: %w", err)
	}
	if !env.Status {
		return nil, nil, fmt.Errorf("quote request failed: %s", env.Message)
	}
	return env.Data.Fetched, env.Data.Unfetched, nil
}

// OptionGreek holds one contract's greeks and implied volatility.
// Strike is in rupees; IV is an annualized percentage.
type OptionGreek struct {
	Strike     float64
	OptionType string // "CE" or "PE"
	Delta      float64
	Gamma      float64
	Theta      float64
	Vega       float64
	IV         float64
}

// greekRow is the wire form: the endpoint returns every numeric field as
// a string.
type greekRow struct {
	Name        string `json:"name"`
	Expiry      string `json:"expiry"`
	StrikePrice string `json:"strikePrice"`
	OptionType  string `json:"optionType"`
	Delta       string `json:"delta"`
	Gamma       string `json:"gamma"`
	Theta       string `json:"theta"`
	Vega        string `json:"vega"`
	IV          string `json:"impliedVolatility"`
}

// OptionGreeks fetches per-contract greeks for an underlying name and
// expiry (formatted per FormatExpiry). Rows with unparseable numbers are
// skipped.
func (c *Client) OptionGreeks(name, expiry string) ([]OptionGreek, error) {
	params := map[string]any{"name": name, "expirydate": expiry}
	_, raw, err := c.post("api.optionGreek", params)
	if err != nil {
		return nil, err
	}

	var env struct {
		Status  bool       `json:"status"`
		Message string     `json:"message"`
		Data    []greekRow `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode greeks response: %w", err)
	}
	if !env.Status {
		return nil, fmt.Errorf("greeks request failed: %s", env.Message)
	}

	out := make([]OptionGreek, 0, len(env.Data))
	for _, row := range env.Data {
		strike, err := strconv.ParseFloat(row.StrikePrice, 64)
		if err != nil {
			log.Printf("[smartapi] skipping greek row with bad strike %q", row.StrikePrice)
			continue
		}
		g := OptionGreek{
			Strike:     strike,
			OptionType: row.OptionType,
			Delta:      parseFloatOrZero(row.Delta),
			Gamma:      parseFloatOrZero(row.Gamma),
			Theta:      parseFloatOrZero(row.Theta),
			Vega:       parseFloatOrZero(row.Vega),
			IV:         parseFloatOrZero(row.IV),
		}
		out = append(out, g)
	}
	return out, nil
}

func parseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// FormatExpiry renders an expiry date the way the greeks endpoint wants
// it, e.g. 25JAN2024.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format("02Jan2006"))
}

// ScripMatch is one instrument returned by scrip search.
type ScripMatch struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

// SearchScrip looks up instruments by symbol fragment on one exchange
// segment ("NSE", "NFO", ...).
func (c *Client) SearchScrip(exchange, query string) ([]ScripMatch, error) {
	params := map[string]any{"exchange": exchange, "searchscrip": query}
	_, raw, err := c.post("api.search.scrip", params)
	if err != nil {
		return nil, err
	}

	var env struct {
		Status  bool         `json:"status"`
		Message string       `json:"message"`
		Data    []ScripMatch `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode scrip search response: %w", err)
	}
	if !env.Status {
		return nil, fmt.Errorf("scrip search failed: %s", env.Message)
	}
	return env.Data, nil
}
