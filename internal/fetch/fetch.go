// Package fetch assembles option-chain snapshots for the scan loop. The
// live path quotes the strike grid against Angel One SmartAPI in batches;
// staging polls the chain simulator instead. Both hide behind Fetcher.
package fetch

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
	"breakout-scanner/pkg/smartapi"
)

// Fetcher produces one market snapshot per call.
type Fetcher interface {
	Fetch(ctx context.Context) (*model.MarketSnapshot, error)
}

// ivKey identifies one contract's IV across cycles.
type ivKey struct {
	strike int64
	side   string
}

// prevState carries the previous poll's baselines for the current IST
// day: cumulative volumes for diffing, spot and day extremes for the
// interval candle, and last known IVs to ride out greeks-endpoint blips.
type prevState struct {
	day     int // IST day marker; baselines reset when it changes
	spot    int64
	dayHigh int64
	dayLow  int64
	vols    map[string]int64
	ivs     map[ivKey]float64
}

// LiveFetcher quotes the live option chain through SmartAPI. Not safe for
// concurrent use; the scan loop is its only caller.
type LiveFetcher struct {
	client  *smartapi.Client
	scrips  *ScripSource
	spec    model.IndexSpec
	limiter *rate.Limiter

	records    []ScripRecord
	recordsDay int
	plan       *ChainPlan

	prev prevState
}

// NewLiveFetcher builds a fetcher for the given underlying. quotesPerSec
// throttles every upstream call (quotes and greeks alike).
func NewLiveFetcher(client *smartapi.Client, scrips *ScripSource, spec model.IndexSpec, quotesPerSec float64) *LiveFetcher {
	if quotesPerSec <= 0 {
		quotesPerSec = 1
	}
	return &LiveFetcher{
		client:  client,
		scrips:  scrips,
		spec:    spec,
		limiter: rate.NewLimiter(rate.Limit(quotesPerSec), 1),
		prev:    prevState{vols: make(map[string]int64), ivs: make(map[ivKey]float64)},
	}
}

// Fetch quotes the underlying and its strike grid and assembles one
// snapshot: spot quote first (the grid may need re-centering on it), then
// the option batches, then the greeks pass for IVs.
func (f *LiveFetcher) Fetch(ctx context.Context) (*model.MarketSnapshot, error) {
	now := time.Now()
	f.rollDay(now)

	spotQ, err := f.spotQuote(ctx)
	if err != nil {
		return nil, err
	}
	spot := model.Paise(spotQ.LTP)
	if spot <= 0 {
		return nil, fmt.Errorf("spot quote for %s returned ltp %.2f", f.spec.Name, spotQ.LTP)
	}

	if err := f.ensurePlan(ctx, spot, now); err != nil {
		return nil, err
	}

	quotes, err := f.optionQuotes(ctx)
	if err != nil {
		return nil, err
	}
	f.mergeGreeks(ctx)

	snap := f.buildSnapshot(spotQ, spot, quotes, now)
	if len(snap.Chain) < len(f.plan.Strikes)/2 {
		return nil, fmt.Errorf("only %d of %d planned strikes quoted", len(snap.Chain), len(f.plan.Strikes))
	}
	return snap, nil
}

// rollDay resets per-day baselines when the IST date changes.
func (f *LiveFetcher) rollDay(now time.Time) {
	day := istDay(now)
	if f.prev.day != day {
		f.prev = prevState{day: day, vols: make(map[string]int64), ivs: make(map[ivKey]float64)}
	}
}

func istDay(t time.Time) int {
	ist := t.In(session.IST)
	return ist.Year()*1000 + ist.YearDay()
}

func (f *LiveFetcher) spotQuote(ctx context.Context) (smartapi.FullQuote, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return smartapi.FullQuote{}, err
	}
	fetched, _, err := f.client.FullQuotes(map[string][]string{f.spec.Exchange: {f.spec.Token}})
	if err != nil {
		return smartapi.FullQuote{}, fmt.Errorf("spot quote: %w", err)
	}
	if len(fetched) == 0 {
		return smartapi.FullQuote{}, fmt.Errorf("spot quote: token %s not served", f.spec.Token)
	}
	return fetched[0], nil
}

// ensurePlan keeps the scrip records fresh for the day and the strike
// grid centered on spot.
func (f *LiveFetcher) ensurePlan(ctx context.Context, spot int64, now time.Time) error {
	day := istDay(now)
	if f.recordsDay != day || len(f.records) == 0 {
		records, err := f.scrips.OptionRecords(ctx, f.spec.Name)
		if err != nil {
			return fmt.Errorf("scrip records: %w", err)
		}
		f.records, f.recordsDay = records, day
		f.plan = nil
	}

	if f.plan.Covers(spot, f.spec.StrikeGap, now) {
		return nil
	}
	plan, err := BuildChainPlan(f.records, f.spec, spot, now)
	if err != nil {
		return err
	}
	log.Printf("[fetch] chain plan: %d strikes around %.0f, expiry %s",
		len(plan.Strikes), model.Rupees(plan.Center), plan.Expiry.Format("02Jan2006"))
	f.plan = plan
	return nil
}

func (f *LiveFetcher) optionQuotes(ctx context.Context) (map[string]smartapi.FullQuote, error) {
	tokens := f.plan.Tokens()
	quotes := make(map[string]smartapi.FullQuote, len(tokens))
	for start := 0; start < len(tokens); start += smartapi.MaxQuoteBatch {
		end := min(start+smartapi.MaxQuoteBatch, len(tokens))
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		fetched, unfetched, err := f.client.FullQuotes(map[string][]string{"NFO": tokens[start:end]})
		if err != nil {
			return nil, fmt.Errorf("option quotes: %w", err)
		}
		if len(unfetched) > 0 {
			log.Printf("[fetch] %d of %d option tokens unserved (first: %s %s)",
				len(unfetched), end-start, unfetched[0].SymbolToken, unfetched[0].Message)
		}
		for _, q := range fetched {
			quotes[q.SymbolToken] = q
		}
	}
	return quotes, nil
}

// mergeGreeks refreshes the per-contract IVs. A failed greeks call keeps
// the previous cycle's values, so IVs degrade to stale rather than zero.
func (f *LiveFetcher) mergeGreeks(ctx context.Context) {
	if err := f.limiter.Wait(ctx); err != nil {
		return
	}
	greeks, err := f.client.OptionGreeks(f.spec.Name, smartapi.FormatExpiry(f.plan.Expiry))
	if err != nil {
		log.Printf("[fetch] greeks unavailable, carrying previous IVs: %v", err)
		return
	}
	for _, g := range greeks {
		f.prev.ivs[ivKey{strike: model.Paise(g.Strike), side: g.OptionType}] = g.IV
	}
}

// buildSnapshot turns quote data into the model snapshot and advances the
// interval baselines.
func (f *LiveFetcher) buildSnapshot(spotQ smartapi.FullQuote, spot int64, quotes map[string]smartapi.FullQuote, now time.Time) *model.MarketSnapshot {
	dayHigh := model.Paise(spotQ.High)
	dayLow := model.Paise(spotQ.Low)

	// The quote feed only exposes day extremes, so the interval candle is
	// bounded by the two poll endpoints, stretched to a day extreme when
	// one was set during this interval.
	high, low := spot, spot
	if f.prev.spot > 0 {
		high = max(spot, f.prev.spot)
		low = min(spot, f.prev.spot)
		if dayHigh > f.prev.dayHigh && f.prev.dayHigh > 0 {
			high = dayHigh
		}
		if dayLow < f.prev.dayLow && f.prev.dayLow > 0 {
			low = dayLow
		}
	}

	snap := &model.MarketSnapshot{
		Token:       f.spec.Token,
		Exchange:    f.spec.Exchange,
		TS:          feedTime(spotQ.ExchFeedTime, now),
		Spot:        spot,
		Open:        model.Paise(spotQ.Open),
		High:        high,
		Low:         low,
		DayHigh:     dayHigh,
		DayLow:      dayLow,
		PrevClose:   model.Paise(spotQ.Close),
		TotalVolume: spotQ.TradeVolume,
		ATMStrike:   model.NearestStrike(spot, f.spec.StrikeGap),
	}

	for _, sp := range f.plan.Strikes {
		cq, cok := quotes[sp.CallToken]
		pq, pok := quotes[sp.PutToken]
		if !cok || !pok {
			continue
		}
		snap.Chain = append(snap.Chain, model.StrikeRow{
			Strike: sp.Strike,
			Call:   f.optionQuote(sp.CallToken, sp.Strike, "CE", cq),
			Put:    f.optionQuote(sp.PutToken, sp.Strike, "PE", pq),
		})
	}

	f.prev.spot = spot
	f.prev.dayHigh = dayHigh
	f.prev.dayLow = dayLow
	return snap
}

func (f *LiveFetcher) optionQuote(token string, strike int64, side string, q smartapi.FullQuote) model.OptionQuote {
	return model.OptionQuote{
		LastPrice:   model.Paise(q.LTP),
		Volume:      f.volumeSince(token, q.TradeVolume),
		OI:          q.OpenInterest,
		PriceChange: model.Paise(q.NetChange),
		IV:          f.prev.ivs[ivKey{strike: strike, side: side}],
	}
}

// volumeSince converts the feed's cumulative session volume into traded
// quantity since the previous poll. The first observation of the day (or
// of a newly gridded token) sets the baseline and reports zero.
func (f *LiveFetcher) volumeSince(token string, cumulative int64) int64 {
	baseline, seen := f.prev.vols[token]
	f.prev.vols[token] = cumulative
	if !seen {
		return 0
	}
	d := cumulative - baseline
	if d < 0 {
		return 0
	}
	return d
}

// feedTime parses the exchange feed timestamp ("21-Jun-2023 10:46:10",
// IST); fallback is the local fetch time.
func feedTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := time.ParseInLocation("02-Jan-2006 15:04:05", s, session.IST)
	if err != nil {
		return fallback
	}
	return t
}
