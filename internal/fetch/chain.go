package fetch

import (
	"fmt"
	"log"
	"time"

	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

// StrikePlan maps one grid strike to its call and put contract tokens.
type StrikePlan struct {
	Strike    int64 // paise
	CallToken string
	PutToken  string
}

// ChainPlan is the contract set to quote each cycle: the strike grid
// around ATM for the nearest weekly expiry. Strikes ascend.
type ChainPlan struct {
	Expiry  time.Time
	Center  int64 // ATM strike the grid was built around
	Strikes []StrikePlan
}

// Tokens returns every option token in the plan, calls and puts
// interleaved by strike.
func (p *ChainPlan) Tokens() []string {
	out := make([]string, 0, 2*len(p.Strikes))
	for _, s := range p.Strikes {
		out = append(out, s.CallToken, s.PutToken)
	}
	return out
}

// Covers reports whether the plan's grid is still centered for the given
// spot and its expiry has not passed. A false means rebuild.
func (p *ChainPlan) Covers(spot int64, gap int64, now time.Time) bool {
	if p == nil {
		return false
	}
	if model.NearestStrike(spot, gap) != p.Center {
		return false
	}
	return !expired(p.Expiry, now)
}

// BuildChainPlan selects the nearest non-past expiry from the records and
// maps the 2*GridSteps+1 strikes around spot to contract tokens. Strikes
// with a missing call or put contract are dropped; the plan errors out if
// fewer than half the grid survives.
func BuildChainPlan(records []ScripRecord, spec model.IndexSpec, spot int64, now time.Time) (*ChainPlan, error) {
	expiry, ok := nearestExpiry(records, now)
	if !ok {
		return nil, fmt.Errorf("no live expiry for %s in scrip records", spec.Name)
	}

	// Index the chosen expiry's contracts by strike and side.
	type sides struct{ call, put string }
	byStrike := make(map[int64]*sides)
	for i := range records {
		rec := &records[i]
		if !rec.Expiry.Equal(expiry) {
			continue
		}
		s := byStrike[rec.Strike]
		if s == nil {
			s = &sides{}
			byStrike[rec.Strike] = s
		}
		if rec.OptionType == "CE" {
			s.call = rec.Token
		} else {
			s.put = rec.Token
		}
	}

	center := model.NearestStrike(spot, spec.StrikeGap)
	plan := &ChainPlan{Expiry: expiry, Center: center}
	missing := 0
	for i := -spec.GridSteps; i <= spec.GridSteps; i++ {
		strike := center + int64(i)*spec.StrikeGap
		s := byStrike[strike]
		if s == nil || s.call == "" || s.put == "" {
			missing++
			continue
		}
		plan.Strikes = append(plan.Strikes, StrikePlan{Strike: strike, CallToken: s.call, PutToken: s.put})
	}

	gridSize := 2*spec.GridSteps + 1
	if len(plan.Strikes) < (gridSize+1)/2 {
		return nil, fmt.Errorf("only %d of %d grid strikes have both contracts for expiry %s",
			len(plan.Strikes), gridSize, expiry.Format("02Jan2006"))
	}
	if missing > 0 {
		log.Printf("[fetch] chain plan: %d of %d grid strikes missing a contract side", missing, gridSize)
	}
	return plan, nil
}

// nearestExpiry returns the earliest expiry on or after today's IST date.
func nearestExpiry(records []ScripRecord, now time.Time) (time.Time, bool) {
	var best time.Time
	for i := range records {
		e := records[i].Expiry
		if expired(e, now) {
			continue
		}
		if best.IsZero() || e.Before(best) {
			best = e
		}
	}
	return best, !best.IsZero()
}

// expired reports whether the expiry date falls before today in IST.
// Same-day contracts trade until the close, so today's expiry is live.
func expired(expiry, now time.Time) bool {
	ist := now.In(session.IST)
	today := time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, session.IST)
	return expiry.Before(today)
}
