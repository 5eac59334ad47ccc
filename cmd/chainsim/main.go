// cmd/chainsim: demo option-chain simulator. Serves synthetic index chain
// snapshots so the scanner runs without Angel One credentials
// (STAGING_MODE=true).
//
// Snapshot JSON shape is identical to model.MarketSnapshot; prices are in
// paise (1 INR = 100 paise), same as the live feed. High/Low and per-side
// volumes cover the interval since the previous /snapshot request, so the
// scanner sees ready-made interval candles.
//
// Config (env vars):
//
//	CHAINSIM_ADDR     listen address (default ":9100")
//	CHAINSIM_TOKEN    index token (default "99926000")
//	CHAINSIM_BASE     starting spot in rupees (default "22000")
//	CHAINSIM_GAP      strike gap in rupees (default "50")
//	CHAINSIM_STEPS    grid half-width in strikes (default "10")
//	CHAINSIM_STEP_MS  simulation step interval milliseconds (default "1000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"breakout-scanner/internal/model"
)

// ─── Simulation state ─────────────────────────────────────────────────────────

// optionSim holds one side of one strike.
type optionSim struct {
	ltp       int64 // paise
	prevClose int64 // paise, fixed at seed time
	oi        int64
	iv        float64
	volAccum  int64 // traded volume since the last snapshot request
}

type strikeSim struct {
	strike int64
	call   optionSim
	put    optionSim
}

// sim is the whole simulated market. One scanner polls it, so interval
// accumulators (intHigh/intLow, per-side volAccum) reset on each request.
type sim struct {
	mu sync.Mutex

	token    string
	exchange string
	gap      int64 // paise
	steps    int

	spot      int64
	open      int64
	prevClose int64
	dayHigh   int64
	dayLow    int64
	intHigh   int64
	intLow    int64
	totalVol  int64

	strikes map[int64]*strikeSim

	// Occasional directional bursts make breakout detectors fire.
	burstLeft int
	burstDir  float64 // +1 up, -1 down

	rng *rand.Rand
}

func newSim(token string, basePaise, gapPaise int64, steps int) *sim {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &sim{
		token:     token,
		exchange:  "NSE",
		gap:       gapPaise,
		steps:     steps,
		spot:      basePaise,
		open:      basePaise + int64(rng.Float64()*float64(gapPaise)) - gapPaise/2,
		prevClose: basePaise + int64(rng.Float64()*float64(gapPaise)) - gapPaise/2,
		dayHigh:   basePaise,
		dayLow:    basePaise,
		intHigh:   basePaise,
		intLow:    basePaise,
		strikes:   make(map[int64]*strikeSim),
		rng:       rng,
	}
	s.seedGrid()
	return s
}

// priceOption is a rough intrinsic + decaying time value model. ATM time
// value lands around 2x the strike gap, fading with distance from spot.
func (s *sim) priceOption(strike int64, call bool) int64 {
	var intrinsic int64
	if call && s.spot > strike {
		intrinsic = s.spot - strike
	}
	if !call && s.spot < strike {
		intrinsic = strike - s.spot
	}
	dist := strike - s.spot
	if dist < 0 {
		dist = -dist
	}
	tv := int64(float64(s.gap) * 2.2 * math.Exp(-float64(dist)/float64(3*s.gap)))
	p := intrinsic + tv
	if p < 5 {
		p = 5
	}
	return p
}

func (s *sim) seedSide(strike int64, call bool) optionSim {
	ltp := s.priceOption(strike, call)
	dist := strike - s.spot
	if dist < 0 {
		dist = -dist
	}
	// OI bells out around ATM
	oi := int64(float64(2_500_000) / (1.0 + float64(dist)/float64(s.gap)*0.4))
	oi += s.rng.Int63n(200_000)
	return optionSim{
		ltp:       ltp,
		prevClose: ltp + int64((s.rng.Float64()-0.5)*0.2*float64(ltp)),
		oi:        oi,
		iv:        12.0 + s.rng.Float64()*4.0,
	}
}

func (s *sim) ensureStrike(k int64) *strikeSim {
	if st, ok := s.strikes[k]; ok {
		return st
	}
	st := &strikeSim{
		strike: k,
		call:   s.seedSide(k, true),
		put:    s.seedSide(k, false),
	}
	s.strikes[k] = st
	return st
}

func (s *sim) seedGrid() {
	atm := model.NearestStrike(s.spot, s.gap)
	for i := -s.steps; i <= s.steps; i++ {
		s.ensureStrike(atm + int64(i)*s.gap)
	}
}

// ─── Per-step evolution ───────────────────────────────────────────────────────

func (s *sim) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Regime shifts: ~2% chance per step to start a 20-60 step burst
	if s.burstLeft == 0 && s.rng.Float64() < 0.02 {
		s.burstLeft = 20 + s.rng.Intn(41)
		s.burstDir = 1
		if s.rng.Float64() < 0.5 {
			s.burstDir = -1
		}
		log.Printf("[chainsim] burst started: dir=%+.0f steps=%d", s.burstDir, s.burstLeft)
	}

	// Spot walk: baseline noise, plus directional drift during a burst
	drift := (s.rng.Float64() - 0.5) * 0.0006
	if s.burstLeft > 0 {
		drift += s.burstDir * 0.0008 * (0.5 + s.rng.Float64())
		s.burstLeft--
	}
	s.spot += int64(float64(s.spot) * drift)
	if s.spot < s.gap {
		s.spot = s.gap
	}
	if s.spot > s.dayHigh {
		s.dayHigh = s.spot
	}
	if s.spot < s.dayLow {
		s.dayLow = s.spot
	}
	if s.spot > s.intHigh {
		s.intHigh = s.spot
	}
	if s.spot < s.intLow {
		s.intLow = s.spot
	}

	burst := s.burstLeft > 0
	volChunk := int64(20_000 + s.rng.Intn(30_000))
	if burst {
		volChunk *= 3
	}
	s.totalVol += volChunk

	atm := model.NearestStrike(s.spot, s.gap)
	for i := -s.steps; i <= s.steps; i++ {
		k := atm + int64(i)*s.gap
		st := s.ensureStrike(k)
		nearness := 1.0 / (1.0 + math.Abs(float64(i))*0.5)

		s.stepSide(&st.call, k, true, burst, nearness)
		s.stepSide(&st.put, k, false, burst, nearness)
	}
}

func (s *sim) stepSide(o *optionSim, strike int64, call bool, burst bool, nearness float64) {
	fair := s.priceOption(strike, call)
	noise := int64((s.rng.Float64() - 0.5) * 0.06 * float64(fair))
	o.ltp = fair + noise
	if o.ltp < 5 {
		o.ltp = 5
	}

	// Interval volume: concentrated near ATM, heavier in a burst
	v := int64(float64(s.rng.Intn(40_000)) * nearness)
	if burst {
		v *= 4
	}
	o.volAccum += v

	// OI random walk; a burst unwinds the side the move runs over and
	// builds the side being written behind it
	oiDrift := (s.rng.Float64() - 0.5) * 0.004
	if burst {
		bias := 0.006 * nearness
		if (call && s.burstDir > 0) || (!call && s.burstDir < 0) {
			oiDrift -= bias // short covering on the run side
		} else {
			oiDrift += bias // writers build the protected side
		}
	}
	o.oi += int64(float64(o.oi) * oiDrift)
	if o.oi < 10_000 {
		o.oi = 10_000
	}

	// IV: slow mean-reverting walk, bumped while a burst runs
	o.iv += (s.rng.Float64() - 0.5) * 0.15
	if burst {
		o.iv += 0.05
	}
	if o.iv < 8 {
		o.iv = 8
	}
	if o.iv > 35 {
		o.iv = 35
	}
}

// ─── Snapshot assembly ────────────────────────────────────────────────────────

// snapshot builds one MarketSnapshot and resets the interval accumulators.
func (s *sim) snapshot() *model.MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	atm := model.NearestStrike(s.spot, s.gap)
	chain := make([]model.StrikeRow, 0, 2*s.steps+1)
	for i := -s.steps; i <= s.steps; i++ {
		k := atm + int64(i)*s.gap
		st := s.ensureStrike(k)
		chain = append(chain, model.StrikeRow{
			Strike: k,
			Call:   quoteOf(&st.call),
			Put:    quoteOf(&st.put),
		})
		st.call.volAccum = 0
		st.put.volAccum = 0
	}

	snap := &model.MarketSnapshot{
		Token:       s.token,
		Exchange:    s.exchange,
		TS:          time.Now(),
		Spot:        s.spot,
		Open:        s.open,
		High:        s.intHigh,
		Low:         s.intLow,
		DayHigh:     s.dayHigh,
		DayLow:      s.dayLow,
		PrevClose:   s.prevClose,
		TotalVolume: s.totalVol,
		ATMStrike:   atm,
		Chain:       chain,
	}
	s.intHigh = s.spot
	s.intLow = s.spot
	return snap
}

func quoteOf(o *optionSim) model.OptionQuote {
	return model.OptionQuote{
		LastPrice:   o.ltp,
		Volume:      o.volAccum,
		OI:          o.oi,
		PriceChange: o.ltp - o.prevClose,
		IV:          math.Round(o.iv*100) / 100,
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[chainsim] starting demo chain simulator...")

	addr := envOrDefault("CHAINSIM_ADDR", ":9100")
	token := envOrDefault("CHAINSIM_TOKEN", "99926000")
	baseRupees := envIntOrDefault("CHAINSIM_BASE", 22000)
	gapRupees := envIntOrDefault("CHAINSIM_GAP", 50)
	steps := envIntOrDefault("CHAINSIM_STEPS", 10)
	stepMs := envIntOrDefault("CHAINSIM_STEP_MS", 1000)

	s := newSim(token, int64(baseRupees)*100, int64(gapRupees)*100, steps)
	log.Printf("[chainsim] token=%s base=₹%d gap=₹%d grid=±%d strikes, step every %dms",
		token, baseRupees, gapRupees, steps, stepMs)

	go func() {
		ticker := time.NewTicker(time.Duration(stepMs) * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			s.step()
		}
	}()

	http.HandleFunc("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.snapshot())
	})
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"chainsim"}`)
	})

	log.Printf("[chainsim] ✅ listening on %s  (snapshot: http://localhost%s/snapshot)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[chainsim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
