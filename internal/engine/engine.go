// Package engine runs one analysis cycle end to end: append the snapshot
// to the rolling history, compute the shared indicator pass, evaluate the
// detector set, and aggregate the fired signals into an AnalysisResult.
package engine

import (
	"github.com/google/uuid"

	"breakout-scanner/internal/detector"
	"breakout-scanner/internal/history"
	"breakout-scanner/internal/indicator"
	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
)

// Engine owns the per-underlying analysis state: the rolling history, the
// detector runner, the session gate and the previous cycle's cached chain
// metrics. One engine serves one underlying, driven by a single
// goroutine; there is no internal locking.
type Engine struct {
	spec   model.IndexSpec
	window *history.Window
	runner *detector.Runner
	gate   session.Gate
	cfg    *detector.ConfigStore
	prev   detector.Priors
}

// New builds an engine for the given underlying with a history window of
// the given capacity in points. The config store is shared with the API
// layer, so a threshold change lands on the next cycle.
func New(spec model.IndexSpec, capacity int, cfg *detector.ConfigStore) *Engine {
	return &Engine{
		spec:   spec,
		window: history.NewWindow(capacity),
		runner: detector.NewRunner(),
		gate:   session.NewGate(spec.ExpiryWeekday),
		cfg:    cfg,
	}
}

// Runner exposes the detector runner so the host can attach metric hooks.
func (e *Engine) Runner() *detector.Runner { return e.runner }

// HistoryLen returns the number of snapshots currently held.
func (e *Engine) HistoryLen() int { return e.window.Len() }

// Warm seeds the history with replayed snapshots (oldest-first) without
// running detection, and primes the previous-cycle chain metrics from the
// newest point so comparison detectors can fire on the first live cycle.
func (e *Engine) Warm(points []model.MarketSnapshot) {
	for _, p := range points {
		e.window.Append(p)
	}
	if latest, ok := e.window.Latest(); ok {
		e.prev.MaxPain, e.prev.MaxPainOK = indicator.MaxPain(latest.Chain)
		e.prev.GEX, e.prev.GEXOK = indicator.GammaExposure(latest, indicator.GEXSteps)
	}
}

// Analyze runs one full cycle on the snapshot. It always returns a
// well-formed result: missing chain data yields empty signals, a faulting
// detector is isolated by the runner, and the market state is built from
// whichever indicators were computable.
func (e *Engine) Analyze(snap model.MarketSnapshot) model.AnalysisResult {
	e.window.Append(snap)
	points := e.window.All()

	ind := indicator.Compute(points)
	cfg := e.cfg.Current()
	ctx := &detector.Context{
		Snapshot: snap,
		Points:   points,
		Ind:      ind,
		Flags:    e.gate.Flags(snap.TS),
		Cfg:      cfg,
		Prev:     e.prev,
	}
	raw := e.runner.RunAll(ctx)
	res := aggregate(uuid.NewString(), snap, ind, raw, cfg)

	// Carry the chain metrics into the next cycle. A cycle that could not
	// compute them keeps the last known values instead of clearing the
	// cache, so a shift across a brief chain-data gap still reads.
	if ind.MaxPainOK {
		e.prev.MaxPain, e.prev.MaxPainOK = ind.MaxPain, true
	}
	if ind.GEXOK {
		e.prev.GEX, e.prev.GEXOK = ind.GEX, true
	}
	return res
}
