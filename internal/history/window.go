// Package history provides the bounded rolling window of market snapshots
// that indicators and detectors read their lookback from.
package history

import "breakout-scanner/internal/model"

// Window is a fixed-capacity circular buffer of snapshots in append order.
// Append always succeeds and overwrites the oldest entry when full.
// Duplicate timestamps are tolerated; entries are never deduplicated.
//
// Not thread-safe: the scan cycle is single-threaded and the single-writer
// discipline belongs to the caller.
type Window struct {
	buf  []model.MarketSnapshot
	cap  int
	pos  int // next write position
	full bool
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 500
	}
	return &Window{
		buf: make([]model.MarketSnapshot, capacity),
		cap: capacity,
	}
}

// Append adds a snapshot, evicting the oldest when at capacity.
func (w *Window) Append(s model.MarketSnapshot) {
	w.buf[w.pos] = s
	w.pos = (w.pos + 1) % w.cap
	if w.pos == 0 && !w.full {
		w.full = true
	}
}

// Len returns the number of snapshots currently held.
func (w *Window) Len() int {
	if w.full {
		return w.cap
	}
	return w.pos
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return w.cap
}

// All returns the held snapshots oldest-first. The returned slice is a
// copy; mutating it does not affect the window.
func (w *Window) All() []model.MarketSnapshot {
	n := w.Len()
	out := make([]model.MarketSnapshot, n)
	for i := 0; i < n; i++ {
		out[i] = w.buf[w.index(i)]
	}
	return out
}

// Last returns the most recent n snapshots oldest-first. When fewer than n
// are held it returns all of them.
func (w *Window) Last(n int) []model.MarketSnapshot {
	held := w.Len()
	if n > held {
		n = held
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.MarketSnapshot, n)
	start := held - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[w.index(start+i)]
	}
	return out
}

// Latest returns the most recent snapshot. ok is false on an empty window.
func (w *Window) Latest() (model.MarketSnapshot, bool) {
	n := w.Len()
	if n == 0 {
		return model.MarketSnapshot{}, false
	}
	return w.buf[w.index(n-1)], true
}

// Prev returns the snapshot before the latest. ok is false when fewer than
// two are held.
func (w *Window) Prev() (model.MarketSnapshot, bool) {
	n := w.Len()
	if n < 2 {
		return model.MarketSnapshot{}, false
	}
	return w.buf[w.index(n-2)], true
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (w *Window) index(logical int) int {
	if w.full {
		return (w.pos + logical) % w.cap
	}
	return logical
}
