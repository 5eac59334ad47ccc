package detector

import (
	"fmt"
	"sync"
)

// Config holds every runtime-tunable detector threshold as a flat set of
// numeric values keyed by snake_case names. Detectors read the Config
// value handed to them each cycle and never cache thresholds at
// construction, so an operator change applies on the next cycle. Bounds
// validation happens at the API boundary, not here.
type Config struct {
	MinConfidence        float64 // aggregator floor, 0..1
	OIImbalanceRatio     float64 // |dCallOI|/|dPutOI| trigger
	VWAPDistanceATR      float64 // VWAP deviation as a multiple of ATR
	ConsecutivePoints    float64 // same-side points required for VWAP breakout
	DivergenceSpotPct    float64 // min spot move, percent
	DivergenceOIPct      float64 // min total OI move, percent
	DivergenceIVDrop     float64 // min ATM IV move, percentage points
	GapMaxPct            float64 // max opening gap for first-hour breakout
	MaxPainShiftPts      float64 // min max-pain move, points
	CompressionWidthPct  float64 // Bollinger width below this is compressed
	IVDropPct            float64 // IV decline across the trend window, points
	IVSkewMaxPts         float64 // max call/put ATM IV skew, points
	VolumeSpikeMult      float64 // option volume vs trailing average
	KeyLevelProximityPts float64 // distance counting as "at" a level, points
	RoundLevelPts        float64 // round-number grid spacing, points
	RangeExpansionMult   float64 // interval range vs trailing average
	DeltaNeutralShare    float64 // near-ATM call OI share crossing
	GEXFloor             float64 // min |gamma exposure| for a flip signal
	OffPeakWeight        float64 // confidence multiplier outside optimal windows
}

// DefaultConfig returns the tuned starting thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence:        0.5,
		OIImbalanceRatio:     1.5,
		VWAPDistanceATR:      0.5,
		ConsecutivePoints:    2,
		DivergenceSpotPct:    0.25,
		DivergenceOIPct:      5.0,
		DivergenceIVDrop:     1.0,
		GapMaxPct:            0.8,
		MaxPainShiftPts:      50,
		CompressionWidthPct:  1.0,
		IVDropPct:            2.0,
		IVSkewMaxPts:         1.5,
		VolumeSpikeMult:      2.5,
		KeyLevelProximityPts: 25,
		RoundLevelPts:        100,
		RangeExpansionMult:   2.0,
		DeltaNeutralShare:    0.6,
		GEXFloor:             50000,
		OffPeakWeight:        0.9,
	}
}

// AsMap returns the flat name→value view served by the config API.
func (c Config) AsMap() map[string]float64 {
	return map[string]float64{
		"min_confidence":          c.MinConfidence,
		"oi_imbalance_ratio":      c.OIImbalanceRatio,
		"vwap_distance_atr":       c.VWAPDistanceATR,
		"consecutive_points":      c.ConsecutivePoints,
		"divergence_spot_pct":     c.DivergenceSpotPct,
		"divergence_oi_pct":       c.DivergenceOIPct,
		"divergence_iv_drop":      c.DivergenceIVDrop,
		"gap_max_pct":             c.GapMaxPct,
		"max_pain_shift_pts":      c.MaxPainShiftPts,
		"compression_width_pct":   c.CompressionWidthPct,
		"iv_drop_pct":             c.IVDropPct,
		"iv_skew_max_pts":         c.IVSkewMaxPts,
		"volume_spike_mult":       c.VolumeSpikeMult,
		"key_level_proximity_pts": c.KeyLevelProximityPts,
		"round_level_pts":         c.RoundLevelPts,
		"range_expansion_mult":    c.RangeExpansionMult,
		"delta_neutral_share":     c.DeltaNeutralShare,
		"gex_floor":               c.GEXFloor,
		"off_peak_weight":         c.OffPeakWeight,
	}
}

// apply sets one named threshold, returning an error on unknown names.
func (c *Config) apply(name string, v float64) error {
	switch name {
	case "min_confidence":
		c.MinConfidence = v
	case "oi_imbalance_ratio":
		c.OIImbalanceRatio = v
	case "vwap_distance_atr":
		c.VWAPDistanceATR = v
	case "consecutive_points":
		c.ConsecutivePoints = v
	case "divergence_spot_pct":
		c.DivergenceSpotPct = v
	case "divergence_oi_pct":
		c.DivergenceOIPct = v
	case "divergence_iv_drop":
		c.DivergenceIVDrop = v
	case "gap_max_pct":
		c.GapMaxPct = v
	case "max_pain_shift_pts":
		c.MaxPainShiftPts = v
	case "compression_width_pct":
		c.CompressionWidthPct = v
	case "iv_drop_pct":
		c.IVDropPct = v
	case "iv_skew_max_pts":
		c.IVSkewMaxPts = v
	case "volume_spike_mult":
		c.VolumeSpikeMult = v
	case "key_level_proximity_pts":
		c.KeyLevelProximityPts = v
	case "round_level_pts":
		c.RoundLevelPts = v
	case "range_expansion_mult":
		c.RangeExpansionMult = v
	case "delta_neutral_share":
		c.DeltaNeutralShare = v
	case "gex_floor":
		c.GEXFloor = v
	case "off_peak_weight":
		c.OffPeakWeight = v
	default:
		return fmt.Errorf("unknown threshold %q", name)
	}
	return nil
}

// ConfigStore hands each scan cycle a fresh Config value and accepts
// whole or partial replacements from the config API and the pub/sub
// reload channel. Change hooks fire outside the lock.
type ConfigStore struct {
	mu       sync.RWMutex
	cfg      Config
	onChange []func(Config)
}

// NewConfigStore creates a store seeded with the given config.
func NewConfigStore(initial Config) *ConfigStore {
	return &ConfigStore{cfg: initial}
}

// Current returns a copy of the active config.
func (s *ConfigStore) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps the whole config.
func (s *ConfigStore) Replace(c Config) {
	s.mu.Lock()
	s.cfg = c
	s.mu.Unlock()
	s.notify(c)
}

// Apply merges a partial set of named thresholds into the active config.
// Unknown names reject the whole batch and leave the config untouched.
func (s *ConfigStore) Apply(values map[string]float64) (Config, error) {
	s.mu.Lock()
	next := s.cfg
	for name, v := range values {
		if err := next.apply(name, v); err != nil {
			s.mu.Unlock()
			return Config{}, err
		}
	}
	s.cfg = next
	s.mu.Unlock()
	s.notify(next)
	return next, nil
}

// OnChange registers a hook invoked after every Replace or Apply.
func (s *ConfigStore) OnChange(fn func(Config)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *ConfigStore) notify(c Config) {
	s.mu.RLock()
	hooks := make([]func(Config), len(s.onChange))
	copy(hooks, s.onChange)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
}
