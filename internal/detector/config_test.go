package detector

import "testing"

func TestConfigStore_ApplyPartial(t *testing.T) {
	s := NewConfigStore(DefaultConfig())

	got, err := s.Apply(map[string]float64{
		"oi_imbalance_ratio": 2.5,
		"min_confidence":     0.7,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.OIImbalanceRatio != 2.5 {
		t.Errorf("OIImbalanceRatio = %v, want 2.5", got.OIImbalanceRatio)
	}
	if got.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %v, want 0.7", got.MinConfidence)
	}
	if got.VolumeSpikeMult != DefaultConfig().VolumeSpikeMult {
		t.Errorf("untouched VolumeSpikeMult = %v, want default %v",
			got.VolumeSpikeMult, DefaultConfig().VolumeSpikeMult)
	}
	if s.Current() != got {
		t.Error("Current() should return the applied config")
	}
}

func TestConfigStore_UnknownNameRejectsBatch(t *testing.T) {
	s := NewConfigStore(DefaultConfig())

	_, err := s.Apply(map[string]float64{
		"oi_imbalance_ratio": 9,
		"no_such_threshold":  1,
	})
	if err == nil {
		t.Fatal("unknown threshold name should reject the batch")
	}
	if s.Current() != DefaultConfig() {
		t.Error("rejected batch must leave the config untouched")
	}
}

func TestConfigStore_OnChange(t *testing.T) {
	s := NewConfigStore(DefaultConfig())
	var seen []float64
	s.OnChange(func(c Config) { seen = append(seen, c.MinConfidence) })

	next := DefaultConfig()
	next.MinConfidence = 0.9
	s.Replace(next)
	if _, err := s.Apply(map[string]float64{"min_confidence": 0.4}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(seen) != 2 || seen[0] != 0.9 || seen[1] != 0.4 {
		t.Errorf("hook saw %v, want [0.9 0.4]", seen)
	}
}

// Every name AsMap serves must be settable through apply, or the config
// API would report thresholds it cannot change.
func TestConfig_ExportedNamesAreSettable(t *testing.T) {
	cfg := DefaultConfig()
	for name, v := range cfg.AsMap() {
		if err := cfg.apply(name, v+1); err != nil {
			t.Errorf("apply(%q): %v", name, err)
		}
	}
	after := cfg.AsMap()
	for name, v := range DefaultConfig().AsMap() {
		if after[name] != v+1 {
			t.Errorf("%s = %v after apply, want %v", name, after[name], v+1)
		}
	}
}
