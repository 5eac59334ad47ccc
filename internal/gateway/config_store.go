package gateway

import (
	"context"
	"encoding/json"
	"log"

	"breakout-scanner/internal/detector"
	redisstore "breakout-scanner/internal/store/redis"
)

// ConfigStore holds the gateway's view of the active breakout thresholds
// and pushes operator changes through Redis: the full map is persisted
// for restarts, the partial merge is published on the config channel so
// the scanner (and any other gateway instance) applies the same change.
type ConfigStore struct {
	view  *detector.ConfigStore
	redis *redisstore.Writer
}

// NewConfigStore creates a store seeded with the default thresholds.
func NewConfigStore(redis *redisstore.Writer) *ConfigStore {
	return &ConfigStore{
		view:  detector.NewConfigStore(detector.DefaultConfig()),
		redis: redis,
	}
}

// Load restores persisted threshold overrides from Redis. Called once
// during startup. Returns true if overrides were restored.
func (cs *ConfigStore) Load(ctx context.Context, r *redisstore.Reader) bool {
	values, err := r.LoadConfig(ctx)
	if err != nil {
		log.Printf("[gateway] config load failed: %v", err)
		return false
	}
	if len(values) == 0 {
		return false
	}
	if _, err := cs.view.Apply(sanitizeOverrides(values)); err != nil {
		log.Printf("[gateway] persisted config rejected: %v", err)
		return false
	}
	log.Printf("[gateway] restored %d threshold overrides from redis", len(values))
	return true
}

// Current returns the active threshold map.
func (cs *ConfigStore) Current() map[string]float64 {
	return cs.view.Current().AsMap()
}

// Update merges operator overrides into the active config, persists the
// full map, and publishes the partial for live subscribers. Unknown
// threshold names reject the whole batch.
func (cs *ConfigStore) Update(ctx context.Context, overrides map[string]float64) (map[string]float64, error) {
	overrides = sanitizeOverrides(overrides)
	next, err := cs.view.Apply(overrides)
	if err != nil {
		return nil, err
	}
	full := next.AsMap()

	if cs.redis != nil {
		if err := cs.redis.SaveConfig(ctx, full); err != nil {
			log.Printf("[gateway] WARNING: config persist failed: %v", err)
		}
		payload, _ := json.Marshal(overrides)
		if err := cs.redis.PublishConfig(ctx, payload); err != nil {
			log.Printf("[gateway] WARNING: config publish failed: %v", err)
		}
	}
	return full, nil
}

// applyRemote merges a change received over Pub/Sub into the local view.
// Re-applying our own publish is harmless; changes from another gateway
// instance keep this one in sync.
func (cs *ConfigStore) applyRemote(overrides map[string]float64) (map[string]float64, bool) {
	next, err := cs.view.Apply(sanitizeOverrides(overrides))
	if err != nil {
		log.Printf("[gateway] remote config rejected: %v", err)
		return nil, false
	}
	return next.AsMap(), true
}

// sanitizeOverrides bounds values that have hard ranges. min_confidence
// is a probability floor and is clamped into [0, 1].
func sanitizeOverrides(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	for name, v := range values {
		if name == "min_confidence" {
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
		}
		out[name] = v
	}
	return out
}
