package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redisstore "breakout-scanner/internal/store/redis"
)

// PubSubRouter subscribes to the scanner's Redis Pub/Sub channels and
// maps each message onto its WS channel: analysis payloads also feed the
// market_state channel, and config merges refresh the threshold view
// before being rebroadcast in full.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// Run subscribes and routes until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	if r.hub.redis == nil {
		log.Println("[gateway] WARNING: no redis reader, pubsub routing disabled")
		return
	}

	channels := []string{
		redisstore.ChannelAnalysis,
		redisstore.ChannelSignals,
		redisstore.ChannelConfig,
	}
	pubsub := r.hub.redis.Client().Subscribe(ctx, channels...)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %d pubsub channels", len(channels))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.route(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *PubSubRouter) route(channel string, payload []byte) {
	switch channel {
	case redisstore.ChannelAnalysis:
		r.hub.broadcast(ChannelAnalysis, payload)
		if state, ok := marketStateFrom(payload); ok {
			r.hub.broadcast(ChannelMarketState, state)
		}

	case redisstore.ChannelSignals:
		r.hub.broadcast(ChannelSignals, payload)

	case redisstore.ChannelConfig:
		var overrides map[string]float64
		if err := json.Unmarshal(payload, &overrides); err != nil {
			log.Printf("[gateway] invalid config payload: %v", err)
			return
		}
		if r.hub.Config == nil {
			return
		}
		full, ok := r.hub.Config.applyRemote(overrides)
		if !ok {
			return
		}
		data, err := json.Marshal(ConfigView{
			TS:         time.Now().UTC(),
			Thresholds: full,
		})
		if err != nil {
			return
		}
		r.hub.broadcast(ChannelConfig, data)
	}
}

// marketStateFrom lifts the market-state block out of an analysis
// payload without decoding the whole result.
func marketStateFrom(payload []byte) ([]byte, bool) {
	var partial struct {
		CycleID string          `json:"cycle_id"`
		TS      time.Time       `json:"ts"`
		Spot    int64           `json:"spot"`
		State   json.RawMessage `json:"market_state"`
	}
	if err := json.Unmarshal(payload, &partial); err != nil || len(partial.State) == 0 {
		return nil, false
	}
	data, err := json.Marshal(MarketStateView{
		CycleID: partial.CycleID,
		TS:      partial.TS,
		Spot:    partial.Spot,
		State:   partial.State,
	})
	if err != nil {
		return nil, false
	}
	return data, true
}
