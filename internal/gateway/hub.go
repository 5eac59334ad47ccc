// Package gateway serves the scanner's output to dashboards: a REST API
// over the Redis/SQLite stores and a WebSocket hub fed by the scanner's
// Pub/Sub channels. It never runs the detection engine in-process.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"breakout-scanner/internal/session"
	redisstore "breakout-scanner/internal/store/redis"

	"github.com/gorilla/websocket"
)

// WS channel names. The scanner publishes analysis and signal payloads;
// market_state is lifted out of each analysis cycle and config carries
// threshold updates.
const (
	ChannelAnalysis    = "analysis"
	ChannelSignals     = "signals"
	ChannelMarketState = "market_state"
	ChannelConfig      = "config"
)

var validChannels = map[string]bool{
	ChannelAnalysis:    true,
	ChannelSignals:     true,
	ChannelMarketState: true,
	ChannelConfig:      true,
}

// KnownChannel reports whether name is one of the served WS channels.
func KnownChannel(name string) bool {
	return validChannels[name]
}

// Hub manages WebSocket clients and the Redis Pub/Sub fan-out. It acts
// as a compositor, delegating to focused components:
//   - PubSubRouter: Redis subscription + channel mapping
//   - Broadcaster: envelope construction + client fan-out
//   - ConfigStore: breakout threshold view + persist/publish
type Hub struct {
	redis  *redisstore.Reader
	Config *ConfigStore

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	// Scanner-publish to client-broadcast latency
	Latency *LatencyTracker

	Router      *PubSubRouter
	Broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a Hub wired to the given Redis reader. cfg may carry
// persisted threshold overrides; both are restored before the first
// client connects.
func NewHub(redis *redisstore.Reader, cfg *ConfigStore) *Hub {
	h := &Hub{
		redis:       redis,
		Config:      cfg,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)

	if cfg != nil && redis != nil {
		cfg.Load(context.Background(), redis)
	}
	return h
}

// Run starts the Pub/Sub routing loop. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.Router.Run(ctx)
}

// broadcast delegates to Broadcaster for envelope construction and fan-out.
func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded connection with the hub. lastTS
// is the client's last-seen envelope timestamp for initial-state dedup.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
// Serves the replay REST endpoint for client gap backfill.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetReplayBounds returns the oldest and newest seq still buffered for
// a channel. ok is false when nothing has been broadcast on it yet.
func (h *Hub) GetReplayBounds(channel string) (oldest, newest int64, ok bool) {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return 0, 0, false
	}
	return rb.Bounds()
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatsBroadcast pushes process stats and market status to all WS
// clients every few seconds, outside the channel envelope system.
func (h *Hub) StartStatsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m := CollectMetrics(start)
			if h.redis != nil {
				cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				if v, ok := h.redis.ScanLatency(cctx); ok {
					m.ScanComputeMs = v
				}
				cancel()
			}
			if h.Latency != nil {
				m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
				m.LatencyMaxMs = h.Latency.Max()
			}
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":          "stats",
				"stats":         m,
				"market_open":   session.IsMarketOpen(now),
				"market_status": session.StatusString(now),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
