package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unsafe"

	"breakout-scanner/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Key layout. The scanner runs one underlying per deployment, so keys are
// fixed names rather than token-scoped.
const (
	keyAnalysisLatest = "analysis:latest"
	streamAnalysis    = "analysis:stream"
	streamSignals     = "signal:stream"
	streamSnapshots   = "chain:snapshots"
	keyActiveConfig   = "config:breakout:active"
	keyScanLatency    = "metrics:scanner:cycle_compute_ms"
)

// Pub/Sub channel names, shared with the gateway and the scanner's
// config hot-reload subscriber.
const (
	ChannelAnalysis = "pub:analysis"
	ChannelSignals  = "pub:signals"
	ChannelConfig   = "config:breakout"
)

const (
	// Stream trimming: analysis cycles land every few minutes, so these
	// lengths cover roughly two weeks of sessions.
	analysisStreamMaxLen = 2000
	signalStreamMaxLen   = 5000

	// The snapshot stream only needs enough depth to refill the rolling
	// window after a restart.
	snapshotStreamMaxLen = 500

	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes analysis results, surfaced signals, and chain snapshots
// to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// writeAnalysis performs the pipelined writes for one analysis cycle:
// SET latest + XADD to the analysis stream + PUBLISH, then one XADD +
// PUBLISH per surfaced signal.
func (w *Writer) writeAnalysis(ctx context.Context, res model.AnalysisResult) error {
	jsonBytes := res.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()

	pipe.Set(ctx, keyAnalysisLatest, jsonData, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamAnalysis,
		MaxLen: analysisStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, ChannelAnalysis, jsonData)

	for i := range res.Signals {
		sigData := string(res.Signals[i].JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamSignals,
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": sigData},
		})
		pipe.Publish(ctx, ChannelSignals, sigData)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] analysis pipeline error for cycle %s: %v", res.CycleID, err)
	}
	return err
}

// WriteChainSnapshot appends one fetched snapshot to the replay stream so
// a restarted scanner can refill its rolling window.
func (w *Writer) WriteChainSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	return w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamSnapshots,
		MaxLen: snapshotStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(snap.JSON())},
	}).Err()
}

// SaveConfig persists the active breakout config values so restarts keep
// the applied overrides. No TTL: config survives until replaced.
func (w *Writer) SaveConfig(ctx context.Context, values map[string]float64) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return w.client.Set(ctx, keyActiveConfig, string(data), 0).Err()
}

// PublishConfig broadcasts a config change to live subscribers (scanner
// hot-reload and gateway websocket clients).
func (w *Writer) PublishConfig(ctx context.Context, payload []byte) error {
	return w.client.Publish(ctx, ChannelConfig, string(payload)).Err()
}

// WriteCycleLatency records the last cycle's compute time so the gateway
// can surface it on its stats endpoint.
func (w *Writer) WriteCycleLatency(ctx context.Context, ms float64) error {
	return w.client.Set(ctx, keyScanLatency, ms, 5*time.Minute).Err()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
