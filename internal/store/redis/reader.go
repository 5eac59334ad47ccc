package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"breakout-scanner/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader serves the query side of the Redis store: warm-start snapshot
// replay for the scanner, latest-analysis and signal lookups for the
// gateway, and persisted config plus Pub/Sub subscriptions for both.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// ReplayRecentSnapshots loads up to n of the most recent chain snapshots
// from the replay stream, oldest first, so the caller can append them to
// the rolling window in arrival order.
func (r *Reader) ReplayRecentSnapshots(ctx context.Context, n int64) ([]model.MarketSnapshot, error) {
	msgs, err := r.client.XRevRangeN(ctx, streamSnapshots, "+", "-", n).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xrevrange %s: %w", streamSnapshots, err)
	}

	// XREVRANGE returns newest first; reverse while decoding.
	out := make([]model.MarketSnapshot, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var snap model.MarketSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			log.Printf("[redis-reader] unmarshal snapshot error: %v", err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// LatestAnalysis returns the most recent analysis result, or nil when
// none has been written yet (or the latest key expired).
func (r *Reader) LatestAnalysis(ctx context.Context) (*model.AnalysisResult, error) {
	data, err := r.client.Get(ctx, keyAnalysisLatest).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", keyAnalysisLatest, err)
	}

	var res model.AnalysisResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &res, nil
}

// RecentSignals reads up to n of the latest surfaced signals from the
// signal stream, newest first.
func (r *Reader) RecentSignals(ctx context.Context, n int64) ([]model.BreakoutSignal, error) {
	msgs, err := r.client.XRevRangeN(ctx, streamSignals, "+", "-", n).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xrevrange %s: %w", streamSignals, err)
	}

	out := make([]model.BreakoutSignal, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var sig model.BreakoutSignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// RecentAnalyses reads up to n of the latest analysis results from the
// analysis stream, newest first.
func (r *Reader) RecentAnalyses(ctx context.Context, n int64) ([]model.AnalysisResult, error) {
	msgs, err := r.client.XRevRangeN(ctx, streamAnalysis, "+", "-", n).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xrevrange %s: %w", streamAnalysis, err)
	}

	out := make([]model.AnalysisResult, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var res model.AnalysisResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// ScanLatency reads the scanner's last published cycle compute time in
// milliseconds. The second return is false when none has been written.
func (r *Reader) ScanLatency(ctx context.Context) (float64, bool) {
	val, err := r.client.Get(ctx, keyScanLatency).Float64()
	if err != nil {
		return 0, false
	}
	return val, true
}

// LoadConfig reads the persisted breakout config overrides. Returns nil
// when none were saved.
func (r *Reader) LoadConfig(ctx context.Context) (map[string]float64, error) {
	data, err := r.client.Get(ctx, keyActiveConfig).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", keyActiveConfig, err)
	}

	var values map[string]float64
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return values, nil
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel.
// Returns the PubSub handle so the caller can listen on .Channel().
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Redis Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
