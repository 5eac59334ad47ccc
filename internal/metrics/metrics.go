package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the breakout scanner.
type Metrics struct {
	SnapshotsTotal  prometheus.Counter
	CyclesTotal     prometheus.Counter
	FetchErrors     prometheus.Counter
	FetchDur        prometheus.Histogram
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	SnapshotAge     prometheus.Gauge

	// Analysis cycle metrics
	SignalsTotal    *prometheus.CounterVec // labels: pattern, direction
	DetectorFires   *prometheus.CounterVec // labels: detector (pre-aggregation)
	DetectorPanics  *prometheus.CounterVec // labels: detector
	CycleComputeDur prometheus.Histogram
	HistoryLen      prometheus.Gauge

	// Backpressure metrics
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Staleness metrics
	StaleSnapshotsDropped prometheus.Counter

	// Circuit breaker metrics
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Market session state
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close|login|renew

	// Alerting metrics
	AlertsSent *prometheus.CounterVec // labels: channel
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigscan_snapshots_total",
			Help: "Total option-chain snapshots ingested",
		}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigscan_cycles_total",
			Help: "Total analysis cycles completed",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigscan_fetch_errors_total",
			Help: "Chain fetch attempts that failed",
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigscan_fetch_duration_seconds",
			Help:    "Chain fetch latency (quote batches assembled into one snapshot)",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigscan_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigscan_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigscan_snapshot_age_seconds",
			Help: "Age of the most recent snapshot vs wall clock",
		}),

		// Cycle metrics
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigscan_signals_total",
			Help: "Total surfaced signals (by pattern and direction)",
		}, []string{"pattern", "direction"}),
		DetectorFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigscan_detector_fires_total",
			Help: "Raw detector fires before confidence filtering",
		}, []string{"detector"}),
		DetectorPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigscan_detector_panics_total",
			Help: "Detector evaluations recovered from panic",
		}, []string{"detector"}),
		CycleComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigscan_cycle_compute_duration_seconds",
			Help:    "Analysis latency per cycle (indicators + detectors + aggregation)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		HistoryLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigscan_history_len",
			Help: "Snapshots currently held in the rolling window",
		}),

		// Backpressure
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigscan_fanout_drops_total",
			Help: "Analysis results dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigscan_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		// Staleness
		StaleSnapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigscan_stale_snapshots_dropped_total",
			Help: "Snapshots rejected because they arrived too old to analyse",
		}),

		// Circuit breaker
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigscan_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigscan_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigscan_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		// Market session
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigscan_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigscan_session_transitions_total",
			Help: "Market session transitions (open, close, login, renew)",
		}, []string{"type"}),

		// Alerting
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigscan_alerts_sent_total",
			Help: "Signal alerts dispatched per notification channel",
		}, []string{"channel"}),
	}

	prometheus.MustRegister(
		m.SnapshotsTotal,
		m.CyclesTotal,
		m.FetchErrors,
		m.FetchDur,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.SnapshotAge,
		m.SignalsTotal,
		m.DetectorFires,
		m.DetectorPanics,
		m.CycleComputeDur,
		m.HistoryLen,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.StaleSnapshotsDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
		m.SessionTransitions,
		m.AlertsSent,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	SessionActive    bool      `json:"session_active"`
	LastSnapshotTime time.Time `json:"last_snapshot_time"`
	RedisConnected   bool      `json:"redis_connected"`
	SQLiteOK         bool      `json:"sqlite_ok"`
	FetchOK          bool      `json:"fetch_ok"`
	EngineOK         bool      `json:"engine_ok"`
	Patterns         []string  `json:"patterns"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSessionActive(v bool) {
	h.mu.Lock()
	h.SessionActive = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSnapshotTime(t time.Time) {
	h.mu.Lock()
	h.LastSnapshotTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetFetchOK(v bool) {
	h.mu.Lock()
	h.FetchOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.EngineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPatterns(names []string) {
	h.mu.Lock()
	h.Patterns = names
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FetchOK || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Snapshot age
	snapAge := ""
	if !h.LastSnapshotTime.IsZero() {
		snapAge = time.Since(h.LastSnapshotTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string   `json:"status"`
		Uptime           string   `json:"uptime"`
		SessionActive    bool     `json:"session_active"`
		LastSnapshotTime string   `json:"last_snapshot_time"`
		SnapshotAge      string   `json:"snapshot_age"`
		RedisConnected   bool     `json:"redis_connected"`
		RedisLatencyMs   float64  `json:"redis_latency_ms"`
		SQLiteOK         bool     `json:"sqlite_ok"`
		SQLiteLatencyMs  float64  `json:"sqlite_latency_ms"`
		FetchOK          bool     `json:"fetch_ok"`
		EngineOK         bool     `json:"engine_ok"`
		Patterns         []string `json:"patterns"`
		LastCheckAt      string   `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		SessionActive:    h.SessionActive,
		LastSnapshotTime: h.LastSnapshotTime.Format(time.RFC3339),
		SnapshotAge:      snapAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		FetchOK:          h.FetchOK,
		EngineOK:         h.EngineOK,
		Patterns:         h.Patterns,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
