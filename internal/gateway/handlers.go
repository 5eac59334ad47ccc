package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"breakout-scanner/internal/model"
	"breakout-scanner/internal/session"
	redisstore "breakout-scanner/internal/store/redis"
	sqlitestore "breakout-scanner/internal/store/sqlite"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// How deep to read the signal stream before filtering.
const signalFetchDepth = 200

// API serves the REST surface over the Redis and SQLite stores.
type API struct {
	hub       *Hub
	redis     *redisstore.Reader
	signalLog *sqlitestore.Reader
	gate      session.Gate
	start     time.Time
}

// NewAPI wires the REST layer. signalLog may be nil when no SQLite path
// is configured; the log endpoint then reports unavailable.
func NewAPI(hub *Hub, redis *redisstore.Reader, signalLog *sqlitestore.Reader, gate session.Gate) *API {
	return &API{
		hub:       hub,
		redis:     redis,
		signalLog: signalLog,
		gate:      gate,
		start:     time.Now(),
	}
}

// Routes builds the router. CORS is applied by the caller around the
// returned handler.
func (a *API) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", a.handleWS)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analysis/latest", a.handleLatestAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/signals", a.handleSignals).Methods(http.MethodGet)
	api.HandleFunc("/signals/pattern/{name}", a.handleSignalsByPattern).Methods(http.MethodGet)
	api.HandleFunc("/signals/log", a.handleSignalLog).Methods(http.MethodGet)
	api.HandleFunc("/alerts", a.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/market/state", a.handleMarketState).Methods(http.MethodGet)
	api.HandleFunc("/session", a.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/config/breakout", a.handleConfig).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/replay/{channel}", a.handleReplay).Methods(http.MethodGet)
	api.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	return r
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	a.hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
}

func (a *API) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	res, err := a.redis.LatestAnalysis(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	if res == nil {
		respondJSON(w, http.StatusNotFound, APIError{Error: "no analysis available yet"})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 200)
	direction := strings.ToUpper(r.URL.Query().Get("direction"))
	priority := strings.ToUpper(r.URL.Query().Get("priority"))

	fetchN := int64(limit)
	if direction != "" || priority != "" {
		fetchN = signalFetchDepth
	}
	sigs, err := a.redis.RecentSignals(r.Context(), fetchN)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}

	filtered := filterSignals(sigs, direction, priority, "")
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	respondJSON(w, http.StatusOK, SignalsResponse{
		Signals: filtered,
		Count:   len(filtered),
		TS:      time.Now().UTC(),
	})
}

func (a *API) handleSignalsByPattern(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	limit := parseLimit(r, 20, 100)

	sigs, err := a.redis.RecentSignals(r.Context(), signalFetchDepth)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}

	filtered := filterSignals(sigs, "", "", name)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	respondJSON(w, http.StatusOK, PatternResponse{
		Pattern: name,
		Signals: filtered,
		Count:   len(filtered),
	})
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 100)

	sigs, err := a.redis.RecentSignals(r.Context(), signalFetchDepth)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}

	filtered := filterSignals(sigs, "", string(model.PriorityHigh), "")
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	respondJSON(w, http.StatusOK, SignalsResponse{
		Signals: filtered,
		Count:   len(filtered),
		TS:      time.Now().UTC(),
	})
}

func (a *API) handleSignalLog(w http.ResponseWriter, r *http.Request) {
	if a.signalLog == nil {
		respondJSON(w, http.StatusServiceUnavailable, APIError{Error: "signal log not configured"})
		return
	}

	limit := parseLimit(r, 100, 500)
	pattern := r.URL.Query().Get("pattern")
	before := parseBefore(r.URL.Query().Get("before"))

	rows, err := a.signalLog.ReadSignalLog(limit, before, pattern)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, SignalLogResponse{Rows: rows, Count: len(rows)})
}

func (a *API) handleMarketState(w http.ResponseWriter, r *http.Request) {
	res, err := a.redis.LatestAnalysis(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	if res == nil {
		respondJSON(w, http.StatusNotFound, APIError{Error: "no analysis available yet"})
		return
	}

	state, err := json.Marshal(res.State)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, MarketStateView{
		CycleID: res.CycleID,
		TS:      res.TS,
		Spot:    res.Spot,
		State:   state,
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	respondJSON(w, http.StatusOK, SessionResponse{
		TS:         now.UTC(),
		IST:        now.In(session.IST).Format("2006-01-02 15:04:05"),
		MarketOpen: session.IsMarketOpen(now),
		Status:     session.StatusString(now),
		Gate:       a.gate.Flags(now),
	})
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var overrides map[string]float64
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&overrides); err != nil {
			respondJSON(w, http.StatusBadRequest, APIError{Error: "invalid JSON: " + err.Error()})
			return
		}
		if len(overrides) == 0 {
			respondJSON(w, http.StatusBadRequest, APIError{Error: "no thresholds provided"})
			return
		}
		full, err := a.hub.Config.Update(r.Context(), overrides)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, APIError{Error: err.Error()})
			return
		}
		log.Printf("[gateway] config updated: %d thresholds changed", len(overrides))
		respondJSON(w, http.StatusOK, ConfigView{TS: time.Now().UTC(), Thresholds: full})
		return
	}

	respondJSON(w, http.StatusOK, ConfigView{
		TS:         time.Now().UTC(),
		Thresholds: a.hub.Config.Current(),
	})
}

func (a *API) handleReplay(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if !KnownChannel(channel) {
		respondJSON(w, http.StatusNotFound, APIError{Error: "unknown channel: " + channel})
		return
	}

	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil || from < 1 {
		respondJSON(w, http.StatusBadRequest, APIError{Error: "from must be a positive sequence number"})
		return
	}
	current := a.hub.GetChannelSeq(channel)
	to := current
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		if v, err := strconv.ParseInt(toStr, 10, 64); err == nil && v >= from {
			to = v
		}
	}

	raw := a.hub.GetReplayRange(channel, from, to)
	envelopes := make([]json.RawMessage, len(raw))
	for i, e := range raw {
		envelopes[i] = e
	}
	oldest, _, _ := a.hub.GetReplayBounds(channel)
	respondJSON(w, http.StatusOK, ReplayResponse{
		Channel:         channel,
		From:            from,
		To:              to,
		CurrentSeq:      current,
		OldestAvailable: oldest,
		Envelopes:       envelopes,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	m := CollectMetrics(a.start)
	if a.redis != nil {
		if v, ok := a.redis.ScanLatency(r.Context()); ok {
			m.ScanComputeMs = v
		}
	}
	if a.hub != nil && a.hub.Latency != nil {
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = a.hub.Latency.Percentiles()
		m.LatencyMaxMs = a.hub.Latency.Max()
	}

	respondJSON(w, http.StatusOK, struct {
		Stats     SystemMetrics `json:"stats"`
		WSClients int           `json:"ws_clients"`
	}{
		Stats:     m,
		WSClients: a.hub.ClientCount(),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisOK := a.redis != nil && a.redis.Client().Ping(r.Context()).Err() == nil
	sqliteOK := a.signalLog != nil && a.signalLog.DB().PingContext(r.Context()) == nil

	status := "ok"
	if !redisOK || !sqliteOK {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Redis:     redisOK,
		SQLite:    sqliteOK,
		WSClients: a.hub.ClientCount(),
		UptimeSec: int64(time.Since(a.start).Seconds()),
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// filterSignals keeps signals matching the given direction, priority and
// pattern; empty filters match everything.
func filterSignals(sigs []model.BreakoutSignal, direction, priority, pattern string) []model.BreakoutSignal {
	out := make([]model.BreakoutSignal, 0, len(sigs))
	for _, s := range sigs {
		if direction != "" && string(s.Direction) != direction {
			continue
		}
		if priority != "" && string(s.Priority) != priority {
			continue
		}
		if pattern != "" && s.Pattern != pattern {
			continue
		}
		out = append(out, s)
	}
	return out
}

// parseLimit reads ?limit= bounded by [1, max], with a default.
func parseLimit(r *http.Request, def, max int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// parseBefore accepts either a unix-seconds integer or an RFC3339
// timestamp. 0 means no bound.
func parseBefore(s string) int64 {
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	return 0
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
