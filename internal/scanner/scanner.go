// Package scanner hosts the scan service: one fetch + analyze cycle per
// cadence during market hours, fanned out to the Redis and SQLite
// writers and the alerter, with snapshot warm start, config hot-reload,
// and a feed staleness watchdog.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/pquerna/otp/totp"

	"breakout-scanner/config"
	"breakout-scanner/internal/bus"
	"breakout-scanner/internal/detector"
	"breakout-scanner/internal/engine"
	"breakout-scanner/internal/fetch"
	"breakout-scanner/internal/metrics"
	"breakout-scanner/internal/model"
	"breakout-scanner/internal/notification"
	"breakout-scanner/internal/session"
	redisstore "breakout-scanner/internal/store/redis"
	sqlitestore "breakout-scanner/internal/store/sqlite"
	"breakout-scanner/pkg/smartapi"
)

const (
	loginRetryDelay = 30 * time.Second

	// Snapshots older than this many cadences are dropped, not analyzed:
	// a delayed feed timestamp would poison interval-based detectors.
	staleDropFactor = 2

	// SQLite cycle rows older than this are pruned daily.
	sqliteRetention = 30 * 24 * time.Hour
)

// Service wires the scan pipeline together and owns the market-hours
// loop. Build it with New, then call Run; Run blocks until ctx ends.
type Service struct {
	cfg      *config.Config
	spec     model.IndexSpec
	interval time.Duration

	eng      *engine.Engine
	cfgStore *detector.ConfigStore
	fan      *bus.FanOut
	resultCh chan model.AnalysisResult

	rdb     *redisstore.Writer
	breaker *redisstore.CircuitBreaker
	bw      *redisstore.BufferedWriter // built in Run: it needs the run ctx
	reader  *redisstore.Reader
	sqw     *sqlitestore.Writer

	alerter *notification.Alerter
	watch   *Watchdog

	prom   *metrics.Metrics
	health *metrics.HealthStatus

	client         *smartapi.Client // nil in staging mode
	fetcher        fetch.Fetcher
	sessionExpired atomic.Bool
}

// New builds the service: stores, engine, alerter, and the quote source
// (Angel One live, or the chainsim endpoint in staging mode).
func New(cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus) (*Service, error) {
	spec, err := cfg.Index.Spec()
	if err != nil {
		return nil, err
	}

	rdb, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis writer: %w", err)
	}
	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis reader: %w", err)
	}
	sqw, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Store.SQLitePath})
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	health.SetRedisConnected(true)
	health.SetSQLiteOK(true)

	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID))
	}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Alerts.WebhookURL))
	}
	alerter := notification.NewAlerter(cfg.Alerts.Priority(), cfg.Alerts.Cooldown(), notifiers...)

	cfgStore := detector.NewConfigStore(detector.DefaultConfig())

	s := &Service{
		cfg:      cfg,
		spec:     spec,
		interval: cfg.Scan.Interval(),
		eng:      engine.New(spec, cfg.Scan.HistoryCapacity, cfgStore),
		cfgStore: cfgStore,
		fan:      bus.New(64),
		resultCh: make(chan model.AnalysisResult, 8),
		rdb:      rdb,
		breaker:  redisstore.NewCircuitBreaker(5, 30*time.Second),
		reader:   reader,
		sqw:      sqw,
		alerter:  alerter,
		prom:     prom,
		health:   health,
	}
	s.watch = NewWatchdog(s.interval, cfg.Scan.StaleFactor, health, alerter)

	if cfg.Scan.Staging {
		s.fetcher = fetch.NewChainsimFetcher(cfg.Scan.ChainsimURL)
	} else {
		s.client = smartapi.New(smartapi.Config{APIKey: cfg.Angel.APIKey})
		s.client.SessionExpiryHook = func() {
			log.Println("[scanner] API reported session expiry, scheduling re-login")
			s.sessionExpired.Store(true)
		}
		scrips := fetch.NewScripSource(cfg.Scan.ScripMasterURL, cfg.Scan.DataDir, cfg.Index.Name)
		s.fetcher = fetch.NewLiveFetcher(s.client, scrips, spec, cfg.Scan.QuotesPerSec)
	}
	return s, nil
}

// Run starts the sinks and the poll loop. Blocks until ctx is done.
func (s *Service) Run(ctx context.Context) {
	// Breaker state hook goes on before the buffered writer wraps it, so
	// the writer's flush-on-close chains rather than replaces it.
	s.breaker.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[scanner] redis circuit breaker %s -> %s", from, to)
		s.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			s.prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	s.bw = redisstore.NewBufferedWriter(ctx, s.rdb, s.breaker, 0)
	s.bw.OnBuffer = func() { s.prom.RedisBufferedWrites.Inc() }
	s.wireHooks()

	s.restoreConfig(ctx)
	s.warmStart(ctx)

	go s.fan.Run(ctx, s.resultCh)
	go s.runRedisSink(ctx, s.fan.Subscribe("redis"))
	go s.sqw.Run(ctx, s.fan.Subscribe("sqlite"))
	go s.alerter.Run(ctx, s.fan.Subscribe("alerts"))
	go s.runConfigReload(ctx)
	go s.runSaturation(ctx)
	go s.runPrune(ctx)
	go s.watch.Run(ctx)

	s.health.SetEngineOK(true)
	s.health.SetPatterns(s.eng.Runner().Detectors())
	s.health.StartLivenessChecker(ctx, s.rdb.Client(), s.sqw.DB(), 10*time.Second)

	if s.cfg.Scan.Staging {
		s.runStaging(ctx)
		return
	}
	s.runLive(ctx)
}

// Close releases the stores. Call after Run returns.
func (s *Service) Close() {
	if s.sqw != nil {
		s.sqw.Close()
	}
	if s.reader != nil {
		s.reader.Close()
	}
	if s.rdb != nil {
		s.rdb.Close()
	}
}

func (s *Service) wireHooks() {
	s.fan.OnDrop = func(name string) {
		s.prom.FanoutDropsTotal.WithLabelValues(name).Inc()
		log.Printf("[scanner] %s sink full, dropping a cycle", name)
	}
	runner := s.eng.Runner()
	runner.OnFire = func(name string) {
		s.prom.DetectorFires.WithLabelValues(name).Inc()
	}
	runner.OnPanic = func(name string) {
		s.prom.DetectorPanics.WithLabelValues(name).Inc()
	}
	s.sqw.OnCommit = func(results int, d time.Duration) {
		s.prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	s.alerter.OnSend = func(channel string) {
		s.prom.AlertsSent.WithLabelValues(channel).Inc()
	}
}

// restoreConfig reapplies threshold overrides persisted by the config
// API, so a scanner restart keeps tuned values.
func (s *Service) restoreConfig(ctx context.Context) {
	values, err := s.reader.LoadConfig(ctx)
	if err != nil {
		log.Printf("[scanner] config restore skipped: %v", err)
		return
	}
	if len(values) == 0 {
		return
	}
	if _, err := s.cfgStore.Apply(values); err != nil {
		log.Printf("[scanner] persisted config rejected: %v", err)
		return
	}
	log.Printf("[scanner] restored %d config overrides from redis", len(values))
}

// warmStart refills the history window from the snapshot replay stream
// so window-based indicators are available right after a restart.
func (s *Service) warmStart(ctx context.Context) {
	points, err := s.reader.ReplayRecentSnapshots(ctx, int64(s.cfg.Scan.ReplayDepth))
	if err != nil {
		log.Printf("[scanner] warm start skipped: %v", err)
		return
	}
	if len(points) == 0 {
		log.Println("[scanner] no snapshots to replay, starting with empty history")
		return
	}
	s.eng.Warm(points)
	s.prom.HistoryLen.Set(float64(s.eng.HistoryLen()))
	log.Printf("[scanner] warm start: %d snapshots replayed, history %d/%d",
		len(points), s.eng.HistoryLen(), s.cfg.Scan.HistoryCapacity)
}

// runStaging polls the chainsim continuously; no session management.
func (s *Service) runStaging(ctx context.Context) {
	log.Printf("[scanner] staging loop: polling %s every %v", s.cfg.Scan.ChainsimURL, s.interval)
	s.prom.MarketState.Set(1)
	s.health.SetSessionActive(true)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// runLive gates polling on exchange hours: sleep to the pre-open, log
// in fresh (new TOTP each session), poll until close, log out, repeat.
func (s *Service) runLive(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		now := time.Now()
		if !session.IsMarketOpen(now) {
			if next := session.NextPreOpen(now); next.After(now) {
				log.Printf("[scanner] ⏸ %s", session.StatusString(now))
				log.Printf("[scanner] sleeping %v until pre-open %s",
					time.Until(next).Truncate(time.Second), next.In(session.IST).Format("Mon 15:04"))
				s.prom.MarketState.Set(0)
				s.health.SetSessionActive(false)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Until(next)):
				}
				continue
			}
			// Inside the pre-open window: fall through to login.
		}

		if err := s.loginWithRetry(ctx); err != nil {
			// ctx cancelled, or the close passed while retrying.
			continue
		}
		s.pollSession(ctx)
	}
}

// loginWithRetry keeps attempting a fresh session until it succeeds, the
// market closes, or ctx ends.
func (s *Service) loginWithRetry(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		if now.After(session.TodayClose(now)) {
			return fmt.Errorf("market closed before login succeeded")
		}
		log.Println("[scanner] 🔑 generating fresh session...")
		err := s.login()
		if err == nil {
			return nil
		}
		log.Printf("[scanner] login failed: %v, retrying in %v", err, loginRetryDelay)
		s.alerter.System(ctx, notification.AlertWarning, "scanner login failed", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loginRetryDelay):
		}
	}
}

// login performs one TOTP + GenerateSession attempt.
func (s *Service) login() error {
	code, err := totp.GenerateCode(s.cfg.Angel.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("totp generation: %w", err)
	}
	sess, err := s.client.GenerateSession(s.cfg.Angel.ClientCode, s.cfg.Angel.Password, code)
	if err != nil {
		return err
	}
	s.sessionExpired.Store(false)
	s.prom.SessionTransitions.WithLabelValues("login").Inc()
	log.Printf("[scanner] ✅ session ready for %s (%s)", sess.ClientCode, sess.Name)
	return nil
}

// refreshSession restores an expired session, trying a token renewal
// first: that spends only the held refresh token, while a fresh login
// burns a TOTP code and a password round trip.
func (s *Service) refreshSession() error {
	if err := s.client.RenewTokens(); err != nil {
		log.Printf("[scanner] token renewal failed: %v, falling back to fresh login", err)
		return s.login()
	}
	s.sessionExpired.Store(false)
	s.prom.SessionTransitions.WithLabelValues("renew").Inc()
	log.Println("[scanner] 🔄 session tokens renewed")
	return nil
}

// pollSession runs the cadence loop until today's close.
func (s *Service) pollSession(ctx context.Context) {
	closeTime := session.TodayClose(time.Now())
	s.prom.MarketState.Set(1)
	s.prom.SessionTransitions.WithLabelValues("open").Inc()
	s.health.SetSessionActive(true)
	log.Printf("[scanner] 📡 polling every %v until %s", s.interval, closeTime.In(session.IST).Format("15:04:05"))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Mid-session restarts get a cycle immediately; a pre-open login
	// waits for the first in-hours tick.
	if session.IsMarketOpen(time.Now()) {
		s.cycle(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logout()
			return
		case <-ticker.C:
			now := time.Now()
			if now.After(closeTime) {
				s.endSession()
				return
			}
			if !session.IsMarketOpen(now) {
				continue
			}
			if s.sessionExpired.Load() {
				if err := s.refreshSession(); err != nil {
					log.Printf("[scanner] session restore failed: %v, next attempt on the following tick", err)
					continue
				}
			}
			s.cycle(ctx)
		}
	}
}

func (s *Service) endSession() {
	s.logout()
	s.prom.MarketState.Set(0)
	s.prom.SessionTransitions.WithLabelValues("close").Inc()
	s.health.SetSessionActive(false)
	log.Println("[scanner] 🔌 market close, session terminated")
}

func (s *Service) logout() {
	if s.client == nil {
		return
	}
	if err := s.client.TerminateSession(); err != nil {
		log.Printf("[scanner] logout failed: %v", err)
	}
}

// cycle runs one fetch + analyze pass and hands the result to the fanout.
func (s *Service) cycle(ctx context.Context) {
	fetchStart := time.Now()
	snap, err := s.fetcher.Fetch(ctx)
	s.prom.FetchDur.Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.prom.FetchErrors.Inc()
		s.health.SetFetchOK(false)
		log.Printf("[scanner] fetch failed: %v", err)
		return
	}

	age := time.Since(snap.TS)
	if age > staleDropFactor*s.interval {
		s.prom.StaleSnapshotsDropped.Inc()
		log.Printf("[scanner] dropping stale snapshot: feed time %s is %v old",
			snap.TS.In(session.IST).Format("15:04:05"), age.Truncate(time.Second))
		return
	}

	s.prom.SnapshotsTotal.Inc()
	s.prom.SnapshotAge.Set(age.Seconds())
	s.health.SetFetchOK(true)
	s.health.SetLastSnapshotTime(snap.TS)
	s.watch.Beat(snap.TS)

	computeStart := time.Now()
	res := s.eng.Analyze(*snap)
	computeDur := time.Since(computeStart)

	s.prom.CyclesTotal.Inc()
	s.prom.CycleComputeDur.Observe(computeDur.Seconds())
	s.prom.HistoryLen.Set(float64(s.eng.HistoryLen()))
	for i := range res.Signals {
		sig := &res.Signals[i]
		s.prom.SignalsTotal.WithLabelValues(sig.Pattern, string(sig.Direction)).Inc()
	}

	select {
	case s.resultCh <- res:
	default:
		log.Printf("[scanner] result channel full, dropping cycle %s", res.CycleID)
	}

	if err := s.bw.WriteSnapshot(snap); err != nil {
		log.Printf("[scanner] snapshot write: %v", err)
	}
	ms := float64(computeDur.Microseconds()) / 1000.0
	if err := s.rdb.WriteCycleLatency(ctx, ms); err != nil && s.breaker.CurrentState() == redisstore.StateClosed {
		log.Printf("[scanner] latency publish: %v", err)
	}

	log.Printf("[scanner] cycle %s: spot %.2f, %d signals, bias %s, compute %v",
		res.CycleID[:8], model.Rupees(res.Spot), len(res.Signals), res.Summary.Bias,
		computeDur.Truncate(time.Microsecond))
}

// runRedisSink drains the redis fanout channel through the buffered
// writer, so breaker trips buffer cycles instead of losing them.
func (s *Service) runRedisSink(ctx context.Context, ch <-chan model.AnalysisResult) {
	for res := range ch {
		start := time.Now()
		if err := s.bw.WriteAnalysis(res); err != nil {
			log.Printf("[scanner] redis write: %v", err)
			continue
		}
		s.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
}

// runConfigReload applies threshold updates published on the config
// channel (from the gateway API or redis-cli).
func (s *Service) runConfigReload(ctx context.Context) {
	pubsub := s.reader.SubscribeChannel(ctx, redisstore.ChannelConfig)
	if pubsub == nil {
		log.Println("[scanner] config hot-reload disabled: subscribe failed")
		return
	}
	defer pubsub.Close()
	log.Printf("[scanner] config hot-reload subscribed on %s", redisstore.ChannelConfig)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var values map[string]float64
			if err := json.Unmarshal([]byte(msg.Payload), &values); err != nil {
				log.Printf("[scanner] config message rejected: %v", err)
				continue
			}
			next, err := s.cfgStore.Apply(values)
			if err != nil {
				log.Printf("[scanner] config update rejected: %v", err)
				continue
			}
			log.Printf("[scanner] config updated: %d values applied, minConfidence=%.2f",
				len(values), next.MinConfidence)
		}
	}
}

// runSaturation samples sink channel fill levels every few seconds.
func (s *Service) runSaturation(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range s.fan.ChannelStats() {
				if st.Cap > 0 {
					pct := float64(st.Len) / float64(st.Cap) * 100
					s.prom.ChannelSaturationPct.WithLabelValues(st.Name).Set(pct)
				}
			}
			pct := float64(len(s.resultCh)) / float64(cap(s.resultCh)) * 100
			s.prom.ChannelSaturationPct.WithLabelValues("input").Set(pct)
		}
	}
}

// runPrune trims SQLite cycle history once a day.
func (s *Service) runPrune(ctx context.Context) {
	prune := func() {
		n, err := s.sqw.PruneOldCycles(sqliteRetention)
		if err != nil {
			log.Printf("[scanner] sqlite prune failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[scanner] pruned %d cycle rows older than %v", n, sqliteRetention)
		}
	}
	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
