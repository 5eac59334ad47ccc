package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"

	"breakout-scanner/config"
	"breakout-scanner/internal/gateway"
	"breakout-scanner/internal/logger"
	"breakout-scanner/internal/session"
	redisstore "breakout-scanner/internal/store/redis"
	sqlitestore "breakout-scanner/internal/store/sqlite"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.Init("api_gateway", slog.LevelInfo)
	}
	log.Println("[api_gateway] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[api_gateway] config: %v", err)
	}
	spec, err := cfg.Index.Spec()
	if err != nil {
		log.Fatalf("[api_gateway] index config: %v", err)
	}

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err != nil {
		log.Fatalf("[api_gateway] redis: %v", err)
	}
	defer reader.Close()

	// Separate writer connection for config persist + publish.
	writer, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err != nil {
		log.Fatalf("[api_gateway] redis writer: %v", err)
	}
	defer writer.Close()

	// The signal log is optional: the gateway still serves live data when
	// the scanner's SQLite file is absent (fresh deploy, separate host).
	var signalLog *sqlitestore.Reader
	if sl, err := sqlitestore.NewReader(cfg.Store.SQLitePath); err != nil {
		log.Printf("[api_gateway] WARNING: signal log unavailable: %v", err)
	} else {
		signalLog = sl
		defer sl.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := gateway.NewHub(reader, gateway.NewConfigStore(writer))
	go hub.Run(ctx)
	go hub.StartStatsBroadcast(ctx, processStart)

	api := gateway.NewAPI(hub, reader, signalLog, session.NewGate(spec.ExpiryWeekday))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Gateway.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	srv := &http.Server{
		Addr:    cfg.Gateway.Addr,
		Handler: c.Handler(api.Routes()),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[api_gateway] ✅ serving at http://localhost%s", cfg.Gateway.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	log.Println("[api_gateway] ╔════════════════════════════════════════════════════╗")
	log.Println("[api_gateway] ║  Breakout Gateway: REST + WS over Redis/SQLite     ║")
	log.Printf("[api_gateway] ║  Index: %-10s  expiry: %-9s               ║", cfg.Index.Name, spec.ExpiryWeekday)
	log.Println("[api_gateway] ║  WS channels: analysis, signals, market_state,     ║")
	log.Println("[api_gateway] ║               config                               ║")
	log.Println("[api_gateway] ╚════════════════════════════════════════════════════╝")

	<-sigCh
	log.Println("[api_gateway] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Println("[api_gateway] shutdown complete.")
}
