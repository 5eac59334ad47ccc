package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"breakout-scanner/config"
	"breakout-scanner/internal/logger"
	"breakout-scanner/internal/metrics"
	"breakout-scanner/internal/scanner"
	"breakout-scanner/internal/session"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.Init("scanner", slog.LevelInfo)
	}
	log.Println("[scanner] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[scanner] config: %v", err)
	}
	if cfg.Scan.Staging {
		log.Printf("[scanner] *** STAGING MODE: polling chainsim at %s, no Angel One credentials required ***", cfg.Scan.ChainsimURL)
	} else if err := cfg.RequireCredentials(); err != nil {
		log.Fatalf("[scanner] %v", err)
	}

	if err := os.MkdirAll(cfg.Scan.DataDir, 0o755); err != nil {
		log.Fatalf("[scanner] data dir %s: %v", cfg.Scan.DataDir, err)
	}

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Scan.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	svc, err := scanner.New(cfg, prom, health)
	if err != nil {
		log.Fatalf("[scanner] init failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	mode := "Production"
	if cfg.Scan.Staging {
		mode = "Staging"
	}
	log.Println("[scanner] ╔════════════════════════════════════════════════════════════════╗")
	log.Printf("[scanner] ║  Breakout Scanner (%-10s mode)                            ║", mode)
	log.Println("[scanner] ║                                                                ║")
	log.Println("[scanner] ║  [Chain Fetch] → [Detectors] → [Redis/SQLite] → [Alerts]       ║")
	log.Printf("[scanner] ║  Index: %-10s  cadence: %-5v  grid: ±%-2d strikes          ║",
		cfg.Index.Name, cfg.Scan.Interval(), cfg.Index.GridSteps)
	log.Println("[scanner] ║  Feed window: 9:15 AM – 3:30 PM IST, Mon–Fri                   ║")
	log.Println("[scanner] ║  Fresh login + TOTP at each market open                        ║")
	log.Println("[scanner] ╚════════════════════════════════════════════════════════════════╝")
	log.Printf("[scanner] %s", session.StatusString(time.Now()))

	<-sigCh
	log.Println("[scanner] shutdown signal received, cleaning up...")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("[scanner] run loop still busy after 5s, closing anyway")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	svc.Close()

	log.Println("[scanner] shutdown complete.")
}
