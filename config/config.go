// Package config loads service configuration: environment variables
// provide every default, and an optional TOML file overrides them. The
// same Config feeds all three binaries; each reads the sections it needs.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"breakout-scanner/internal/model"
)

// DefaultFile is the TOML override file consulted when CONFIG_FILE is
// not set. Missing file is not an error; env defaults apply.
const DefaultFile = "config/scanner.toml"

// AngelConfig holds Angel One SmartAPI credentials. Empty in staging
// mode; RequireCredentials gates the live scanner.
type AngelConfig struct {
	APIKey     string `toml:"api_key"`
	ClientCode string `toml:"client_code"`
	Password   string `toml:"password"`
	TOTPSecret string `toml:"totp_secret"`
}

// IndexConfig selects the scanned underlying and its option grid.
type IndexConfig struct {
	Token           string `toml:"token"`
	Exchange        string `toml:"exchange"`
	Name            string `toml:"name"`
	LotSize         int    `toml:"lot_size"`
	StrikeGapRupees int64  `toml:"strike_gap_rupees"`
	GridSteps       int    `toml:"grid_steps"`
	ExpiryWeekday   string `toml:"expiry_weekday"`
}

// ScanConfig drives the scanner loop.
type ScanConfig struct {
	IntervalSecs    int     `toml:"interval_secs"`
	HistoryCapacity int     `toml:"history_capacity"`
	ReplayDepth     int     `toml:"replay_depth"`
	QuotesPerSec    float64 `toml:"quotes_per_sec"`
	StaleFactor     int     `toml:"stale_factor"` // watchdog fires after factor*interval without a snapshot
	ScripMasterURL  string  `toml:"scrip_master_url"`
	DataDir         string  `toml:"data_dir"`
	MetricsAddr     string  `toml:"metrics_addr"`
	Staging         bool    `toml:"staging"`
	ChainsimURL     string  `toml:"chainsim_url"`
}

// StoreConfig addresses the Redis and SQLite stores.
type StoreConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	SQLitePath    string `toml:"sqlite_path"`
}

// GatewayConfig configures the REST/WS gateway.
type GatewayConfig struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

// AlertConfig configures signal notifications. A backend with an empty
// token/URL is simply not wired.
type AlertConfig struct {
	TelegramBotToken string `toml:"telegram_bot_token"`
	TelegramChatID   string `toml:"telegram_chat_id"`
	WebhookURL       string `toml:"webhook_url"`
	MinPriority      string `toml:"min_priority"`
	CooldownSecs     int    `toml:"cooldown_secs"`
}

// Config is the full service configuration.
type Config struct {
	Angel   AngelConfig   `toml:"angel"`
	Index   IndexConfig   `toml:"index"`
	Scan    ScanConfig    `toml:"scan"`
	Store   StoreConfig   `toml:"store"`
	Gateway GatewayConfig `toml:"gateway"`
	Alerts  AlertConfig   `toml:"alerts"`
}

// Load builds the config from environment variables, then overlays the
// TOML file (CONFIG_FILE, default config/scanner.toml) if present. Keys
// absent from the file keep their env values.
func Load() (*Config, error) {
	cfg := &Config{
		Angel: AngelConfig{
			APIKey:     getEnv("ANGEL_API_KEY", ""),
			ClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
			Password:   getEnv("ANGEL_PASSWORD", ""),
			TOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),
		},
		Index: IndexConfig{
			Token:           getEnv("INDEX_TOKEN", "99926000"),
			Exchange:        getEnv("INDEX_EXCHANGE", "NSE"),
			Name:            getEnv("INDEX_NAME", "NIFTY"),
			LotSize:         getEnvInt("INDEX_LOT_SIZE", 75),
			StrikeGapRupees: int64(getEnvInt("STRIKE_GAP_RUPEES", 50)),
			GridSteps:       getEnvInt("GRID_STEPS", 10),
			ExpiryWeekday:   getEnv("EXPIRY_WEEKDAY", "Tuesday"),
		},
		Scan: ScanConfig{
			IntervalSecs:    getEnvInt("SCAN_INTERVAL_SECS", 30),
			HistoryCapacity: getEnvInt("HISTORY_CAPACITY", 128),
			ReplayDepth:     getEnvInt("REPLAY_DEPTH", 120),
			QuotesPerSec:    getEnvFloat("QUOTES_PER_SEC", 2),
			StaleFactor:     getEnvInt("STALE_FACTOR", 3),
			ScripMasterURL:  getEnv("SCRIP_MASTER_URL", ""),
			DataDir:         getEnv("DATA_DIR", "data"),
			MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
			Staging:         getEnvBool("STAGING_MODE", false),
			ChainsimURL:     getEnv("CHAINSIM_URL", "http://localhost:9100"),
		},
		Store: StoreConfig{
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			SQLitePath:    getEnv("SQLITE_PATH", "data/signals.db"),
		},
		Gateway: GatewayConfig{
			Addr:        getEnv("GATEWAY_ADDR", ":8080"),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Alerts: AlertConfig{
			TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
			MinPriority:      getEnv("ALERT_MIN_PRIORITY", "HIGH"),
			CooldownSecs:     getEnvInt("ALERT_COOLDOWN_SECS", 300),
		},
	}

	path := getEnv("CONFIG_FILE", DefaultFile)
	if data, err := os.ReadFile(path); err == nil {
		// Unmarshal over the env-filled struct: absent keys keep env values.
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		log.Printf("[config] loaded overrides from %s", path)
	} else if os.Getenv("CONFIG_FILE") != "" {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scan.IntervalSecs <= 0 {
		return fmt.Errorf("scan interval must be positive, got %d", c.Scan.IntervalSecs)
	}
	if c.Scan.HistoryCapacity <= 0 {
		return fmt.Errorf("history capacity must be positive, got %d", c.Scan.HistoryCapacity)
	}
	if c.Index.StrikeGapRupees <= 0 {
		return fmt.Errorf("strike gap must be positive, got %d", c.Index.StrikeGapRupees)
	}
	if c.Index.GridSteps <= 0 {
		return fmt.Errorf("grid steps must be positive, got %d", c.Index.GridSteps)
	}
	if _, err := parseWeekday(c.Index.ExpiryWeekday); err != nil {
		return err
	}
	return nil
}

// RequireCredentials verifies the Angel One credential set is complete.
// The live scanner calls this; staging mode and the gateway do not.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Angel.APIKey == "" {
		missing = append(missing, "ANGEL_API_KEY")
	}
	if c.Angel.ClientCode == "" {
		missing = append(missing, "ANGEL_CLIENT_CODE")
	}
	if c.Angel.Password == "" {
		missing = append(missing, "ANGEL_PASSWORD")
	}
	if c.Angel.TOTPSecret == "" {
		missing = append(missing, "ANGEL_TOTP_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s (set STAGING_MODE=true to run without them)",
			strings.Join(missing, ", "))
	}
	return nil
}

// Spec converts the index section into the engine's IndexSpec.
func (c *IndexConfig) Spec() (model.IndexSpec, error) {
	wd, err := parseWeekday(c.ExpiryWeekday)
	if err != nil {
		return model.IndexSpec{}, err
	}
	return model.IndexSpec{
		Token:         c.Token,
		Exchange:      c.Exchange,
		Name:          c.Name,
		LotSize:       c.LotSize,
		StrikeGap:     c.StrikeGapRupees * 100,
		GridSteps:     c.GridSteps,
		ExpiryWeekday: wd,
	}, nil
}

// Interval returns the scan cadence as a duration.
func (c *ScanConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Cooldown returns the alert suppression window as a duration.
func (c *AlertConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// Priority maps the configured minimum alert priority onto the model
// type, defaulting to HIGH on unrecognized values.
func (c *AlertConfig) Priority() model.Priority {
	switch strings.ToUpper(strings.TrimSpace(c.MinPriority)) {
	case "LOW":
		return model.PriorityLow
	case "MEDIUM":
		return model.PriorityMedium
	default:
		return model.PriorityHigh
	}
}

func parseWeekday(s string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(s, wd.String()) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown expiry weekday %q", s)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[config] ignoring non-integer %s=%q", key, v)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[config] ignoring non-numeric %s=%q", key, v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("[config] ignoring non-boolean %s=%q", key, v)
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}
