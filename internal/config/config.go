// Package config loads avflight settings. Sources are layered:
// defaults, then an optional YAML file, then AVF_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CharlesOkeke1/AirValora/internal/edge"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds all process configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Ticker    TickerConfig    `yaml:"ticker"`
	Mover     MoverConfig     `yaml:"mover"`
	Auth      AuthConfig      `yaml:"auth"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Log       LogConfig       `yaml:"log"`
	Runtime   edge.Config     `yaml:"runtime"`

	// Seats per aircraft type, for seats-left.
	SeatCapacity map[string]int `yaml:"seat_capacity"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second per client, 0 = unlimited
	RateBurst    int           `yaml:"rate_burst"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // memory, redis, sqlite, postgres
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// TickerConfig configures the progress ticker.
type TickerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Refresh  time.Duration `yaml:"refresh"`
	Linger   time.Duration `yaml:"linger"`
}

// MoverConfig configures the lifecycle mover.
type MoverConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// AuthConfig configures bearer-token identity.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// IngestionConfig configures the schedule importer.
type IngestionConfig struct {
	Source            string        `yaml:"source"` // file path or http(s) URL, empty = disabled
	Token             string        `yaml:"token"`  // bearer token for URL sources
	Interval          time.Duration `yaml:"interval"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			RateLimit:    20,
			RateBurst:    40,
		},
		Store: StoreConfig{
			Backend:     "memory",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "avf",
		},
		Ticker: TickerConfig{
			Enabled:  true,
			Interval: time.Second,
			Refresh:  time.Minute,
			Linger:   10 * time.Second,
		},
		Mover: MoverConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
		Auth: AuthConfig{
			Issuer: "airvalora",
		},
		Ingestion: IngestionConfig{
			Interval:          15 * time.Minute,
			RequestsPerMinute: 6,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Runtime:      edge.DefaultConfig(),
		SeatCapacity: map[string]int{},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	ApplyEnv(&cfg)
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays AVF_* environment variables onto cfg. Unparseable
// values are ignored.
func ApplyEnv(cfg *Config) {
	envString("AVF_HTTP_ADDR", &cfg.HTTP.Addr)
	envInt("AVF_HTTP_PORT", &cfg.HTTP.Port)
	envFloat("AVF_HTTP_RATE_LIMIT", &cfg.HTTP.RateLimit)
	envInt("AVF_HTTP_RATE_BURST", &cfg.HTTP.RateBurst)

	envString("AVF_STORE_BACKEND", &cfg.Store.Backend)
	envString("AVF_STORE_DSN", &cfg.Store.DSN)
	envString("AVF_REDIS_ADDR", &cfg.Store.RedisAddr)
	envString("AVF_REDIS_PASSWORD", &cfg.Store.RedisPassword)
	envInt("AVF_REDIS_DB", &cfg.Store.RedisDB)
	envString("AVF_REDIS_PREFIX", &cfg.Store.RedisPrefix)

	envBool("AVF_ENABLE_TICKER", &cfg.Ticker.Enabled)
	envDuration("AVF_TICK_INTERVAL", &cfg.Ticker.Interval)
	envDuration("AVF_REFRESH_INTERVAL", &cfg.Ticker.Refresh)
	envDuration("AVF_LINGER", &cfg.Ticker.Linger)

	envBool("AVF_ENABLE_MOVER", &cfg.Mover.Enabled)
	envDuration("AVF_MOVER_INTERVAL", &cfg.Mover.Interval)

	envString("AVF_JWT_SECRET", &cfg.Auth.JWTSecret)
	envString("AVF_JWT_ISSUER", &cfg.Auth.Issuer)

	envString("AVF_SCHEDULE_SOURCE", &cfg.Ingestion.Source)
	envString("AVF_SCHEDULE_TOKEN", &cfg.Ingestion.Token)
	envDuration("AVF_SCHEDULE_INTERVAL", &cfg.Ingestion.Interval)
	envInt("AVF_SCHEDULE_RPM", &cfg.Ingestion.RequestsPerMinute)

	envString("AVF_LOG_LEVEL", &cfg.Log.Level)
	envString("AVF_LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("AVF_MEMORY_MODE"); v != "" {
		cfg.Runtime = edge.Preset(edge.ParseMemoryMode(v))
	}
	envInt("AVF_MEMORY_LIMIT_MB", &cfg.Runtime.MemoryLimitMB)
	envInt("AVF_SOFT_LIMIT_MB", &cfg.Runtime.SoftLimitMB)
	envInt("AVF_GC_PERCENT", &cfg.Runtime.GCPercent)
	envInt("GOMAXPROCS", &cfg.Runtime.MaxProcs)
	envBool("AVF_REJECT_WRITES", &cfg.Runtime.RejectWrites)
}

var backends = []string{"memory", "redis", "sqlite", "postgres"}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTP.Port))
	}
	if !contains(backends, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("unknown store backend %q (want one of %s)", c.Store.Backend, strings.Join(backends, ", ")))
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("postgres backend needs store.dsn"))
	}
	for name, d := range map[string]time.Duration{
		"ticker.interval":    c.Ticker.Interval,
		"ticker.refresh":     c.Ticker.Refresh,
		"mover.interval":     c.Mover.Interval,
		"ingestion.interval": c.Ingestion.Interval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Runtime.MemoryLimitMB > 0 && c.Runtime.SoftLimitMB > c.Runtime.MemoryLimitMB {
		errs = append(errs, fmt.Errorf("runtime.soft_limit_mb %d above memory_limit_mb %d", c.Runtime.SoftLimitMB, c.Runtime.MemoryLimitMB))
	}
	if c.Ticker.Linger < 0 {
		errs = append(errs, fmt.Errorf("ticker.linger must not be negative, got %s", c.Ticker.Linger))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Listen returns the host:port the API server binds.
func (c HTTPConfig) Listen() string {
	return c.Addr + ":" + strconv.Itoa(c.Port)
}

// SQLiteDSN returns the sqlite path, defaulting to avflight.db.
func (c StoreConfig) SQLiteDSN() string {
	if c.DSN == "" {
		return "avflight.db"
	}
	return c.DSN
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// Logger builds the process logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// ---------------------------------------------------------------------------
// Environment helpers
// ---------------------------------------------------------------------------

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
