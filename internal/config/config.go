// Package config defines the top-level configuration for the hedge desk
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGEDESK_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Feed     FeedConfig     `toml:"feed"`
	Broker   BrokerConfig   `toml:"broker"`
	Risk     RiskConfig     `toml:"risk"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Notify   NotifyConfig   `toml:"notify"`
	Timezone string         `toml:"timezone"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// FeedConfig holds market-data feed parameters.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
	// MaxQuoteAge bounds how stale a cached premium may be before the feed
	// reports market data as unavailable.
	MaxQuoteAge duration `toml:"max_quote_age"`
	// QuoteTTL is the Redis expiry on write-through quotes.
	QuoteTTL duration `toml:"quote_ttl"`
}

// BrokerConfig holds order-routing credentials and endpoints.
type BrokerConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// RiskConfig seeds the initial risk configuration when the store holds none,
// and tunes how often the cached configuration refreshes from the store.
type RiskConfig struct {
	ExitDayOffset        int      `toml:"exit_day_offset"`
	ExitTimeOfDay        string   `toml:"exit_time_of_day"`
	StopLossPoints       float64  `toml:"stop_loss_points"`
	ProfitLockTargetPct  float64  `toml:"profit_lock_target_pct"`
	ProfitLockFloorPct   float64  `toml:"profit_lock_floor_pct"`
	TrailingStopEnabled  bool     `toml:"trailing_stop_enabled"`
	TrailingStopPct      float64  `toml:"trailing_stop_pct"`
	AutoSquareOffEnabled bool     `toml:"auto_square_off_enabled"`
	RefreshInterval      duration `toml:"refresh_interval"`
}

// MonitorConfig tunes the position monitoring loop.
type MonitorConfig struct {
	Interval      duration `toml:"interval"`
	MaxConcurrent int      `toml:"max_concurrent"`
	LockTTL       duration `toml:"lock_ttl"`
}

// NotifyConfig holds alerting channel credentials. A channel is enabled when
// its credentials are non-empty.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("30s", "5m") via encoding.TextUnmarshaler.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sane development defaults. Load
// merges the TOML file and environment overrides on top of this.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedgedesk",
			User:          "hedgedesk",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    10,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		Feed: FeedConfig{
			MaxQuoteAge: duration{10 * time.Second},
			QuoteTTL:    duration{30 * time.Second},
		},
		Risk: RiskConfig{
			ExitDayOffset:        0,
			ExitTimeOfDay:        "15:15",
			StopLossPoints:       200,
			ProfitLockTargetPct:  10,
			ProfitLockFloorPct:   5,
			TrailingStopEnabled:  false,
			TrailingStopPct:      0,
			AutoSquareOffEnabled: true,
			RefreshInterval:      duration{time.Minute},
		},
		Monitor: MonitorConfig{
			Interval:      duration{30 * time.Second},
			MaxConcurrent: 8,
			LockTTL:       duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"exit_triggered", "position_exited", "execution_failed", "kill_switch"},
		},
		Timezone: "Asia/Kolkata",
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "live" routes
// exits to the REST broker, "paper" fills against the feed, "monitor" watches
// without executing.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Timezone
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid timezone %q: %v", c.Timezone, err))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Feed — ws_url is only required when quotes drive decisions.
	if c.Mode == "live" || c.Mode == "paper" {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url is required for mode "+c.Mode)
		}
	}
	if c.Feed.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "feed: max_quote_age must be > 0")
	}

	// Broker — live execution needs credentials.
	if c.Mode == "live" {
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker: base_url is required for mode live")
		}
		if c.Broker.ApiKey == "" {
			errs = append(errs, "broker: api_key is required for mode live")
		}
	}

	// Risk — mirror the domain rules so a bad seed fails at startup.
	if c.Risk.ExitDayOffset < 0 {
		errs = append(errs, "risk: exit_day_offset must be >= 0")
	}
	if _, err := time.Parse("15:04", c.Risk.ExitTimeOfDay); err != nil {
		errs = append(errs, fmt.Sprintf("risk: exit_time_of_day %q must be HH:MM", c.Risk.ExitTimeOfDay))
	}
	if c.Risk.StopLossPoints <= 0 {
		errs = append(errs, "risk: stop_loss_points must be > 0")
	}
	if c.Risk.ProfitLockTargetPct > 0 && c.Risk.ProfitLockFloorPct >= c.Risk.ProfitLockTargetPct {
		errs = append(errs, "risk: profit_lock_floor_pct must be below profit_lock_target_pct")
	}
	if c.Risk.TrailingStopEnabled && c.Risk.TrailingStopPct <= 0 {
		errs = append(errs, "risk: trailing_stop_pct must be > 0 when trailing stop is enabled")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.MaxConcurrent < 1 {
		errs = append(errs, "monitor: max_concurrent must be >= 1")
	}

	// Notify — token and chat id come as a pair.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
