package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGEDESK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGEDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "HEDGEDESK_DATABASE_DSN")
	setStr(&cfg.Database.Host, "HEDGEDESK_DATABASE_HOST")
	setInt(&cfg.Database.Port, "HEDGEDESK_DATABASE_PORT")
	setStr(&cfg.Database.Database, "HEDGEDESK_DATABASE_NAME")
	setStr(&cfg.Database.User, "HEDGEDESK_DATABASE_USER")
	setStr(&cfg.Database.Password, "HEDGEDESK_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "HEDGEDESK_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "HEDGEDESK_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "HEDGEDESK_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "HEDGEDESK_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HEDGEDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGEDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGEDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGEDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGEDESK_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "HEDGEDESK_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "HEDGEDESK_REDIS_TLS_ENABLED")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "HEDGEDESK_FEED_WS_URL")
	setDuration(&cfg.Feed.MaxQuoteAge, "HEDGEDESK_FEED_MAX_QUOTE_AGE")
	setDuration(&cfg.Feed.QuoteTTL, "HEDGEDESK_FEED_QUOTE_TTL")

	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "HEDGEDESK_BROKER_BASE_URL")
	setStr(&cfg.Broker.ApiKey, "HEDGEDESK_BROKER_API_KEY")

	// ── Risk ──
	setInt(&cfg.Risk.ExitDayOffset, "HEDGEDESK_RISK_EXIT_DAY_OFFSET")
	setStr(&cfg.Risk.ExitTimeOfDay, "HEDGEDESK_RISK_EXIT_TIME_OF_DAY")
	setFloat64(&cfg.Risk.StopLossPoints, "HEDGEDESK_RISK_STOP_LOSS_POINTS")
	setFloat64(&cfg.Risk.ProfitLockTargetPct, "HEDGEDESK_RISK_PROFIT_LOCK_TARGET_PCT")
	setFloat64(&cfg.Risk.ProfitLockFloorPct, "HEDGEDESK_RISK_PROFIT_LOCK_FLOOR_PCT")
	setBool(&cfg.Risk.TrailingStopEnabled, "HEDGEDESK_RISK_TRAILING_STOP_ENABLED")
	setFloat64(&cfg.Risk.TrailingStopPct, "HEDGEDESK_RISK_TRAILING_STOP_PCT")
	setBool(&cfg.Risk.AutoSquareOffEnabled, "HEDGEDESK_RISK_AUTO_SQUARE_OFF_ENABLED")
	setDuration(&cfg.Risk.RefreshInterval, "HEDGEDESK_RISK_REFRESH_INTERVAL")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "HEDGEDESK_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.MaxConcurrent, "HEDGEDESK_MONITOR_MAX_CONCURRENT")
	setDuration(&cfg.Monitor.LockTTL, "HEDGEDESK_MONITOR_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGEDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGEDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGEDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HEDGEDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Timezone, "HEDGEDESK_TIMEZONE")
	setStr(&cfg.Mode, "HEDGEDESK_MODE")
	setStr(&cfg.LogLevel, "HEDGEDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
