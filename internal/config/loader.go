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
// built-in defaults, applies FLUSTER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FLUSTER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.OracleMaxStaleness, "FLUSTER_ENGINE_ORACLE_MAX_STALENESS")
	setUint64(&cfg.Engine.AutomationFee, "FLUSTER_ENGINE_AUTOMATION_FEE")
	setInt(&cfg.Engine.RateLimit, "FLUSTER_ENGINE_RATE_LIMIT")
	setDuration(&cfg.Engine.RateWindow, "FLUSTER_ENGINE_RATE_WINDOW")
	setBool(&cfg.Engine.RequireSignature, "FLUSTER_ENGINE_REQUIRE_SIGNATURE")

	// ── Authority ──
	setStr(&cfg.Authority.Secret, "FLUSTER_AUTHORITY_SECRET")
	setStr(&cfg.Authority.EncryptedSecretPath, "FLUSTER_AUTHORITY_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Authority.SecretPassword, "FLUSTER_AUTHORITY_SECRET_PASSWORD")
	setStr(&cfg.Authority.AdminAPIKey, "FLUSTER_AUTHORITY_ADMIN_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLUSTER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLUSTER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLUSTER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLUSTER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLUSTER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLUSTER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLUSTER_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "FLUSTER_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "FLUSTER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLUSTER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLUSTER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLUSTER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLUSTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLUSTER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLUSTER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLUSTER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLUSTER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLUSTER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLUSTER_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLUSTER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLUSTER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLUSTER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLUSTER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLUSTER_S3_FORCE_PATH_STYLE")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.PollInterval, "FLUSTER_SCHEDULER_POLL_INTERVAL")
	setInt(&cfg.Scheduler.BatchSize, "FLUSTER_SCHEDULER_BATCH_SIZE")
	setDuration(&cfg.Scheduler.LockTTL, "FLUSTER_SCHEDULER_LOCK_TTL")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "FLUSTER_SCHEDULER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLUSTER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLUSTER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLUSTER_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLUSTER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLUSTER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLUSTER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLUSTER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLUSTER_MODE")
	setStr(&cfg.LogLevel, "FLUSTER_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
