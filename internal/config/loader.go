package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file named by
// LOTBUY_CONFIG (if any), then .env, then environment overrides. The result
// is not validated.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("LOTBUY_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	log.Printf("[config] %s", cfg.Redacted())
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Plain names kept for existing deployments.
	setStr(&cfg.Server.Port, "PORT")
	setStr(&cfg.DB.DSN, "DB_DSN")
	setStr(&cfg.MediaDir, "MEDIA_DIR")
	setStr(&cfg.LogFile, "LOG_FILE")

	setStr(&cfg.Server.Port, "LOTBUY_SERVER_PORT")
	setInt(&cfg.Server.BodyLimitMB, "LOTBUY_SERVER_BODY_LIMIT_MB")
	setInt(&cfg.Server.RateLimit, "LOTBUY_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LOTBUY_SERVER_RATE_WINDOW")
	setStringSlice(&cfg.Server.CORSOrigins, "LOTBUY_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.PublicURL, "LOTBUY_SERVER_PUBLIC_URL")

	setStr(&cfg.DB.Driver, "LOTBUY_DB_DRIVER")
	setStr(&cfg.DB.DSN, "LOTBUY_DB_DSN")

	setInt(&cfg.Engine.MaxRetries, "LOTBUY_ENGINE_MAX_RETRIES")
	setDuration(&cfg.Engine.PaymentWindow, "LOTBUY_ENGINE_PAYMENT_WINDOW")

	setDuration(&cfg.Dispatcher.PollInterval, "LOTBUY_DISPATCHER_POLL_INTERVAL")
	setInt(&cfg.Dispatcher.BatchSize, "LOTBUY_DISPATCHER_BATCH_SIZE")

	setDuration(&cfg.Sweeper.Interval, "LOTBUY_SWEEPER_INTERVAL")
	setDuration(&cfg.Sweeper.SessionTTL, "LOTBUY_SWEEPER_SESSION_TTL")

	setStr(&cfg.Redis.Addr, "LOTBUY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOTBUY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOTBUY_REDIS_DB")
	setStr(&cfg.Redis.Stream, "LOTBUY_REDIS_STREAM")

	setStr(&cfg.S3.Endpoint, "LOTBUY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOTBUY_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOTBUY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOTBUY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOTBUY_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "LOTBUY_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.PublicBaseURL, "LOTBUY_S3_PUBLIC_BASE_URL")

	setStr(&cfg.Webhook.URL, "LOTBUY_WEBHOOK_URL")
	setDuration(&cfg.Webhook.Timeout, "LOTBUY_WEBHOOK_TIMEOUT")

	setStr(&cfg.MediaDir, "LOTBUY_MEDIA_DIR")
	setStr(&cfg.LogFile, "LOTBUY_LOG_FILE")
	setBool(&cfg.SeedDemo, "LOTBUY_SEED_DEMO")
}

// Each helper only touches dst when the variable is set and parses.

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
