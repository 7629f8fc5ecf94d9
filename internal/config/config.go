package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is populated from defaults, then an optional TOML file, then
// environment variables.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	DB         DBConfig         `toml:"db"`
	Engine     EngineConfig     `toml:"engine"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Sweeper    SweeperConfig    `toml:"sweeper"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Webhook    WebhookConfig    `toml:"webhook"`
	MediaDir   string           `toml:"media_dir"`
	LogFile    string           `toml:"log_file"`
	SeedDemo   bool             `toml:"seed_demo"`
}

type ServerConfig struct {
	Port         string   `toml:"port"`
	BodyLimitMB  int      `toml:"body_limit_mb"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	CORSOrigins  []string `toml:"cors_origins"`
	PublicURL    string   `toml:"public_url"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

type DBConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type EngineConfig struct {
	// MaxRetries bounds how often a mutation is retried after losing a
	// concurrent-modification race.
	MaxRetries int `toml:"max_retries"`
	// PaymentWindow is how long the buyer has to pay after accepting.
	PaymentWindow duration `toml:"payment_window"`
}

type DispatcherConfig struct {
	PollInterval duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
}

type SweeperConfig struct {
	Interval   duration `toml:"interval"`
	SessionTTL duration `toml:"session_ttl"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Stream   string `toml:"stream"`
}

type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
}

type WebhookConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// duration lets TOML carry values like "5s" or "48h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			BodyLimitMB:  10,
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{15 * time.Second},
		},
		DB: DBConfig{
			Driver: "sqlite",
			DSN:    "lotbuy.db",
		},
		Engine: EngineConfig{
			MaxRetries:    3,
			PaymentWindow: duration{48 * time.Hour},
		},
		Dispatcher: DispatcherConfig{
			PollInterval: duration{time.Second},
			BatchSize:    100,
		},
		Sweeper: SweeperConfig{
			Interval:   duration{time.Minute},
			SessionTTL: duration{30 * 24 * time.Hour},
		},
		Redis: RedisConfig{
			Stream: "lotbuy:events",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Webhook: WebhookConfig{
			Timeout: duration{5 * time.Second},
		},
		MediaDir: "./media",
		LogFile:  "./lotbuy.log",
	}
}

// Validate collects every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.DB.Driver) {
	case "sqlite", "sqlite3", "pgx", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Sprintf("db: unknown driver %q (valid: sqlite, pgx)", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, "db: dsn must not be empty")
	}
	if c.Server.Port == "" {
		errs = append(errs, "server: port must not be empty")
	}
	if c.Server.BodyLimitMB <= 0 {
		errs = append(errs, "server: body_limit_mb must be positive")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit and rate_window must be positive")
	}
	if c.Engine.MaxRetries < 1 {
		errs = append(errs, "engine: max_retries must be at least 1")
	}
	if c.Engine.PaymentWindow.Duration <= 0 {
		errs = append(errs, "engine: payment_window must be positive")
	}
	if c.Dispatcher.PollInterval.Duration <= 0 {
		errs = append(errs, "dispatcher: poll_interval must be positive")
	}
	if c.Dispatcher.BatchSize <= 0 {
		errs = append(errs, "dispatcher: batch_size must be positive")
	}
	if c.Sweeper.Interval.Duration <= 0 {
		errs = append(errs, "sweeper: interval must be positive")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region is required when bucket is set")
	}
	if c.Redis.Addr != "" && c.Redis.Stream == "" {
		errs = append(errs, "redis: stream is required when addr is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Redacted summarizes the config for the startup log line without secrets.
func (c Config) Redacted() string {
	return fmt.Sprintf("PORT=%s DB_DRIVER=%s MEDIA_DIR=%s LOG_FILE=%s REDIS=%t S3=%t WEBHOOK=%t",
		c.Server.Port, c.DB.Driver, c.MediaDir, c.LogFile,
		c.Redis.Addr != "", c.S3.Bucket != "", c.Webhook.URL != "")
}
