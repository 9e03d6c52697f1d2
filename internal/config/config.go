package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "VM_CONFIG"

// Config is the full service configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Claims   ClaimsConfig   `yaml:"claims"`
	Billing  BillingConfig  `yaml:"billing"`
	Notify   NotifyConfig   `yaml:"notify"`
	Triggers TriggersConfig `yaml:"triggers"`
	Retry    RetryConfig    `yaml:"retry"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// AuthConfig configures operator JWT and ingest HMAC verification.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	IngestSecret  string        `yaml:"ingest_secret"`
	IngestMaxSkew time.Duration `yaml:"ingest_max_skew"`
}

// ClaimsConfig configures account claims.
type ClaimsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BillingConfig configures billing periods and the reset schedule.
type BillingConfig struct {
	Timezone     string `yaml:"timezone"`
	ResetDailyAt string `yaml:"reset_daily_at"`
}

// NotifyConfig configures operator push delivery.
type NotifyConfig struct {
	SessionBuffer int           `yaml:"session_buffer"`
	HubQueue      int           `yaml:"hub_queue"`
	ReorderWait   time.Duration `yaml:"reorder_wait"`
	Keepalive     time.Duration `yaml:"keepalive"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the cross-instance relay. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// TriggersConfig configures warning/snoozed trigger delivery.
type TriggersConfig struct {
	AMQPURL          string        `yaml:"amqp_url"`
	Exchange         string        `yaml:"exchange"`
	RoutingKey       string        `yaml:"routing_key"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	BatchSize        int           `yaml:"batch_size"`
	MaxAttempts      int           `yaml:"max_attempts"`
	WebhookURL       string        `yaml:"webhook_url"`
	WebhookTemplate  string        `yaml:"webhook_template"`
}

// RetryConfig configures transient storage retries.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			IngestMaxSkew: 5 * time.Minute,
		},
		Claims: ClaimsConfig{
			TTL:           2 * time.Minute,
			SweepInterval: time.Minute,
		},
		Billing: BillingConfig{
			Timezone:     "UTC",
			ResetDailyAt: "00:01",
		},
		Notify: NotifyConfig{
			SessionBuffer: 64,
			HubQueue:      1024,
			ReorderWait:   500 * time.Millisecond,
			Keepalive:     25 * time.Second,
			Redis: RedisConfig{
				Channel: "videomonitoring:notifications",
			},
		},
		Triggers: TriggersConfig{
			Exchange:         "videomonitoring.triggers",
			RoutingKey:       "billing.trigger",
			DispatchInterval: 5 * time.Second,
			BatchSize:        50,
			MaxAttempts:      10,
		},
		Retry: RetryConfig{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			MaxElapsedTime:  5 * time.Second,
		},
	}
}

// Load reads the YAML file at path (or $VM_CONFIG), then applies env overrides.
// A missing path means defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	if origins := os.Getenv("HTTP_ALLOWED_ORIGINS"); origins != "" {
		cfg.HTTP.AllowedOrigins = splitCSV(origins)
	}
	cfg.Database.URL = getenvDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MigrateOnStart = getenvBoolDefault("DATABASE_MIGRATE_ON_START", cfg.Database.MigrateOnStart)
	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Auth.IngestSecret)
	cfg.Claims.TTL = getenvDuration("CLAIM_TTL", cfg.Claims.TTL)
	cfg.Billing.Timezone = getenvDefault("BILLING_TIMEZONE", cfg.Billing.Timezone)
	cfg.Billing.ResetDailyAt = getenvDefault("BILLING_RESET_DAILY_AT", cfg.Billing.ResetDailyAt)
	cfg.Notify.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Notify.Redis.Addr)
	cfg.Notify.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Notify.Redis.Password)
	cfg.Triggers.AMQPURL = getenvDefault("AMQP_URL", cfg.Triggers.AMQPURL)
	cfg.Triggers.WebhookURL = getenvDefault("TRIGGER_WEBHOOK_URL", cfg.Triggers.WebhookURL)
	cfg.Triggers.BatchSize = getenvIntDefault("TRIGGER_BATCH_SIZE", cfg.Triggers.BatchSize)
}

// Validate checks values that would otherwise fail at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("config: http.addr required"))
	}
	if c.Claims.TTL <= 0 {
		errs = append(errs, errors.New("config: claims.ttl must be positive"))
	}
	if _, err := time.LoadLocation(c.Billing.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("config: billing.timezone: %w", err))
	}
	if _, err := time.Parse("15:04", c.Billing.ResetDailyAt); err != nil {
		errs = append(errs, fmt.Errorf("config: billing.reset_daily_at: %w", err))
	}
	if c.Notify.SessionBuffer <= 0 || c.Notify.HubQueue <= 0 {
		errs = append(errs, errors.New("config: notify buffers must be positive"))
	}
	if c.Triggers.BatchSize <= 0 {
		errs = append(errs, errors.New("config: triggers.batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the billing time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Billing.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
