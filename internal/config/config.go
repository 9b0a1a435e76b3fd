// Package config loads daemon settings from an optional YAML file, the environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration values for the application.
type Config struct {
	DatabaseURL string
	StoreDriver string
	HTTPPort    int
	AdminToken  string
	LogLevel    string

	// OTLP collector address (host:port)
	OTelEndpoint string

	FeedDir          string
	FeedSecret       string
	FeedFileName     string
	FeedTempFileName string
	// Cron spec for scheduler ticks, e.g. "@every 15m"
	FeedSchedule   string
	FeedInterval   time.Duration
	FeedRunTimeout time.Duration

	JobStaleAfter time.Duration
	JobRetention  time.Duration

	QueueCacheTTL time.Duration

	WorkerPollInterval time.Duration
	WorkerMaxBackoff   time.Duration

	UploadURL       string
	UploadToken     string
	CatalogID       string
	UploadTimeout   time.Duration
	UploadRateLimit rate.Limit

	APIRateLimit rate.Limit
}

// env bindings, key -> variable name.
var envKeys = map[string]string{
	"database_url":         "DATABASE_URL",
	"store_driver":         "STORE_DRIVER",
	"http_port":            "PORT",
	"admin_token":          "ADMIN_TOKEN",
	"log_level":            "LOG_LEVEL",
	"otel_endpoint":        "OTEL_EXPORTER_OTLP_ENDPOINT",
	"feed_dir":             "FEED_DIR",
	"feed_secret":          "FEED_SECRET",
	"feed_file_name":       "FEED_FILE_NAME",
	"feed_temp_file_name":  "FEED_TEMP_FILE_NAME",
	"feed_schedule":        "FEED_SCHEDULE",
	"feed_interval":        "FEED_INTERVAL",
	"feed_run_timeout":     "FEED_RUN_TIMEOUT",
	"job_stale_after":      "JOB_STALE_AFTER",
	"job_retention":        "JOB_RETENTION",
	"queue_cache_ttl":      "QUEUE_CACHE_TTL",
	"worker_poll_interval": "WORKER_POLL_INTERVAL",
	"worker_max_backoff":   "WORKER_MAX_BACKOFF",
	"upload_url":           "UPLOAD_URL",
	"upload_token":         "UPLOAD_TOKEN",
	"catalog_id":           "CATALOG_ID",
	"upload_timeout":       "UPLOAD_TIMEOUT",
	"upload_rate_limit":    "UPLOAD_RATE_LIMIT",
	"api_rate_limit":       "API_RATE_LIMIT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("http_port", 6161)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("feed_dir", "./var/feeds")
	v.SetDefault("feed_schedule", "@every 15m")
	v.SetDefault("feed_interval", "1h")
	v.SetDefault("feed_run_timeout", "30m")
	v.SetDefault("job_stale_after", "1h")
	v.SetDefault("job_retention", "168h")
	v.SetDefault("queue_cache_ttl", "30s")
	v.SetDefault("worker_poll_interval", "1s")
	v.SetDefault("worker_max_backoff", "30s")
	v.SetDefault("upload_timeout", "10s")
	v.SetDefault("upload_rate_limit", "5")
	v.SetDefault("api_rate_limit", "20")
}

// Load reads configuration. path names a YAML file; when empty, feedplane.yaml in
// the working directory is used if present. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("feedplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	p := parser{v: v}
	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		StoreDriver:      strings.ToLower(v.GetString("store_driver")),
		HTTPPort:         p.int("http_port"),
		AdminToken:       v.GetString("admin_token"),
		LogLevel:         v.GetString("log_level"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
		FeedDir:          v.GetString("feed_dir"),
		FeedSecret:       v.GetString("feed_secret"),
		FeedFileName:     v.GetString("feed_file_name"),
		FeedTempFileName: v.GetString("feed_temp_file_name"),
		FeedSchedule:     v.GetString("feed_schedule"),
		FeedInterval:     p.duration("feed_interval"),
		FeedRunTimeout:   p.duration("feed_run_timeout"),
		JobStaleAfter:    p.duration("job_stale_after"),
		JobRetention:     p.duration("job_retention"),
		QueueCacheTTL:    p.duration("queue_cache_ttl"),

		WorkerPollInterval: p.duration("worker_poll_interval"),
		WorkerMaxBackoff:   p.duration("worker_max_backoff"),

		UploadURL:       v.GetString("upload_url"),
		UploadToken:     v.GetString("upload_token"),
		CatalogID:       v.GetString("catalog_id"),
		UploadTimeout:   p.duration("upload_timeout"),
		UploadRateLimit: p.rate("upload_rate_limit"),
		APIRateLimit:    p.rate("api_rate_limit"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid store_driver %q: want %s or %s", c.StoreDriver, DriverPostgres, DriverSQLite)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.FeedRunTimeout <= 0 {
		return errors.New("feed_run_timeout must be positive")
	}
	if c.JobStaleAfter <= c.FeedRunTimeout {
		return fmt.Errorf("job_stale_after (%s) must exceed feed_run_timeout (%s)", c.JobStaleAfter, c.FeedRunTimeout)
	}
	if c.QueueCacheTTL <= 0 {
		return errors.New("queue_cache_ttl must be positive")
	}
	return nil
}

// UploadConfigured reports whether uploads should be attempted after publishing.
func (c *Config) UploadConfigured() bool {
	return c.UploadURL != "" && c.CatalogID != ""
}

// parser records the first conversion error.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, raw any, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", envKeys[key], fmt.Sprint(raw), err)
	}
}

func (p *parser) int(key string) int {
	raw := p.v.GetString(key)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
	}
	return n
}

func (p *parser) duration(key string) time.Duration {
	raw := p.v.GetString(key)
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
	}
	return d
}

// rate accepts "N" or "N/s"; 0 disables limiting.
func (p *parser) rate(key string) rate.Limit {
	raw := strings.TrimSuffix(strings.TrimSpace(p.v.GetString(key)), "/s")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		if err == nil {
			err = errors.New("must not be negative")
		}
		p.fail(key, raw, err)
		return 0
	}
	if f == 0 {
		return rate.Inf
	}
	return rate.Limit(f)
}
