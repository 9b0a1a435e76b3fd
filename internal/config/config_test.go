package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.StoreDriver != DriverPostgres {
		t.Errorf("expected driver postgres, got %s", cfg.StoreDriver)
	}
	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.FeedDir != "./var/feeds" {
		t.Errorf("expected FeedDir ./var/feeds, got %s", cfg.FeedDir)
	}
	if cfg.FeedSchedule != "@every 15m" {
		t.Errorf("expected FeedSchedule @every 15m, got %s", cfg.FeedSchedule)
	}
	if cfg.FeedInterval != time.Hour {
		t.Errorf("expected FeedInterval 1h, got %v", cfg.FeedInterval)
	}
	if cfg.FeedRunTimeout != 30*time.Minute {
		t.Errorf("expected FeedRunTimeout 30m, got %v", cfg.FeedRunTimeout)
	}
	if cfg.JobStaleAfter != time.Hour {
		t.Errorf("expected JobStaleAfter 1h, got %v", cfg.JobStaleAfter)
	}
	if cfg.JobRetention != 168*time.Hour {
		t.Errorf("expected JobRetention 168h, got %v", cfg.JobRetention)
	}
	if cfg.QueueCacheTTL != 30*time.Second {
		t.Errorf("expected QueueCacheTTL 30s, got %v", cfg.QueueCacheTTL)
	}
	if cfg.WorkerPollInterval != time.Second {
		t.Errorf("expected WorkerPollInterval 1s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxBackoff != 30*time.Second {
		t.Errorf("expected WorkerMaxBackoff 30s, got %v", cfg.WorkerMaxBackoff)
	}
	if cfg.UploadTimeout != 10*time.Second {
		t.Errorf("expected UploadTimeout 10s, got %v", cfg.UploadTimeout)
	}
	if cfg.UploadRateLimit != 5 || cfg.APIRateLimit != 20 {
		t.Errorf("unexpected rate limits: upload %v api %v", cfg.UploadRateLimit, cfg.APIRateLimit)
	}
	if cfg.UploadConfigured() {
		t.Error("uploads should be off without UPLOAD_URL and CATALOG_ID")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "file.db")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("PORT", "9090")
	t.Setenv("FEED_RUN_TIMEOUT", "5m")
	t.Setenv("JOB_STALE_AFTER", "10m")
	t.Setenv("UPLOAD_URL", "https://ingest.example.com")
	t.Setenv("CATALOG_ID", "cat-1")
	t.Setenv("API_RATE_LIMIT", "0")
	t.Setenv("UPLOAD_RATE_LIMIT", "2.5/s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("expected sqlite, got %s", cfg.StoreDriver)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("expected 9090, got %d", cfg.HTTPPort)
	}
	if cfg.FeedRunTimeout != 5*time.Minute || cfg.JobStaleAfter != 10*time.Minute {
		t.Errorf("unexpected timeouts: %v / %v", cfg.FeedRunTimeout, cfg.JobStaleAfter)
	}
	if !cfg.UploadConfigured() {
		t.Error("expected uploads to be configured")
	}
	if cfg.APIRateLimit != rate.Inf {
		t.Errorf("expected zero to disable the API limit, got %v", cfg.APIRateLimit)
	}
	if cfg.UploadRateLimit != 2.5 {
		t.Errorf("expected 2.5/s, got %v", cfg.UploadRateLimit)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedplane.yaml")
	content := `
database_url: postgres://db/feeds
feed_secret: from-file
feed_interval: 2h
http_port: 7000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/feeds" || cfg.FeedSecret != "from-file" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.FeedInterval != 2*time.Hour {
		t.Errorf("expected 2h, got %v", cfg.FeedInterval)
	}
	if cfg.HTTPPort != 7001 {
		t.Errorf("env should override file, got port %d", cfg.HTTPPort)
	}

	// Without an explicit path the working directory is searched.
	t.Chdir(dir)
	t.Setenv("PORT", "")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 7000 {
		t.Errorf("expected port from file, got %d", cfg.HTTPPort)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "x")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"PORT": "abc"}, "invalid PORT"},
		{"bad duration", map[string]string{"FEED_INTERVAL": "soon"}, "invalid FEED_INTERVAL"},
		{"bad driver", map[string]string{"STORE_DRIVER": "mysql"}, "invalid store_driver"},
		{"negative rate", map[string]string{"API_RATE_LIMIT": "-1"}, "invalid API_RATE_LIMIT"},
		{"stale below run timeout", map[string]string{"JOB_STALE_AFTER": "10m"}, "must exceed feed_run_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
