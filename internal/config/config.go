package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/hodarchive/internal/archive"
	"github.com/MimeLyc/hodarchive/internal/jobs"
	"github.com/MimeLyc/hodarchive/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables (optionally via a .env file) and
// are then overridden by command-line options.
//
// Environment Variables:
// Archive:
// - HOD_API_KEY: API key registered with HoD Archive (required)
// - HOD_ARCHIVE_URL: create-job endpoint (default: https://api.weather.com/v3/wx/hod/r1/archive)
// - HOD_ACTIVITY_URL: job status endpoint (default: https://api.weather.com/v3/wx/hod/r1/activity)
// - HOD_TIMEOUT: HTTP timeout in seconds, 0 for none (default: 0)
// - HOD_RETRY_AFTER: wait in seconds when a 429 has no Retry-After (default: 10)
//
// Lifecycle:
// - HOD_JOBS_FILE: jobs CSV (flag --jobs)
// - HOD_IDLE_INTERVAL: seconds between sweeps once all jobs are submitted (default: 10)
// - CRON_EXPR: run the jobs file on this schedule instead of once (optional)
//
// System:
// - HOD_HISTORY_DB: SQLite run history, empty disables it (optional)
// - HOD_LISTEN_ADDR: address of the history API served by "serve" (default: :8080)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: write logs to this file instead of stderr (optional)
type Config struct {
	Archive   ArchiveConfig   `json:"archive"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	System    SystemConfig    `json:"system"`
}

type ArchiveConfig struct {
	APIKey            string        `json:"-"`
	ArchiveURL        string        `json:"archive_url"`
	ActivityURL       string        `json:"activity_url"`
	Timeout           time.Duration `json:"timeout"`
	DefaultRetryAfter time.Duration `json:"default_retry_after"`
}

// ClientConfig converts to the archive client configuration.
func (c ArchiveConfig) ClientConfig() archive.Config {
	return archive.Config{
		ArchiveURL:        c.ArchiveURL,
		ActivityURL:       c.ActivityURL,
		Timeout:           c.Timeout,
		DefaultRetryAfter: c.DefaultRetryAfter,
	}
}

type LifecycleConfig struct {
	JobsFile     string        `json:"jobs_file"`
	IdleInterval time.Duration `json:"idle_interval"`
	CronExpr     string        `json:"cron_expr"`
}

type SystemConfig struct {
	HistoryDB  string       `json:"history_db"`
	ListenAddr string       `json:"listen_addr"`
	LogLevel   log.LogLevel `json:"log_level"`
	LogFile    string       `json:"log_file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		if apiKey != "" {
			c.Archive.APIKey = apiKey
		}
	}
}

func WithJobsFile(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.Lifecycle.JobsFile = path
		}
	}
}

func WithCronExpr(expr string) Option {
	return func(c *Config) {
		if expr != "" {
			c.Lifecycle.CronExpr = expr
		}
	}
}

func WithListenAddr(addr string) Option {
	return func(c *Config) {
		if addr != "" {
			c.System.ListenAddr = addr
		}
	}
}

func WithHistoryDB(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.System.HistoryDB = path
		}
	}
}

// NewFromEnv builds a Config from the environment, applies opts and validates
// the result. Only the archive section is required; Validate checks it.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := Load(opts...)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Load builds a Config from the environment and opts without validating it.
func Load(opts ...Option) *Config {
	config := &Config{
		Archive: ArchiveConfig{
			APIKey:            getEnvString("HOD_API_KEY", ""),
			ArchiveURL:        getEnvString("HOD_ARCHIVE_URL", archive.DefaultArchiveURL),
			ActivityURL:       getEnvString("HOD_ACTIVITY_URL", archive.DefaultActivityURL),
			Timeout:           getEnvSeconds("HOD_TIMEOUT", 0),
			DefaultRetryAfter: getEnvSeconds("HOD_RETRY_AFTER", archive.DefaultRetryAfter),
		},
		Lifecycle: LifecycleConfig{
			JobsFile:     getEnvString("HOD_JOBS_FILE", ""),
			IdleInterval: getEnvSeconds("HOD_IDLE_INTERVAL", jobs.DefaultIdleInterval),
			CronExpr:     getEnvString("CRON_EXPR", ""),
		},
		System: SystemConfig{
			HistoryDB:  getEnvString("HOD_HISTORY_DB", ""),
			ListenAddr: getEnvString("HOD_LISTEN_ADDR", ":8080"),
			LogLevel:   log.ParseLevel(getEnvString("LOG_LEVEL", "info")),
			LogFile:    getEnvString("LOG_FILE", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}
	return config
}

// Validate checks what a submission run needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Archive.APIKey) == "" {
		return fmt.Errorf("HOD_API_KEY (or --api-key) is required")
	}
	if strings.TrimSpace(c.Lifecycle.JobsFile) == "" {
		return fmt.Errorf("HOD_JOBS_FILE (or --jobs) is required")
	}
	client := c.Archive.ClientConfig()
	if err := client.Validate(); err != nil {
		return err
	}
	if c.Lifecycle.IdleInterval < 0 {
		return fmt.Errorf("HOD_IDLE_INTERVAL must not be negative")
	}
	if c.Lifecycle.CronExpr != "" {
		if _, err := cron.ParseStandard(c.Lifecycle.CronExpr); err != nil {
			return fmt.Errorf("invalid CRON_EXPR: %w", err)
		}
	}
	return nil
}

// String renders the configuration without the API key.
func (c *Config) String() string {
	return fmt.Sprintf("archive=%s activity=%s timeout=%s retryAfter=%s jobs=%s idle=%s cron=%q history=%q log=%s",
		c.Archive.ArchiveURL,
		c.Archive.ActivityURL,
		c.Archive.Timeout,
		c.Archive.DefaultRetryAfter,
		c.Lifecycle.JobsFile,
		c.Lifecycle.IdleInterval,
		c.Lifecycle.CronExpr,
		c.System.HistoryDB,
		c.System.LogLevel)
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvSeconds reads a whole number of seconds
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, int(defaultValue/time.Second))) * time.Second
}
