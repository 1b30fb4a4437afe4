package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/hodarchive/internal/archive"
	"github.com/MimeLyc/hodarchive/pkg/log"
)

var envKeys = []string{
	"HOD_API_KEY",
	"HOD_ARCHIVE_URL",
	"HOD_ACTIVITY_URL",
	"HOD_TIMEOUT",
	"HOD_RETRY_AFTER",
	"HOD_JOBS_FILE",
	"HOD_IDLE_INTERVAL",
	"HOD_HISTORY_DB",
	"HOD_LISTEN_ADDR",
	"CRON_EXPR",
	"LOG_LEVEL",
	"LOG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Empty(t, cfg.Archive.APIKey)
	assert.Equal(t, archive.DefaultArchiveURL, cfg.Archive.ArchiveURL)
	assert.Equal(t, archive.DefaultActivityURL, cfg.Archive.ActivityURL)
	assert.Zero(t, cfg.Archive.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Archive.DefaultRetryAfter)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.IdleInterval)
	assert.Empty(t, cfg.Lifecycle.CronExpr)
	assert.Empty(t, cfg.System.HistoryDB)
	assert.Equal(t, ":8080", cfg.System.ListenAddr)
	assert.Equal(t, log.LevelInfo, cfg.System.LogLevel)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOD_API_KEY", "env-key")
	t.Setenv("HOD_ARCHIVE_URL", "http://localhost/archive")
	t.Setenv("HOD_ACTIVITY_URL", "http://localhost/activity")
	t.Setenv("HOD_TIMEOUT", "30")
	t.Setenv("HOD_RETRY_AFTER", "3")
	t.Setenv("HOD_JOBS_FILE", "jobs.csv")
	t.Setenv("HOD_IDLE_INTERVAL", "1")
	t.Setenv("HOD_HISTORY_DB", "/tmp/history.db")
	t.Setenv("CRON_EXPR", "0 * * * *")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Archive.APIKey)
	assert.Equal(t, "http://localhost/archive", cfg.Archive.ArchiveURL)
	assert.Equal(t, "http://localhost/activity", cfg.Archive.ActivityURL)
	assert.Equal(t, 30*time.Second, cfg.Archive.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Archive.DefaultRetryAfter)
	assert.Equal(t, "jobs.csv", cfg.Lifecycle.JobsFile)
	assert.Equal(t, time.Second, cfg.Lifecycle.IdleInterval)
	assert.Equal(t, "0 * * * *", cfg.Lifecycle.CronExpr)
	assert.Equal(t, "/tmp/history.db", cfg.System.HistoryDB)
	assert.Equal(t, log.LevelDebug, cfg.System.LogLevel)

	client := cfg.Archive.ClientConfig()
	assert.Equal(t, "http://localhost/archive", client.ArchiveURL)
	assert.Equal(t, 3*time.Second, client.DefaultRetryAfter)
}

func TestLoad_BadNumberKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOD_IDLE_INTERVAL", "often")

	assert.Equal(t, 10*time.Second, Load().Lifecycle.IdleInterval)
}

func TestOptionsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOD_API_KEY", "env-key")
	t.Setenv("HOD_JOBS_FILE", "env.csv")

	cfg, err := NewFromEnv(
		WithAPIKey("flag-key"),
		WithJobsFile("flag.csv"),
		WithCronExpr("*/5 * * * *"),
		WithHistoryDB("runs.db"),
		WithListenAddr("127.0.0.1:9000"),
	)
	require.NoError(t, err)
	assert.Equal(t, "flag-key", cfg.Archive.APIKey)
	assert.Equal(t, "flag.csv", cfg.Lifecycle.JobsFile)
	assert.Equal(t, "*/5 * * * *", cfg.Lifecycle.CronExpr)
	assert.Equal(t, "runs.db", cfg.System.HistoryDB)
	assert.Equal(t, "127.0.0.1:9000", cfg.System.ListenAddr)
}

func TestEmptyOptionKeepsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOD_API_KEY", "env-key")
	t.Setenv("HOD_JOBS_FILE", "env.csv")

	cfg, err := NewFromEnv(WithAPIKey(""), WithJobsFile(""))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Archive.APIKey)
	assert.Equal(t, "env.csv", cfg.Lifecycle.JobsFile)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing api key",
			env:     map[string]string{"HOD_JOBS_FILE": "jobs.csv"},
			wantErr: "HOD_API_KEY",
		},
		{
			name:    "missing jobs file",
			env:     map[string]string{"HOD_API_KEY": "k"},
			wantErr: "HOD_JOBS_FILE",
		},
		{
			name:    "invalid cron",
			env:     map[string]string{"HOD_API_KEY": "k", "HOD_JOBS_FILE": "jobs.csv", "CRON_EXPR": "every day"},
			wantErr: "invalid CRON_EXPR",
		},
		{
			name:    "negative idle interval",
			env:     map[string]string{"HOD_API_KEY": "k", "HOD_JOBS_FILE": "jobs.csv", "HOD_IDLE_INTERVAL": "-1"},
			wantErr: "HOD_IDLE_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigStringHidesAPIKey(t *testing.T) {
	clearEnv(t)
	cfg := Load(WithAPIKey("super-secret"), WithJobsFile("jobs.csv"))
	assert.NotContains(t, cfg.String(), "super-secret")
	assert.Contains(t, cfg.String(), "jobs=jobs.csv")
}
