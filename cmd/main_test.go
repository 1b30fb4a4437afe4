package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobsCSV = `startDateTime,endDateTime,location,format,units,resultsLocation
2022-01-01,2022-01-02,"40,-74",json,e,s3://bucket/a
2022-01-03,2022-01-04,"41,-73",csv,m,s3://bucket/b
`

// setupArchive points the client at a server that completes every job on
// its first poll.
func setupArchive(t *testing.T) *atomic.Int64 {
	t.Helper()
	for _, key := range []string{"HOD_API_KEY", "HOD_JOBS_FILE", "HOD_HISTORY_DB", "CRON_EXPR", "LOG_FILE", "HOD_LISTEN_ADDR", "HOD_TIMEOUT", "HOD_RETRY_AFTER"} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("HOD_IDLE_INTERVAL", "0")

	var submits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/archive":
			n := submits.Add(1)
			fmt.Fprintf(w, `{"job":{"jobId":"J%d","jobStatus":"running"}}`, n)
		case "/activity":
			fmt.Fprintf(w, `{"jobId":%q,"jobStatus":"complete","rowsReturned":24,"usage":2}`, r.URL.Query().Get("jobId"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	t.Setenv("HOD_ARCHIVE_URL", server.URL+"/archive")
	t.Setenv("HOD_ACTIVITY_URL", server.URL+"/activity")
	return &submits
}

func writeJobs(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.csv")
	require.NoError(t, os.WriteFile(path, []byte(jobsCSV), 0o644))
	return path
}

func TestExecute_RootFlags(t *testing.T) {
	submits := setupArchive(t)
	var out bytes.Buffer

	code := execute(context.Background(), []string{"--jobs=" + writeJobs(t), "--api-key=1234"}, &out)

	assert.Equal(t, exitOK, code)
	assert.Equal(t, int64(2), submits.Load())
	assert.Contains(t, out.String(), "Job (J1) submitted from line 1.")
	assert.Contains(t, out.String(), "Job (J2) complete. rowsReturned=24 usage=2")
	assert.Contains(t, out.String(), "Jobs run: 2, Errors: 0")
}

func TestExecute_RunAndHistory(t *testing.T) {
	setupArchive(t)
	db := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	code := execute(context.Background(), []string{"run", "--jobs", writeJobs(t), "--api-key", "1234", "--history", db}, &out)
	require.Equal(t, exitOK, code, out.String())

	out.Reset()
	code = execute(context.Background(), []string{"history", "--history", db}, &out)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "SOURCE")
	assert.Contains(t, out.String(), "jobs.csv")
}

func TestExecute_APIKeyFromEnv(t *testing.T) {
	submits := setupArchive(t)
	t.Setenv("HOD_API_KEY", "from-env")
	t.Setenv("HOD_JOBS_FILE", writeJobs(t))

	var out bytes.Buffer
	code := execute(context.Background(), []string{"run"}, &out)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, int64(2), submits.Load())
}

func TestExecute_MissingAPIKey(t *testing.T) {
	submits := setupArchive(t)
	var out bytes.Buffer

	code := execute(context.Background(), []string{"run", "--jobs", writeJobs(t)}, &out)
	assert.Equal(t, exitError, code)
	assert.Zero(t, submits.Load())
}

func TestExecute_MissingJobsFile(t *testing.T) {
	setupArchive(t)
	var out bytes.Buffer

	missing := filepath.Join(t.TempDir(), "absent.csv")
	code := execute(context.Background(), []string{"--jobs", missing, "--api-key", "1234"}, &out)
	assert.Equal(t, exitError, code)
	assert.NotContains(t, out.String(), "Results:")
}

func TestExecute_Canceled(t *testing.T) {
	setupArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	code := execute(ctx, []string{"--jobs", writeJobs(t), "--api-key", "1234"}, &out)
	assert.Equal(t, exitCanceled, code)
	assert.Contains(t, out.String(), "\nOperation canceled\n")
}

func TestExecute_HistoryRequiresDatabase(t *testing.T) {
	setupArchive(t)
	var out bytes.Buffer

	code := execute(context.Background(), []string{"history"}, &out)
	assert.Equal(t, exitError, code)
}

func TestExecute_EmptyHistory(t *testing.T) {
	setupArchive(t)
	var out bytes.Buffer

	code := execute(context.Background(), []string{"history", "--history", filepath.Join(t.TempDir(), "runs.db")}, &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "No runs recorded.")
}

func TestExecute_NoArgsPrintsHelp(t *testing.T) {
	setupArchive(t)
	var out bytes.Buffer

	code := execute(context.Background(), nil, &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "hodarchive")
	assert.Contains(t, out.String(), "history")
}

func TestExecute_ServeStopsOnCancel(t *testing.T) {
	setupArchive(t)
	t.Setenv("HOD_LISTEN_ADDR", "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	code := execute(ctx, []string{"serve", "--history", filepath.Join(t.TempDir(), "runs.db")}, &out)
	assert.Equal(t, exitCanceled, code)
}
