package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/hodarchive/internal/errs"
	"github.com/MimeLyc/hodarchive/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunRecord is one run as stored in the history database.
type RunRecord struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Completed int       `json:"completed"`
	Errors    int       `json:"errors"`
}

// Finished reports whether the run reached its final tally.
func (r RunRecord) Finished() bool {
	return !r.EndedAt.IsZero()
}

// SQLiteStore is an append-only run history backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.New(errs.ErrConfig, "db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(err, errs.ErrStore, "create db directory").WithContext("path", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrStore, "open sqlite").WithContext("path", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.ErrStore, "initialize history database").WithContext("path", path)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer of a migration file name,
// "001_init.sql" → 1.
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0
	}
	if end < 0 {
		end = len(name)
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

func (s *SQLiteStore) BeginRun(ctx context.Context, runID string, source string, startedAt time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, source, started_at) VALUES (?, ?, ?)`,
		runID,
		source,
		startedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, event jobs.Event) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_events (run_id, line, job_id, kind, rows_returned, usage, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.Line,
		event.JobID,
		string(event.Kind),
		event.RowsReturned,
		event.Usage,
		event.Detail,
		event.At.UTC(),
	)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, summary jobs.Summary) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET ended_at = ?, completed = ?, errors = ? WHERE id = ?`,
		summary.EndedAt.UTC(),
		summary.Completed,
		summary.Errors,
		summary.RunID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", summary.RunID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, started_at, ended_at, completed, errors
		 FROM runs
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]RunRecord, 0)
	for rows.Next() {
		var item RunRecord
		var ended sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.StartedAt,
			&ended,
			&item.Completed,
			&item.Errors,
		); err != nil {
			return nil, err
		}
		if ended.Valid {
			item.EndedAt = ended.Time
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// LoadEvents returns the events of one run in the order they were recorded.
func (s *SQLiteStore) LoadEvents(ctx context.Context, runID string) ([]jobs.Event, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, line, job_id, kind, rows_returned, usage, detail, recorded_at
		 FROM job_events
		 WHERE run_id = ?
		 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.Event, 0)
	for rows.Next() {
		var item jobs.Event
		var kind string
		if err := rows.Scan(
			&item.RunID,
			&item.Line,
			&item.JobID,
			&kind,
			&item.RowsReturned,
			&item.Usage,
			&item.Detail,
			&item.At,
		); err != nil {
			return nil, err
		}
		item.Kind = jobs.EventKind(kind)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
