package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/hodarchive/internal/archive"
	"github.com/MimeLyc/hodarchive/internal/config"
	"github.com/MimeLyc/hodarchive/internal/jobs"
	"github.com/MimeLyc/hodarchive/internal/persistence"
	"github.com/MimeLyc/hodarchive/internal/request"
	"github.com/MimeLyc/hodarchive/pkg/icron"
	"github.com/MimeLyc/hodarchive/pkg/log"
)

// archiveService runs the jobs file through a jobs.Manager, once or on a
// cron schedule. At most one run is in progress at a time.
type archiveService struct {
	cfg      config.Config
	cronExpr string
	cron     *cron.Cron

	client   jobs.Archive
	notifier jobs.Notifier
	store    *persistence.SQLiteStore
	sleep    jobs.Sleeper

	group *singleflight.Group
}

type Option func(*archiveService)

// WithArchive replaces the HTTP client built from the configuration.
func WithArchive(client jobs.Archive) Option {
	return func(s *archiveService) { s.client = client }
}

func WithNotifier(notifier jobs.Notifier) Option {
	return func(s *archiveService) { s.notifier = notifier }
}

// WithOutput sends the lifecycle notices to w.
func WithOutput(w io.Writer) Option {
	return func(s *archiveService) { s.notifier = jobs.NewConsoleNotifier(w) }
}

func WithSleeper(sleep jobs.Sleeper) Option {
	return func(s *archiveService) { s.sleep = sleep }
}

func NewRunnableArchiveService(
	cfg config.Config,
	cron *cron.Cron,
	opts ...Option,
) (*archiveService, error) {
	s := &archiveService{
		cfg:      cfg,
		cronExpr: cfg.Lifecycle.CronExpr,
		cron:     cron,
		notifier: jobs.NewConsoleNotifier(os.Stdout),
		sleep:    jobs.SleepContext,
		group:    &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := archive.NewClient(cfg.Archive.ClientConfig())
		if err != nil {
			return nil, err
		}
		s.client = client
	}

	if cfg.System.HistoryDB != "" {
		store, err := persistence.NewSQLiteStore(cfg.System.HistoryDB)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	return s, nil
}

// Close releases the history store.
func (s *archiveService) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// RunOnce submits and tracks every record of the jobs file. A call made while
// another run is in progress waits for it and shares its result.
func (s *archiveService) RunOnce(ctx context.Context) (jobs.Summary, error) {
	v, err, shared := s.group.Do("run", func() (any, error) {
		return s.run(ctx)
	})
	if shared {
		log.Info("Joined run already in progress")
	}
	summary, _ := v.(jobs.Summary)
	return summary, err
}

// Schedule runs the jobs file on every trigger of the cron expression until
// ctx is done. Triggers that fire during a run do not start another one.
func (s *archiveService) Schedule(ctx context.Context) error {
	log.Info("Run ArchiveService on schedule %q", s.cronExpr)

	runFunc := func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("Scheduled run failed: %v", err)
		}
		s.logNextTrigger()
	}
	if _, err := s.cron.AddFunc(s.cronExpr, runFunc); err != nil {
		return fmt.Errorf("failed to schedule %q: %w", s.cronExpr, err)
	}
	s.logNextTrigger()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

func (s *archiveService) run(ctx context.Context) (jobs.Summary, error) {
	path := s.cfg.Lifecycle.JobsFile
	log.Info("Run jobs file %s", path)

	opts := []jobs.ManagerOption{
		jobs.WithAPIKey(s.cfg.Archive.APIKey),
		jobs.WithIdleInterval(s.cfg.Lifecycle.IdleInterval),
		jobs.WithSleeper(s.sleep),
		jobs.WithSourceName(filepath.Base(path)),
	}
	if s.store != nil {
		opts = append(opts, jobs.WithStore(s.store))
	}

	manager := jobs.NewManager(s.client, s.notifier, opts...)
	return manager.Run(ctx, request.Records(path))
}

func (s *archiveService) logNextTrigger() {
	info, err := icron.GetTriggerInfo(s.cronExpr, time.Now())
	if err != nil {
		log.Warn("Failed to compute next trigger: %v", err)
		return
	}
	log.Info("Next run at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
}
