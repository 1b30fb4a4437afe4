package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/hodarchive/internal/config"
	"github.com/MimeLyc/hodarchive/internal/errs"
	"github.com/MimeLyc/hodarchive/internal/httpapi"
	"github.com/MimeLyc/hodarchive/internal/persistence"
	"github.com/MimeLyc/hodarchive/internal/service"
	"github.com/MimeLyc/hodarchive/pkg/log"
)

// flag names
const (
	flagAPIKey   = "api-key"
	flagJobs     = "jobs"
	flagSchedule = "schedule"
	flagHistory  = "history"
	flagLimit    = "limit"
	flagAddr     = "addr"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var logFile *log.FileLogger

	root := &cobra.Command{
		Use:   "hodarchive",
		Short: "Submit History on Demand archive jobs and track them to completion",
		Long: `hodarchive reads job requests from a CSV file, submits each one to the
History on Demand archive service and polls every job until it completes or
errors. Settings come from flags, the environment and an optional .env file.`,
		Example:       "  hodarchive --jobs=sample-jobs.csv --api-key=1234",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.System.LogFile == "" {
				log.InitLogger(cfg.System.LogLevel)
				return nil
			}
			fl, err := log.NewFileLogger(cfg.System.LogFile, cfg.System.LogLevel)
			if err != nil {
				return errs.Wrap(err, errs.ErrConfig, "open log file").WithContext("path", cfg.System.LogFile)
			}
			logFile = fl
			log.SetLogger(fl.Logger)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if logFile == nil {
				return nil
			}
			return logFile.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// bare invocation keeps the --jobs/--api-key form working
			if !cmd.Flags().Changed(flagJobs) {
				return cmd.Help()
			}
			return runJobs(cmd, out)
		},
	}
	root.SetOut(out)
	addRunFlags(root)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit every job in the CSV file and wait until all of them finish",
		Example: `  hodarchive run --jobs=jobs.csv --api-key=1234
  hodarchive run --jobs=jobs.csv --schedule="0 2 * * *" --history=runs.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJobs(cmd, out)
		},
	}
	addRunFlags(runCmd)
	root.AddCommand(runCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showHistory(cmd, out)
		},
	}
	historyCmd.Flags().String(flagHistory, "", "SQLite history database (env: HOD_HISTORY_DB)")
	historyCmd.Flags().Int(flagLimit, 20, "Number of runs to show")
	root.AddCommand(historyCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history as JSON over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveHistory(cmd)
		},
	}
	serveCmd.Flags().String(flagHistory, "", "SQLite history database (env: HOD_HISTORY_DB)")
	serveCmd.Flags().String(flagAddr, "", "Listen address (env: HOD_LISTEN_ADDR, default :8080)")
	root.AddCommand(serveCmd)

	return root
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagAPIKey, "", "A valid API key registered with HoD Archive (env: HOD_API_KEY)")
	cmd.Flags().String(flagJobs, "", "Jobs CSV file (env: HOD_JOBS_FILE)")
	cmd.Flags().String(flagSchedule, "", "Re-run the jobs file on this cron schedule (env: CRON_EXPR)")
	cmd.Flags().String(flagHistory, "", "Record runs in this SQLite database (env: HOD_HISTORY_DB)")
}

func runJobs(cmd *cobra.Command, out io.Writer) error {
	apiKey, _ := cmd.Flags().GetString(flagAPIKey)
	jobsFile, _ := cmd.Flags().GetString(flagJobs)
	schedule, _ := cmd.Flags().GetString(flagSchedule)
	history, _ := cmd.Flags().GetString(flagHistory)

	cfg, err := config.NewFromEnv(
		config.WithAPIKey(apiKey),
		config.WithJobsFile(jobsFile),
		config.WithCronExpr(schedule),
		config.WithHistoryDB(history),
	)
	if err != nil {
		return errs.Wrap(err, errs.ErrConfig, "invalid configuration")
	}
	log.Debug("Configuration: %s", cfg)

	svc, err := service.NewRunnableArchiveService(*cfg, cron.New(), service.WithOutput(out))
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("Failed to close history database: %v", err)
		}
	}()

	ctx := cmd.Context()
	if cfg.Lifecycle.CronExpr != "" {
		return svc.Schedule(ctx)
	}
	_, err = svc.RunOnce(ctx)
	return err
}

func openHistory(cfg *config.Config) (*persistence.SQLiteStore, error) {
	if cfg.System.HistoryDB == "" {
		return nil, errs.New(errs.ErrConfig, "history database is not configured (--history or HOD_HISTORY_DB)")
	}
	return persistence.NewSQLiteStore(cfg.System.HistoryDB)
}

func serveHistory(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString(flagHistory)
	addr, _ := cmd.Flags().GetString(flagAddr)

	cfg := config.Load(config.WithHistoryDB(path), config.WithListenAddr(addr))
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := httpapi.NewServer(store)
	serveErr := make(chan error, 1)
	log.Info("Serving run history on %s", cfg.System.ListenAddr)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.System.ListenAddr)
	}()

	ctx := cmd.Context()
	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(err, errs.ErrNetwork, "serve history").WithContext("addr", cfg.System.ListenAddr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down history server: %v", err)
	}
	return ctx.Err()
}

func showHistory(cmd *cobra.Command, out io.Writer) error {
	path, _ := cmd.Flags().GetString(flagHistory)
	limit, _ := cmd.Flags().GetInt(flagLimit)

	store, err := openHistory(config.Load(config.WithHistoryDB(path)))
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return errs.Wrap(err, errs.ErrStore, "list runs")
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSOURCE\tSTARTED\tDURATION\tCOMPLETED\tERRORS")
	for _, run := range runs {
		duration := "running"
		if run.Finished() {
			duration = run.EndedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID,
			run.Source,
			run.StartedAt.Local().Format(time.DateTime),
			duration,
			run.Completed,
			run.Errors)
	}
	return w.Flush()
}
