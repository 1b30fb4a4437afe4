package jobs

import (
	"context"
	"errors"
	"iter"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/hodarchive/internal/archive"
	"github.com/MimeLyc/hodarchive/internal/errs"
	"github.com/MimeLyc/hodarchive/internal/request"
	"github.com/MimeLyc/hodarchive/pkg/log"
)

const DefaultIdleInterval = 10 * time.Second

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-time Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Manager submits records one at a time and tracks them until each one
// completes or errors. A Manager is driven by a single goroutine; Run must not
// be called concurrently.
type Manager struct {
	archive  Archive
	notifier Notifier
	store    Store
	sleep    Sleeper
	now      func() time.Time
	apiKey   string
	idle     time.Duration
	source   string

	working *WorkingSet
	summary Summary
}

type ManagerOption func(*Manager)

func WithAPIKey(apiKey string) ManagerOption {
	return func(m *Manager) { m.apiKey = apiKey }
}

func WithSleeper(sleep Sleeper) ManagerOption {
	return func(m *Manager) { m.sleep = sleep }
}

// WithIdleInterval sets the wait between sweeps once every record is submitted.
func WithIdleInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idle = d }
}

func WithStore(store Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithSourceName labels runs in the history store.
func WithSourceName(name string) ManagerOption {
	return func(m *Manager) { m.source = name }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(client Archive, notifier Notifier, opts ...ManagerOption) *Manager {
	if notifier == nil {
		notifier = NewConsoleNotifier(os.Stdout)
	}
	m := &Manager{
		archive:  client,
		notifier: notifier,
		sleep:    SleepContext,
		now:      time.Now,
		idle:     DefaultIdleInterval,
		working:  NewWorkingSet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InFlight lists the jobs currently tracked, oldest first.
func (m *Manager) InFlight() []*Job {
	return m.working.Jobs()
}

// Summary is the tally of the current or most recent run.
func (m *Manager) Summary() Summary {
	return m.summary
}

// Run drives records to completion. Each accepted submission is followed by
// one sweep of the working set; a rejected one is counted and not swept. After the last record the working set is swept
// every idle interval until it is empty.
//
// Malformed rows are counted as errors and skipped. Any other record error,
// and context cancellation, stops the run; the partial summary is returned
// with the error and jobs still running remotely are abandoned.
func (m *Manager) Run(ctx context.Context, records iter.Seq2[request.Record, error]) (Summary, error) {
	m.begin(ctx)

	for rec, err := range records {
		if err != nil {
			if rec.Line > 0 && errs.IsErrorType(err, errs.ErrMalformedRecord) {
				m.skip(ctx, rec.Line, err)
				continue
			}
			return m.finish(ctx), err
		}
		accepted, err := m.submit(ctx, rec)
		if err != nil {
			return m.finish(ctx), err
		}
		if !accepted {
			continue
		}
		if err := m.Sweep(ctx); err != nil {
			return m.finish(ctx), err
		}
	}

	log.Info("All records submitted, waiting for %d job(s)", m.working.Len())
	for m.working.Len() > 0 {
		if err := m.Sweep(ctx); err != nil {
			return m.finish(ctx), err
		}
		if m.working.Len() == 0 {
			break
		}
		if err := m.sleep(ctx, m.idle); err != nil {
			return m.finish(ctx), err
		}
	}

	summary := m.finish(ctx)
	m.notifier.Finished(summary)
	return summary, nil
}

// Sweep polls every job that is in the working set when the sweep starts,
// oldest first. Terminal jobs are dropped and counted; the rest go to the back
// so they are not polled twice in one pass.
//
// A poll that fails counts the job as an error and the sweep goes on. A
// rate-limited poll puts the job back at the front, ends the sweep and waits
// for the delay the service asked for.
func (m *Manager) Sweep(ctx context.Context) error {
	for range m.working.Len() {
		job, ok := m.working.PopFront()
		if !ok {
			return nil
		}

		status, err := m.archive.Poll(ctx, m.apiKey, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				m.working.PushFront(job)
				return ctx.Err()
			}
			if wait, limited := archive.AsRateLimited(err); limited {
				m.working.PushFront(job)
				log.Warn("Rate limited while polling job %s, pausing for %s", job.ID, wait)
				return m.sleep(ctx, wait)
			}
			log.Error("Failed to poll job %s: %v", job.ID, err)
			job.Err = err
			m.fail(ctx, job)
			continue
		}

		job.Status = status
		if !m.settle(ctx, job) {
			m.working.PushBack(job)
		}
	}
	return nil
}

// submit reports whether the service accepted rec. Accepted jobs always enter
// the working set, even when the submit response already looks terminal; the
// next sweep decides their outcome.
func (m *Manager) submit(ctx context.Context, rec request.Record) (bool, error) {
	job := &Job{Line: rec.Line, Request: rec.Request, Phase: PhaseSubmitting}

	status, err := m.submitWithRetry(ctx, rec.Request)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Debug("Submission of line %d failed: %v", rec.Line, err)
		job.Phase = PhaseErrored
		job.Err = err
		m.summary.Errors++
		m.notifier.SubmitFailed(rec.Line, err)
		m.record(ctx, job, EventErrored)
		return false, nil
	}

	job.ID = status.JobID()
	job.Status = status
	job.Phase = PhaseInFlight
	m.notifier.Submitted(job)
	m.record(ctx, job, EventSubmitted)
	m.working.PushBack(job)
	return true, nil
}

// submitWithRetry retries for as long as the service keeps rate limiting,
// waiting exactly the delay it suggests each time.
func (m *Manager) submitWithRetry(ctx context.Context, req request.JobRequest) (archive.Status, error) {
	for {
		status, err := m.archive.Submit(ctx, m.apiKey, req)
		var limited *archive.RateLimitedError
		if !errors.As(err, &limited) {
			return status, err
		}
		log.Warn("Rate limited on submission, retrying in %s", limited.RetryAfter)
		if err := m.sleep(ctx, limited.RetryAfter); err != nil {
			return archive.Status{}, err
		}
	}
}

// settle retires job if its status is terminal.
func (m *Manager) settle(ctx context.Context, job *Job) bool {
	if !job.Status.Terminal() {
		return false
	}
	if job.Status.State() == archive.StateError {
		m.fail(ctx, job)
		return true
	}
	job.Phase = PhaseCompleted
	m.summary.Completed++
	m.notifier.Completed(job)
	m.record(ctx, job, EventCompleted)
	return true
}

func (m *Manager) fail(ctx context.Context, job *Job) {
	job.Phase = PhaseErrored
	m.summary.Errors++
	m.notifier.Errored(job)
	m.record(ctx, job, EventErrored)
}

func (m *Manager) skip(ctx context.Context, line int, err error) {
	m.summary.Errors++
	m.notifier.Skipped(line, err)
	m.recordEvent(ctx, Event{Line: line, Kind: EventSkipped, Detail: err.Error()})
}

func (m *Manager) begin(ctx context.Context) {
	m.working = NewWorkingSet()
	m.summary = Summary{RunID: uuid.NewString(), StartedAt: m.now()}
	log.Info("Starting run %s", m.summary.RunID)

	if m.store == nil {
		return
	}
	if err := m.store.BeginRun(ctx, m.summary.RunID, m.source, m.summary.StartedAt); err != nil {
		log.Error("Failed to record start of run %s: %v", m.summary.RunID, err)
	}
}

func (m *Manager) finish(ctx context.Context) Summary {
	m.summary.EndedAt = m.now()
	log.Info("Run %s finished: %d completed, %d errors, %d still in flight",
		m.summary.RunID, m.summary.Completed, m.summary.Errors, m.working.Len())

	if m.store != nil {
		if err := m.store.FinishRun(context.WithoutCancel(ctx), m.summary); err != nil {
			log.Error("Failed to record end of run %s: %v", m.summary.RunID, err)
		}
	}
	return m.summary
}

func (m *Manager) record(ctx context.Context, job *Job, kind EventKind) {
	event := Event{Line: job.Line, JobID: job.ID, Kind: kind}
	switch kind {
	case EventCompleted:
		event.RowsReturned = job.Status.RowsReturned()
		event.Usage = job.Status.Usage()
	case EventErrored:
		event.Detail = job.ErrorDetail()
	}
	m.recordEvent(ctx, event)
}

func (m *Manager) recordEvent(ctx context.Context, event Event) {
	if m.store == nil {
		return
	}
	event.RunID = m.summary.RunID
	event.At = m.now()
	if err := m.store.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		log.Error("Failed to record %s event for line %d: %v", event.Kind, event.Line, err)
	}
}
