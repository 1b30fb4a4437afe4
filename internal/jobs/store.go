package jobs

import (
	"context"
	"time"
)

// EventKind names a lifecycle event written to the history store.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventCompleted EventKind = "completed"
	EventErrored   EventKind = "errored"
	EventSkipped   EventKind = "skipped"
)

// Event is one lifecycle transition of one input row.
type Event struct {
	RunID        string    `json:"run_id"`
	Line         int       `json:"line"`
	JobID        string    `json:"job_id,omitempty"`
	Kind         EventKind `json:"kind"`
	RowsReturned int64     `json:"rows_returned,omitempty"`
	Usage        int64     `json:"usage,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// Store keeps an append-only history of runs for reporting. It is never read
// back to resume tracking.
type Store interface {
	BeginRun(ctx context.Context, runID string, source string, startedAt time.Time) error
	RecordEvent(ctx context.Context, event Event) error
	FinishRun(ctx context.Context, summary Summary) error
}
