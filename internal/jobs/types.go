package jobs

import (
	"context"
	"time"

	"github.com/MimeLyc/hodarchive/internal/archive"
	"github.com/MimeLyc/hodarchive/internal/request"
)

// Phase is where a job sits in its lifecycle. Only PhaseInFlight jobs are
// held in the working set.
type Phase string

const (
	PhaseSubmitting Phase = "submitting"
	PhaseInFlight   Phase = "in_flight"
	PhaseCompleted  Phase = "completed"
	PhaseErrored    Phase = "errored"
)

// Job tracks one submitted request.
type Job struct {
	Line    int
	Request request.JobRequest
	ID      string
	Phase   Phase
	Status  archive.Status
	// Err is set when tracking failed locally rather than remotely.
	Err error
}

// ErrorDetail is the local failure if there is one, else the remote error payload.
func (j *Job) ErrorDetail() string {
	if j.Err != nil {
		return j.Err.Error()
	}
	return j.Status.ErrorPayload()
}

// Archive is the remote service as seen by the manager.
type Archive interface {
	Submit(ctx context.Context, apiKey string, req request.JobRequest) (archive.Status, error)
	Poll(ctx context.Context, apiKey string, jobID string) (archive.Status, error)
}

// Summary is the final tally of a run.
type Summary struct {
	RunID     string
	Completed int
	Errors    int
	StartedAt time.Time
	EndedAt   time.Time
}

// JobsRun is every record that reached a terminal outcome.
func (s Summary) JobsRun() int {
	return s.Completed + s.Errors
}
