package jobs

import (
	"errors"
	"fmt"
	"io"

	"github.com/MimeLyc/hodarchive/internal/archive"
)

// Notifier receives lifecycle events as they happen.
type Notifier interface {
	Submitted(job *Job)
	Completed(job *Job)
	Errored(job *Job)
	SubmitFailed(line int, err error)
	Skipped(line int, err error)
	Finished(summary Summary)
}

// ConsoleNotifier prints the operator-facing report lines.
type ConsoleNotifier struct {
	w io.Writer
}

func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{w: w}
}

func (n *ConsoleNotifier) Submitted(job *Job) {
	fmt.Fprintf(n.w, "Job (%s) submitted from line %d.\n", job.ID, job.Line)
}

func (n *ConsoleNotifier) Completed(job *Job) {
	fmt.Fprintf(n.w, "Job (%s) complete. rowsReturned=%d usage=%d\n",
		job.ID, job.Status.RowsReturned(), job.Status.Usage())
}

func (n *ConsoleNotifier) Errored(job *Job) {
	fmt.Fprintf(n.w, "Job (%s) error. %s\n", job.ID, job.ErrorDetail())
}

// SubmitFailed prints "Error (code - reason): body" for remote rejections.
func (n *ConsoleNotifier) SubmitFailed(line int, err error) {
	var rf *archive.RequestFailedError
	if errors.As(err, &rf) {
		fmt.Fprintf(n.w, "Error (%d - %s): %s\n", rf.StatusCode, rf.Reason(), rf.Body)
		return
	}
	fmt.Fprintf(n.w, "Error submitting line %d: %v\n", line, err)
}

func (n *ConsoleNotifier) Skipped(line int, err error) {
	fmt.Fprintf(n.w, "Line %d skipped: %v\n", line, err)
}

func (n *ConsoleNotifier) Finished(summary Summary) {
	fmt.Fprintf(n.w, "\nResults:\n\nJobs run: %d, Errors: %d\n", summary.JobsRun(), summary.Errors)
}
