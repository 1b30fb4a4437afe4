package archive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/MimeLyc/hodarchive/internal/request"
)

// Job states reported by the archive service.
const (
	StateComplete = "complete"
	StateError    = "error"
)

// Config holds the archive endpoints and client defaults.
//
// ArchiveURL: create-job endpoint
// ActivityURL: job status endpoint
// Timeout: HTTP client timeout, zero leaves the transport default in place
// DefaultRetryAfter: wait used when a 429 carries no Retry-After header
type Config struct {
	ArchiveURL        string
	ActivityURL       string
	Timeout           time.Duration
	DefaultRetryAfter time.Duration
}

const (
	DefaultArchiveURL  = "https://api.weather.com/v3/wx/hod/r1/archive"
	DefaultActivityURL = "https://api.weather.com/v3/wx/hod/r1/activity"
	DefaultRetryAfter  = 10 * time.Second
)

func (c *Config) Validate() error {
	if c.ArchiveURL == "" {
		return fmt.Errorf("archive URL is required")
	}
	if c.ActivityURL == "" {
		return fmt.Errorf("activity URL is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.DefaultRetryAfter < 0 {
		return fmt.Errorf("default retry-after must not be negative")
	}
	return nil
}

// submitPayload is the create-job request body.
type submitPayload struct {
	Location        string `json:"location"`
	StartDateTime   string `json:"startDateTime"`
	EndDateTime     string `json:"endDateTime"`
	Format          string `json:"format"`
	Units           string `json:"units"`
	ResultsLocation string `json:"resultsLocation"`
}

func newSubmitPayload(req request.JobRequest) submitPayload {
	return submitPayload{
		Location:        req.Location,
		StartDateTime:   req.StartDateTime,
		EndDateTime:     req.EndDateTime,
		Format:          req.Format,
		Units:           req.Units,
		ResultsLocation: req.ResultsLocation,
	}
}

// Status is a job status snapshot. Fields holds the decoded JSON object;
// when the service answered with something that is not a JSON object,
// Fields is nil and Raw carries the body text.
type Status struct {
	Fields map[string]any
	Raw    string
}

func (s Status) JobID() string {
	return s.str("jobId")
}

func (s Status) State() string {
	return s.str("jobStatus")
}

// Terminal reports whether the job reached complete or error.
func (s Status) Terminal() bool {
	state := s.State()
	return state == StateComplete || state == StateError
}

func (s Status) RowsReturned() int64 {
	return s.num("rowsReturned")
}

func (s Status) Usage() int64 {
	return s.num("usage")
}

// ErrorPayload renders the error field, or the raw body when there is none.
func (s Status) ErrorPayload() string {
	v, ok := s.Fields["error"]
	if !ok || v == nil {
		return s.Raw
	}
	if str, ok := v.(string); ok {
		return str
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (s Status) str(key string) string {
	v, ok := s.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func (s Status) num(key string) int64 {
	switch v := s.Fields[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (s Status) String() string {
	if s.Fields == nil {
		return s.Raw
	}
	b, err := json.Marshal(s.Fields)
	if err != nil {
		return fmt.Sprint(s.Fields)
	}
	return string(b)
}
