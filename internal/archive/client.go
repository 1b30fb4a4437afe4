package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/hodarchive/internal/errs"
	"github.com/MimeLyc/hodarchive/internal/request"
	"github.com/MimeLyc/hodarchive/pkg/log"
)

// Client talks to the archive REST API. It keeps no per-job state and never
// retries; callers decide what to do with rate limiting.
type Client struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClient validates config and builds a client. A zero DefaultRetryAfter
// is replaced with DefaultRetryAfter.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if config.DefaultRetryAfter == 0 {
		config.DefaultRetryAfter = DefaultRetryAfter
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		now:        time.Now,
	}, nil
}

// Submit creates a job for req and returns the job object from the response.
func (c *Client) Submit(ctx context.Context, apiKey string, req request.JobRequest) (Status, error) {
	payload, err := json.Marshal(newSubmitPayload(req))
	if err != nil {
		return Status{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.config.ArchiveURL, url.Values{"apiKey": {apiKey}}, payload)
	if err != nil {
		return Status{}, err
	}

	if resp.statusCode == http.StatusTooManyRequests {
		return Status{}, &RateLimitedError{
			RetryAfter: parseRetryAfter(resp.retryAfter, c.now(), c.config.DefaultRetryAfter),
		}
	}
	if err := resp.failure(); err != nil {
		return Status{}, err
	}

	job, ok := resp.body.Fields["job"].(map[string]any)
	if !ok {
		return Status{}, resp.unexpected()
	}
	status := Status{Fields: job}
	if status.JobID() == "" {
		return Status{}, resp.unexpected()
	}

	log.Debug("Submitted job %s: %s", status.JobID(), status)
	return status, nil
}

// Poll fetches the current status of jobID. A 429 comes back as a
// RequestFailedError whose RateLimited method reports true.
func (c *Client) Poll(ctx context.Context, apiKey string, jobID string) (Status, error) {
	query := url.Values{"apiKey": {apiKey}, "jobId": {jobID}}
	resp, err := c.do(ctx, http.MethodGet, c.config.ActivityURL, query, nil)
	if err != nil {
		return Status{}, err
	}

	if err := resp.failure(); err != nil {
		if err.RateLimited() {
			err.RetryAfter = parseRetryAfter(resp.retryAfter, c.now(), c.config.DefaultRetryAfter)
		}
		return Status{}, err
	}

	if resp.body.Fields == nil {
		log.Warn("Status check for job %s returned a non-JSON body, job stays in progress: %q", jobID, resp.body.Raw)
	} else {
		log.Debug("Polled job %s: %s", jobID, resp.body)
	}
	return resp.body, nil
}

type response struct {
	statusCode int
	status     string
	retryAfter string
	body       Status
}

func (r response) failure() *RequestFailedError {
	if r.statusCode >= 200 && r.statusCode < 300 {
		return nil
	}
	return &RequestFailedError{
		StatusCode: r.statusCode,
		Status:     r.status,
		Body:       r.text(),
	}
}

func (r response) unexpected() *RequestFailedError {
	return &RequestFailedError{
		StatusCode: r.statusCode,
		Status:     r.status,
		Body:       "unexpected response: " + r.text(),
	}
}

func (r response) text() string {
	return r.body.Raw
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload []byte) (response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return response{}, errs.Wrap(err, errs.ErrConfig, "invalid endpoint").WithContext("url", endpoint)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		msg := "failed to make request"
		if os.IsTimeout(err) {
			msg = "request timed out"
		}
		return response{}, errs.Wrap(err, errs.ErrNetwork, msg).WithContext("method", method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, errs.Wrap(err, errs.ErrNetwork, "failed to read response body")
	}

	return response{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		retryAfter: resp.Header.Get("Retry-After"),
		body:       decodeBody(raw),
	}, nil
}

// decodeBody keeps JSON objects as fields and anything else as raw text.
func decodeBody(raw []byte) Status {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Status{}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Status{Raw: text}
	}
	return Status{Fields: fields, Raw: text}
}
