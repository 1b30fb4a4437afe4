package archive

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitedError is returned by Submit when the service answers 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RequestFailedError is any other non-success answer. Body is the raw
// response text.
type RequestFailedError struct {
	StatusCode int
	Status     string
	Body       string
	// RetryAfter is set on 429 answers to a status check.
	RetryAfter time.Duration
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed with status %s: %s", e.statusText(), e.Body)
}

// RateLimited reports whether the service asked the caller to slow down.
func (e *RequestFailedError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Reason is the HTTP reason phrase, e.g. "Internal Server Error".
func (e *RequestFailedError) Reason() string {
	if reason, ok := strings.CutPrefix(e.Status, strconv.Itoa(e.StatusCode)+" "); ok {
		return reason
	}
	if e.Status != "" {
		return e.Status
	}
	return http.StatusText(e.StatusCode)
}

func (e *RequestFailedError) statusText() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Reason())
}

// AsRateLimited extracts the suggested wait from either rate-limit shape.
func AsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var rf *RequestFailedError
	if errors.As(err, &rf) && rf.RateLimited() {
		return rf.RetryAfter, true
	}
	return 0, false
}

// parseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date.
func parseRetryAfter(value string, now time.Time, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
