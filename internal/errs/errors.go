package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/hodarchive/pkg/log"
)

type ErrorType int

const (
	ErrMalformedRecord ErrorType = iota
	ErrSourceUnavailable
	ErrNetwork
	ErrConfig
	ErrStore
	ErrUnknown
)

// Error is the typed error shared by the input, transport and storage layers.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	e := New(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrMalformedRecord:
		return "MalformedRecord"
	case ErrSourceUnavailable:
		return "SourceUnavailable"
	case ErrNetwork:
		return "Network"
	case ErrConfig:
		return "Config"
	case ErrStore:
		return "Store"
	default:
		return "Unknown"
	}
}

// IsErrorType reports whether any error in err's chain is an *Error of errorType.
func IsErrorType(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// Handler logs fatal errors together with a hint for the operator.
type Handler struct{}

func (Handler) Handle(err error) {
	var e *Error
	if !errors.As(err, &e) {
		log.Error("%v", err)
		return
	}
	log.Error("%v\n advice: %s", err, Advice(e))
}

func Advice(err *Error) string {
	switch err.Type {
	case ErrMalformedRecord:
		return "Check that the CSV header has startDateTime, endDateTime, location, format, units and resultsLocation, and that every row fills all of them"
	case ErrSourceUnavailable:
		return "Check that the jobs file exists, is readable and is valid CSV"
	case ErrNetwork:
		return "Check network connectivity to the archive service"
	case ErrConfig:
		return "Check flags and environment variables (HOD_API_KEY, HOD_ARCHIVE_URL, HOD_ACTIVITY_URL)"
	case ErrStore:
		return "Check that the history database path is writable"
	default:
		return "Review the error details above"
	}
}
