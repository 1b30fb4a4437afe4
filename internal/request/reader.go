package request

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"golang.org/x/text/cases"

	"github.com/MimeLyc/hodarchive/internal/errs"
)

// NormalizeKey folds case and drops '_', '-' and ' ' so that
// "Start_Date_Time", "start-date-time" and "START DATE TIME" compare equal.
func NormalizeKey(key string) string {
	key = strings.NewReplacer("_", "", "-", "", " ", "", "\ufeff", "").Replace(key)
	return cases.Fold().String(strings.TrimSpace(key))
}

// Reader yields records from a jobs CSV one row at a time.
type Reader struct {
	closer  io.Closer
	csv     *csv.Reader
	columns [fieldCount]int
	line    int
}

// Open opens path and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrSourceUnavailable, "open jobs file").
			WithContext("path", path)
	}

	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		var e *errs.Error
		if errors.As(err, &e) {
			e.WithContext("path", path)
		}
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header from src. The caller keeps ownership of src
// unless it arrives through Open.
func NewReader(src io.Reader) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.New(errs.ErrMalformedRecord, "jobs file has no header")
		}
		return nil, errs.Wrap(err, errs.ErrSourceUnavailable, "read header")
	}

	r := &Reader{csv: cr}
	for i := range r.columns {
		r.columns[i] = -1
	}
	for i, name := range header {
		if f, ok := requiredFields[NormalizeKey(name)]; ok {
			r.columns[f] = i
		}
	}

	var missing []string
	for f, col := range r.columns {
		if col < 0 {
			missing = append(missing, field(f).String())
		}
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.ErrMalformedRecord, "header is missing required columns").
			WithContext("missing", strings.Join(missing, ","))
	}
	return r, nil
}

// Next returns the next record, or io.EOF when the file is exhausted.
// A row that lacks a required field yields an ErrMalformedRecord error and
// does not stop the reader; the following call moves on to the next row.
func (r *Reader) Next() (Record, error) {
	row, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		r.line++
		return Record{Line: r.line}, errs.Wrap(err, errs.ErrSourceUnavailable, "read jobs file").
			WithContext("line", r.line)
	}
	r.line++

	rec := Record{Line: r.line}
	for f, col := range r.columns {
		if col >= len(row) {
			return Record{Line: r.line}, errs.New(errs.ErrMalformedRecord, fmt.Sprintf("missing %s", field(f))).
				WithContext("line", r.line)
		}
		rec.Request.set(field(f), row[col])
	}
	return rec, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Records iterates over the jobs file at path. The file stays open only for
// the duration of the loop and is closed when the loop ends, breaks, or after
// a fatal error has been yielded. Malformed rows are yielded as errors and
// iteration continues.
func Records(path string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		r, err := Open(path)
		if err != nil {
			yield(Record{}, err)
			return
		}
		defer r.Close()

		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) {
				return
			}
			if err != nil && !errs.IsErrorType(err, errs.ErrMalformedRecord) {
				return
			}
		}
	}
}
