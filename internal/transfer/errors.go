package transfer

import (
	"errors"
	"fmt"
	"strings"

	"doctransfer/internal/document"
)

// ErrDestinationBusy is returned when another run already writes to the
// same destination.
var ErrDestinationBusy = errors.New("destination is busy with another transfer")

// ErrCancelled is the cause recorded on a run stopped by its token.
var ErrCancelled = errors.New("transfer cancelled")

// ErrorKind tells a failure that aborts the run from one that skips a record.
type ErrorKind string

const (
	Fatal     ErrorKind = "fatal"
	PerRecord ErrorKind = "record"
)

// RecordError describes one failed record. Offset is the record's
// position in its unit's stream; Line is set for line-based inputs.
type RecordError struct {
	Kind   ErrorKind    `json:"kind"`
	Unit   string       `json:"unit"`
	Offset int64        `json:"offset"`
	Line   int          `json:"line,omitempty"`
	Key    document.Key `json:"key,omitempty"`
	Err    error        `json:"-"`
	// Message is Err's text, kept for serialization.
	Message string `json:"message"`
}

// SkipRecord marks err as confined to one record. Cursors return it for
// documents they cannot decode; the pipeline counts it and reads on.
func SkipRecord(err error) error {
	return newRecordError(PerRecord, "", 0, err)
}

func newRecordError(kind ErrorKind, unit string, offset int64, err error) *RecordError {
	return &RecordError{Kind: kind, Unit: unit, Offset: offset, Err: err, Message: err.Error()}
}

func (e *RecordError) Error() string {
	var b strings.Builder
	b.WriteString(e.Unit)
	switch {
	case e.Line > 0:
		fmt.Fprintf(&b, " line %d", e.Line)
	default:
		fmt.Fprintf(&b, " record %d", e.Offset)
	}
	if e.Key != "" && !strings.HasPrefix(string(e.Key), "index:") {
		fmt.Fprintf(&b, " (_id %s)", e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *RecordError) Unwrap() error { return e.Err }

// errorLog keeps the first max record errors and counts the rest.
type errorLog struct {
	max       int
	errs      []*RecordError
	last      *RecordError
	count     int64
	truncated bool
}

func (l *errorLog) add(e *RecordError) {
	l.count++
	l.last = e
	if len(l.errs) < l.max {
		l.errs = append(l.errs, e)
		return
	}
	l.truncated = true
}
