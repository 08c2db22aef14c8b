package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingHeader is returned by the CSV decoder for input without a header row.
var ErrMissingHeader = errors.New("csv input has no header row")

// RecordError is a failure confined to one record.
type RecordError struct {
	// Index is the zero-based ordinal of the record in the stream,
	// counting bad records.
	Index int64
	// Line is the 1-based input line, when the format has lines.
	Line int
	// Offset is the byte offset, when the format reports one.
	Offset int64
	Err    error
}

func (e *RecordError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("record %d (line %d): %v", e.Index, e.Line, e.Err)
	case e.Offset > 0:
		return fmt.Sprintf("record %d (offset %d): %v", e.Index, e.Offset, e.Err)
	default:
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
}

func (e *RecordError) Unwrap() error { return e.Err }

// BatchError lists the documents of one batch that could not be encoded.
// Index is the position inside the batch.
type BatchError struct {
	Failures []RecordError
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	parts := make([]string, 0, 3)
	for i, f := range e.Failures {
		if i == 3 {
			break
		}
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d records failed to encode: %s", len(e.Failures), strings.Join(parts, "; "))
}

// IsRecordError reports whether err is confined to one record.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}
