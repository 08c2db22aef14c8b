package transfer

import (
	"time"
)

// State is the lifecycle of a run. Pending and Running are transient;
// the other three are terminal and never change once reached.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress is a point-in-time snapshot of a run. Snapshots are sent
// without blocking, so a slow consumer may miss some but never stalls
// the transfer.
type Progress struct {
	JobID     string `json:"jobId"`
	Unit      string `json:"unit"`
	Processed int64  `json:"processed"`
	Committed int64  `json:"committed"`
	Failed    int64  `json:"failed"`
	// Total is the expected number of records, when TotalKnown.
	Total      int64 `json:"total,omitempty"`
	TotalKnown bool  `json:"totalKnown"`
	// UnitIndex and UnitCount locate Unit among a database-scope run.
	UnitIndex int `json:"unitIndex"`
	UnitCount int `json:"unitCount"`
}

// Percent returns processed/total in [0,100], or -1 when unknown.
func (p Progress) Percent() float64 {
	if !p.TotalKnown || p.Total <= 0 {
		return -1
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func emit(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// UnitOutcome is the result for one collection or file of a run.
type UnitOutcome struct {
	Unit      string `json:"unit"`
	Path      string `json:"path,omitempty"`
	Committed int64  `json:"committed"`
	Failed    int64  `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Outcome is the terminal report of a run.
type Outcome struct {
	JobID     string `json:"jobId"`
	State     State  `json:"state"`
	Processed int64  `json:"processed"`
	Committed int64  `json:"committed"`
	Failed    int64  `json:"failed"`

	// Errors holds at most Options.MaxErrors per-record failures;
	// ErrorsTruncated is set when more occurred.
	Errors          []*RecordError `json:"errors,omitempty"`
	ErrorsTruncated bool           `json:"errorsTruncated,omitempty"`

	Units    []UnitOutcome `json:"units,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	// Columns is the CSV header written by a collection-scope export.
	Columns        []string `json:"columns,omitempty"`
	DroppedColumns []string `json:"droppedColumns,omitempty"`

	// Err is the fatal cause of a Failed run.
	Err       error         `json:"-"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Error returns the fatal cause as text, or "".
func (o *Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
