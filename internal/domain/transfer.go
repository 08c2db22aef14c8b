package domain

import "time"

// TriggerType decides when a saved job runs.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerSchedule  TriggerType = "schedule"   // TriggerConfig is a cron spec
	TriggerFileWatch TriggerType = "file_watch" // TriggerConfig is a file path
)

// SavedJob is a named transfer job kept for reuse. JobJSON holds the
// serialized transfer.Job.
type SavedJob struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	JobJSON       string      `json:"jobJson"`
	TriggerType   TriggerType `json:"triggerType"`
	TriggerConfig string      `json:"triggerConfig"`
	Enabled       bool        `json:"enabled"`
	LastRunAt     *time.Time  `json:"lastRunAt,omitempty"`
	LastStatus    string      `json:"lastStatus"`
	LastError     string      `json:"lastError"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// TransferRun is the persisted record of one execution.
type TransferRun struct {
	ID         string `json:"id"`
	JobID      string `json:"jobId"`
	SavedJobID string `json:"savedJobId,omitempty"`
	Kind       string `json:"kind"`
	// Destination is the key runs are serialized on (see transfer.Job.DestinationKey).
	Destination string     `json:"destination"`
	State       string     `json:"state"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Processed   int64      `json:"processed"`
	Committed   int64      `json:"committed"`
	Failed      int64      `json:"failed"`
	Error       string     `json:"error"`
	// OutcomeJSON is the full serialized outcome.
	OutcomeJSON string `json:"outcomeJson"`
}

// SavedJobStore persists saved jobs.
type SavedJobStore interface {
	CreateJob(j *SavedJob) error
	GetJob(id string) (*SavedJob, error)
	ListJobs() ([]SavedJob, error)
	// ListTriggeredJobs returns enabled jobs with a schedule or file_watch trigger.
	ListTriggeredJobs() ([]SavedJob, error)
	UpdateJob(j *SavedJob) error
	UpdateJobStatus(id, status, errMsg string) error
	DeleteJob(id string) error
}

// TransferRunStore persists run history.
type TransferRunStore interface {
	CreateRun(r *TransferRun) error
	FinishRun(r *TransferRun) error
	// ListRuns returns the newest runs first. An empty savedJobID lists all runs.
	ListRuns(savedJobID string, limit int) ([]TransferRun, error)
}
