package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"doctransfer/internal/domain"
)

// TransferStore implements persistence for saved jobs and run history.
type TransferStore struct {
	db *DB
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(db *DB) *TransferStore {
	return &TransferStore{db: db}
}

// ── Saved jobs ─────────────────────────────────────────────

const savedJobColumns = `id, name, job_json, trigger_type, trigger_config, enabled,
	last_run_at, last_status, last_error, created_at, updated_at`

func (s *TransferStore) CreateJob(job *domain.SavedJob) error {
	now := time.Now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.TriggerType == "" {
		job.TriggerType = domain.TriggerManual
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.conn.Exec(
		`INSERT INTO saved_jobs (id, name, job_json, trigger_type, trigger_config, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.JobJSON, job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert saved job: %w", err)
	}
	return nil
}

func (s *TransferStore) GetJob(id string) (*domain.SavedJob, error) {
	row := s.db.conn.QueryRow(`SELECT `+savedJobColumns+` FROM saved_jobs WHERE id = ?`, id)
	job, err := scanSavedJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saved job not found: %s", id)
	}
	return job, err
}

func (s *TransferStore) UpdateJob(job *domain.SavedJob) error {
	job.UpdatedAt = time.Now()
	_, err := s.db.conn.Exec(
		`UPDATE saved_jobs SET name=?, job_json=?, trigger_type=?, trigger_config=?, enabled=?, updated_at=?
		 WHERE id=?`,
		job.Name, job.JobJSON, job.TriggerType, job.TriggerConfig, job.Enabled, job.UpdatedAt, job.ID,
	)
	return err
}

func (s *TransferStore) UpdateJobStatus(id, status, errMsg string) error {
	now := time.Now()
	_, err := s.db.conn.Exec(
		`UPDATE saved_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		now, status, errMsg, now, id,
	)
	return err
}

func (s *TransferStore) DeleteJob(id string) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM transfer_runs WHERE saved_job_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM saved_jobs WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *TransferStore) ListJobs() ([]domain.SavedJob, error) {
	return s.listJobs(`SELECT ` + savedJobColumns + ` FROM saved_jobs ORDER BY created_at ASC`)
}

// ListTriggeredJobs returns enabled jobs with a schedule or file_watch trigger.
func (s *TransferStore) ListTriggeredJobs() ([]domain.SavedJob, error) {
	return s.listJobs(`SELECT ` + savedJobColumns + ` FROM saved_jobs
		WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		ORDER BY created_at ASC`)
}

func (s *TransferStore) listJobs(query string) ([]domain.SavedJob, error) {
	rows, err := s.db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.SavedJob
	for rows.Next() {
		job, err := scanSavedJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanSavedJob(r scanner) (*domain.SavedJob, error) {
	job := &domain.SavedJob{}
	err := r.Scan(
		&job.ID, &job.Name, &job.JobJSON, &job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&job.LastRunAt, &job.LastStatus, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ── Runs ───────────────────────────────────────────────────

const runColumns = `id, job_id, saved_job_id, kind, destination, state, started_at, finished_at,
	processed, committed, failed, error, outcome_json`

// CreateRun records a run as it starts.
func (s *TransferStore) CreateRun(run *domain.TransferRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.OutcomeJSON == "" {
		run.OutcomeJSON = "{}"
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO transfer_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.SavedJobID, run.Kind, run.Destination, run.State, run.StartedAt, run.FinishedAt,
		run.Processed, run.Committed, run.Failed, run.Error, run.OutcomeJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and outcome of a run.
func (s *TransferStore) FinishRun(run *domain.TransferRun) error {
	_, err := s.db.conn.Exec(
		`UPDATE transfer_runs SET state=?, finished_at=?, processed=?, committed=?, failed=?, error=?, outcome_json=?
		 WHERE id=?`,
		run.State, run.FinishedAt, run.Processed, run.Committed, run.Failed, run.Error, run.OutcomeJSON, run.ID,
	)
	return err
}

func (s *TransferStore) ListRuns(savedJobID string, limit int) ([]domain.TransferRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if savedJobID == "" {
		rows, err = s.db.conn.Query(
			`SELECT `+runColumns+` FROM transfer_runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.conn.Query(
			`SELECT `+runColumns+` FROM transfer_runs WHERE saved_job_id = ? ORDER BY started_at DESC LIMIT ?`,
			savedJobID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.TransferRun
	for rows.Next() {
		var r domain.TransferRun
		if err := rows.Scan(
			&r.ID, &r.JobID, &r.SavedJobID, &r.Kind, &r.Destination, &r.State, &r.StartedAt, &r.FinishedAt,
			&r.Processed, &r.Committed, &r.Failed, &r.Error, &r.OutcomeJSON,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
