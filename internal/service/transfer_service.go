package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"doctransfer/internal/codec"
	"doctransfer/internal/domain"
	"doctransfer/internal/transfer"
)

// ─────────────────────────────────────────────────────────────
// Transfer Service: submits jobs and tracks their runs
// ─────────────────────────────────────────────────────────────

// URIResolver fills in the connection string of an endpoint that names a
// saved connection. ConnectionService implements it.
type URIResolver interface {
	ResolveURI(ep transfer.Endpoint) (transfer.Endpoint, error)
}

// TransferService runs transfer jobs in the background, at most one per
// destination, and records each run.
type TransferService struct {
	pipeline *transfer.Pipeline
	resolver URIResolver
	runs     domain.TransferRunStore
	jobs     domain.SavedJobStore
	emitter  EventEmitter
	guard    destinationGuard

	progressBuffer int

	mu      sync.Mutex
	handles map[string]*Handle
}

// TransferServiceOptions holds the optional collaborators of a TransferService.
type TransferServiceOptions struct {
	Resolver URIResolver
	Runs     domain.TransferRunStore
	Jobs     domain.SavedJobStore
	// ProgressBuffer is the capacity of each handle's progress channel.
	ProgressBuffer int
}

// NewTransferService creates a TransferService.
func NewTransferService(pipeline *transfer.Pipeline, emitter EventEmitter, opts TransferServiceOptions) *TransferService {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = 64
	}
	return &TransferService{
		pipeline:       pipeline,
		resolver:       opts.Resolver,
		runs:           opts.Runs,
		jobs:           opts.Jobs,
		emitter:        emitter,
		progressBuffer: opts.ProgressBuffer,
		handles:        make(map[string]*Handle),
	}
}

// ── Handle ─────────────────────────────────────────────────

// Handle follows one submitted run.
type Handle struct {
	Job transfer.Job

	token    *transfer.CancelToken
	progress chan transfer.Progress
	done     chan struct{}
	outcome  *transfer.Outcome
}

// ID is the job id of the run.
func (h *Handle) ID() string { return h.Job.ID }

// Cancel asks the run to stop after its current batch.
func (h *Handle) Cancel() { h.token.Cancel() }

// Progress delivers snapshots. Snapshots the reader is too slow for are
// dropped. The channel is closed when the run ends.
func (h *Handle) Progress() <-chan transfer.Progress { return h.progress }

// Done is closed when the outcome is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the terminal report, or nil while the run is active.
func (h *Handle) Outcome() *transfer.Outcome {
	select {
	case <-h.done:
		return h.outcome
	default:
		return nil
	}
}

// Wait blocks until the run ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*transfer.Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ── Submit ─────────────────────────────────────────────────

// Submit validates job and starts it. Invalid jobs and jobs whose
// destination is in use are rejected here, before anything runs; errors
// after that are reported through the Handle's outcome.
func (s *TransferService) Submit(ctx context.Context, job transfer.Job) (*Handle, error) {
	return s.submit(ctx, job, "")
}

// SubmitSaved starts the saved job with the given id.
func (s *TransferService) SubmitSaved(ctx context.Context, savedJobID string) (*Handle, error) {
	if s.jobs == nil {
		return nil, errors.New("no saved job store configured")
	}
	saved, err := s.jobs.GetJob(savedJobID)
	if err != nil {
		return nil, err
	}
	var job transfer.Job
	if err := json.Unmarshal([]byte(saved.JobJSON), &job); err != nil {
		return nil, fmt.Errorf("decode saved job %s: %w", savedJobID, err)
	}
	job.ID = ""
	if job.Name == "" {
		job.Name = saved.Name
	}
	return s.submit(ctx, job, savedJobID)
}

func (s *TransferService) submit(ctx context.Context, job transfer.Job, savedJobID string) (*Handle, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	norm, err := job.Normalize(s.pipeline.Defaults())
	if err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	if norm.Format == codec.FormatArchive && s.resolver != nil {
		if norm.Source, err = s.resolver.ResolveURI(norm.Source); err != nil {
			return nil, err
		}
		if norm.Destination, err = s.resolver.ResolveURI(norm.Destination); err != nil {
			return nil, err
		}
	}

	key := norm.DestinationKey()
	if holder, ok := s.guard.TryLock(key, norm.ID); !ok {
		return nil, fmt.Errorf("%w: %s is in use by job %s", transfer.ErrDestinationBusy, key, holder)
	}

	h := &Handle{
		Job:      norm,
		token:    transfer.NewCancelToken(),
		progress: make(chan transfer.Progress, s.progressBuffer),
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.handles[norm.ID] = h
	s.mu.Unlock()

	run := &domain.TransferRun{
		JobID:       norm.ID,
		SavedJobID:  savedJobID,
		Kind:        string(norm.Kind),
		Destination: key,
		State:       string(transfer.StateRunning),
		StartedAt:   time.Now(),
	}
	if s.runs != nil {
		if err := s.runs.CreateRun(run); err != nil {
			log.Printf("[TRANSFER] Failed to record run of job %s: %v", norm.ID, err)
		}
	}
	if savedJobID != "" && s.jobs != nil {
		_ = s.jobs.UpdateJobStatus(savedJobID, string(transfer.StateRunning), "")
	}

	// the run outlives the request that submitted it
	go s.execute(context.WithoutCancel(ctx), h, key, run)
	return h, nil
}

func (s *TransferService) execute(ctx context.Context, h *Handle, key string, run *domain.TransferRun) {
	inner := make(chan transfer.Progress, s.progressBuffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for p := range inner {
			s.emitter.Emit(ctx, EventProgress, p)
			select {
			case h.progress <- p:
			default:
			}
		}
	}()

	out := s.pipeline.Run(ctx, h.Job, inner, h.token)
	close(inner)
	<-forwarded
	close(h.progress)

	s.record(run, out)
	h.outcome = out

	// the destination is free by the time Done is closed
	s.mu.Lock()
	delete(s.handles, h.Job.ID)
	s.mu.Unlock()
	s.guard.Unlock(key)
	close(h.done)

	s.emitter.Emit(ctx, EventCompleted, out)
}

// record persists the finished run and the saved job's last status.
func (s *TransferService) record(run *domain.TransferRun, out *transfer.Outcome) {
	finished := time.Now()
	run.State = string(out.State)
	run.FinishedAt = &finished
	run.Processed = out.Processed
	run.Committed = out.Committed
	run.Failed = out.Failed
	run.Error = out.Error()
	if raw, err := json.Marshal(out); err == nil {
		run.OutcomeJSON = string(raw)
	}
	if s.runs != nil && run.ID != "" {
		if err := s.runs.FinishRun(run); err != nil {
			log.Printf("[TRANSFER] Failed to record outcome of job %s: %v", run.JobID, err)
		}
	}
	if run.SavedJobID != "" && s.jobs != nil {
		_ = s.jobs.UpdateJobStatus(run.SavedJobID, run.State, run.Error)
	}
}

// ── Queries ────────────────────────────────────────────────

// Get returns the handle of an active run.
func (s *TransferService) Get(jobID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID]
	return h, ok
}

// Cancel cancels an active run by job id.
func (s *TransferService) Cancel(jobID string) error {
	h, ok := s.Get(jobID)
	if !ok {
		return fmt.Errorf("no active transfer %s", jobID)
	}
	h.Cancel()
	return nil
}

// ActiveDestinations lists the destinations currently being written.
func (s *TransferService) ActiveDestinations() []string {
	return s.guard.Active()
}

// Preview reads the first rows of a job's input.
func (s *TransferService) Preview(ctx context.Context, job transfer.Job, limit int) (*transfer.PreviewResult, error) {
	previewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.pipeline.Preview(previewCtx, job, limit)
}

// ListRuns returns the newest runs, optionally of one saved job.
func (s *TransferService) ListRuns(savedJobID string, limit int) ([]domain.TransferRun, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.ListRuns(savedJobID, limit)
}

// WaitRunning blocks until all running transfers finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *TransferService) WaitRunning(ctx context.Context) {
	s.guard.WaitAll(ctx)
}

// CancelAll cancels every active run.
func (s *TransferService) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		h.Cancel()
	}
}
