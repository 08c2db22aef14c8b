package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"doctransfer/internal/domain"
	"doctransfer/internal/transfer"
)

// EventTriggered is emitted when a schedule or file change starts a saved job.
const EventTriggered = "transfer:triggered"

// ─────────────────────────────────────────────────────────────
// Job Service: saved jobs, cron schedules and file watches
// ─────────────────────────────────────────────────────────────

// JobService manages saved transfer jobs and starts them from their
// triggers. Runs go through TransferService, so a triggered run whose
// destination is busy is skipped, not queued.
type JobService struct {
	store     domain.SavedJobStore
	transfers *TransferService
	emitter   EventEmitter
	debounce  time.Duration

	mu sync.Mutex
	// started is set by RestartWatchers; CRUD only refreshes triggers
	// of a service that runs them.
	started     bool
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewJobService creates a JobService. debounce collapses bursts of file
// events; zero means 500ms.
func NewJobService(store domain.SavedJobStore, transfers *TransferService, emitter EventEmitter, debounce time.Duration) *JobService {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &JobService{store: store, transfers: transfers, emitter: emitter, debounce: debounce}
}

// ── Job CRUD ───────────────────────────────────────────────

// SaveJobInput describes a saved job.
type SaveJobInput struct {
	Name          string       `json:"name"`
	Job           transfer.Job `json:"job"`
	TriggerType   string       `json:"triggerType"`
	TriggerConfig string       `json:"triggerConfig"`
	Enabled       bool         `json:"enabled"`
}

func (s *JobService) CreateJob(ctx context.Context, input SaveJobInput) (*domain.SavedJob, error) {
	job := &domain.SavedJob{}
	if err := s.apply(job, input); err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create saved job: %w", err)
	}
	s.refresh(ctx)
	return job, nil
}

func (s *JobService) GetJob(id string) (*domain.SavedJob, error) {
	return s.store.GetJob(id)
}

func (s *JobService) ListJobs() ([]domain.SavedJob, error) {
	return s.store.ListJobs()
}

func (s *JobService) UpdateJob(ctx context.Context, id string, input SaveJobInput) error {
	job, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	if err := s.apply(job, input); err != nil {
		return err
	}
	if err := s.store.UpdateJob(job); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	err := s.store.DeleteJob(id)
	if err == nil {
		s.refresh(ctx)
	}
	return err
}

// apply validates input and copies it onto job.
func (s *JobService) apply(job *domain.SavedJob, input SaveJobInput) error {
	if input.Name == "" {
		return errors.New("saved job name is required")
	}
	if _, err := input.Job.Normalize(s.transfers.pipeline.Defaults()); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	trigger := domain.TriggerType(input.TriggerType)
	switch trigger {
	case "", domain.TriggerManual:
		trigger = domain.TriggerManual
	case domain.TriggerSchedule:
		if _, err := cron.ParseStandard(input.TriggerConfig); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", input.TriggerConfig, err)
		}
	case domain.TriggerFileWatch:
		if input.Job.Kind != transfer.KindImport {
			return errors.New("file_watch triggers only start import jobs")
		}
		if input.TriggerConfig == "" {
			input.TriggerConfig = input.Job.Source.Path
		}
	default:
		return fmt.Errorf("unknown trigger type %q", input.TriggerType)
	}

	raw, err := json.Marshal(input.Job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	job.Name = input.Name
	job.JobJSON = string(raw)
	job.TriggerType = trigger
	job.TriggerConfig = input.TriggerConfig
	job.Enabled = input.Enabled
	return nil
}

// ── Run ────────────────────────────────────────────────────

// RunJob runs a saved job and waits for its outcome.
func (s *JobService) RunJob(ctx context.Context, id string) (*transfer.Outcome, error) {
	h, err := s.transfers.SubmitSaved(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		return nil, err
	}
	return out, nil
}

// ListRuns returns the last 50 runs of a saved job.
func (s *JobService) ListRuns(id string) ([]domain.TransferRun, error) {
	return s.transfers.ListRuns(id, 50)
}

func (s *JobService) trigger(ctx context.Context, id string, cause string) {
	h, err := s.transfers.SubmitSaved(ctx, id)
	if errors.Is(err, transfer.ErrDestinationBusy) {
		log.Printf("[SCHED] Skipping %s run of job %s: %v", cause, id, err)
		return
	}
	if err != nil {
		log.Printf("[SCHED] Job %s failed to start: %v", id, err)
		return
	}
	s.emitter.Emit(ctx, EventTriggered, map[string]string{
		"savedJobId": id,
		"jobId":      h.ID(),
		"trigger":    cause,
	})
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers rebuilds the cron schedule and file watches from the saved
// jobs. Until Stop, job changes keep them current.
func (s *JobService) RestartWatchers(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.restart(ctx)
}

func (s *JobService) refresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.restart(ctx)
	}
}

func (s *JobService) restart(ctx context.Context) {
	s.stopWatchers()

	jobs, err := s.store.ListTriggeredJobs()
	if err != nil {
		log.Printf("[SCHED] Failed to list jobs: %v", err)
		return
	}

	// ── Cron jobs ──
	c := cron.New()
	scheduled := 0
	for _, j := range jobs {
		if j.TriggerType != domain.TriggerSchedule {
			continue
		}
		jid := j.ID
		if _, err := c.AddFunc(j.TriggerConfig, func() { s.trigger(ctx, jid, "schedule") }); err != nil {
			log.Printf("[SCHED] Invalid expression %q for job %s: %v", j.TriggerConfig, jid, err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		c.Start()
		s.cronSched = c
		log.Printf("[SCHED] Scheduled %d job(s)", scheduled)
	}

	// ── File watchers ──
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != domain.TriggerFileWatch || j.TriggerConfig == "" {
			continue
		}
		absPath, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			log.Printf("[SCHED] Bad path %q: %v", j.TriggerConfig, err)
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[SCHED] Failed to create watcher: %v", err)
		return
	}
	s.watcher = watcher

	watchedDirs := make(map[string]bool)
	for absPath := range pathToJob {
		// watch the directory: editors replace files instead of writing them
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Printf("[SCHED] Failed to watch dir %q: %v", dir, err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	go s.watch(ctx, watchCtx, watcher, pathToJob)

	log.Printf("[SCHED] Watching %d file(s)", len(pathToJob))
}

func (s *JobService) watch(ctx, watchCtx context.Context, watcher *fsnotify.Watcher, pathToJob map[string]string) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-watchCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			jobID, ok := pathToJob[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[jobID]; exists {
				t.Stop()
			}
			jid := jobID
			timers[jobID] = time.AfterFunc(s.debounce, func() {
				if watchCtx.Err() != nil {
					return
				}
				log.Printf("[SCHED] File changed %q, running job %s", absPath, jid)
				s.trigger(ctx, jid, "file_watch")
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[SCHED] Watcher error: %v", err)
		}
	}
}

// WaitRunning blocks until all running transfers finish or ctx is cancelled.
func (s *JobService) WaitRunning(ctx context.Context) {
	s.transfers.WaitRunning(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *JobService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.stopWatchers()
}

func (s *JobService) stopWatchers() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
