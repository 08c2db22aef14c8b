package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"doctransfer/internal/domain"
	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

// ─────────────────────────────────────────────────────────────
// TransferService tests
// ─────────────────────────────────────────────────────────────

func TestTransferService_SubmitRunsToCompletion(t *testing.T) {
	emitter := &service.MockEmitter{}
	svc := newTransferService(seed(25), emitter, service.TransferServiceOptions{})
	path := filepath.Join(t.TempDir(), "items.jsonl")

	h, err := svc.Submit(context.Background(), exportTo(path))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.ID() == "" {
		t.Fatal("expected a generated job id")
	}

	var snapshots int
	for range h.Progress() {
		snapshots++
	}
	out := wait(t, h)
	if out.State != transfer.StateCompleted {
		t.Fatalf("expected completed, got %s (%v)", out.State, out.Err)
	}
	if out.Committed != 25 {
		t.Errorf("expected 25 committed, got %d", out.Committed)
	}
	if h.Outcome() != out {
		t.Error("Outcome should return the waited outcome")
	}
	if snapshots == 0 {
		t.Error("expected at least one progress snapshot")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 25 {
		t.Errorf("expected 25 lines, got %d", lines)
	}

	eventually(t, "completed event", func() bool { return len(emitter.Named(service.EventCompleted)) == 1 })
	if len(emitter.Named(service.EventProgress)) == 0 {
		t.Error("expected progress events")
	}
	if _, ok := svc.Get(h.ID()); ok {
		t.Error("finished run should not be active")
	}
}

func TestTransferService_InvalidJobRejected(t *testing.T) {
	svc := newTransferService(seed(1), &service.MockEmitter{}, service.TransferServiceOptions{})
	job := exportTo("")
	if _, err := svc.Submit(context.Background(), job); err == nil {
		t.Fatal("expected invalid job to be rejected")
	}
	if got := svc.ActiveDestinations(); len(got) != 0 {
		t.Errorf("rejected job must not hold a destination, got %v", got)
	}
}

func TestTransferService_DestinationBusy(t *testing.T) {
	store := newGateStore(seed(30))
	svc := newTransferService(store, &service.MockEmitter{}, service.TransferServiceOptions{})
	path := filepath.Join(t.TempDir(), "items.jsonl")

	first, err := svc.Submit(context.Background(), exportTo(path))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-store.started

	_, err = svc.Submit(context.Background(), exportTo(path))
	if !errors.Is(err, transfer.ErrDestinationBusy) {
		t.Fatalf("expected ErrDestinationBusy, got %v", err)
	}

	// another destination is free
	other, err := svc.Submit(context.Background(), exportTo(filepath.Join(t.TempDir(), "other.jsonl")))
	if err != nil {
		t.Fatalf("submit to other destination: %v", err)
	}

	store.Release()
	if out := wait(t, first); out.State != transfer.StateCompleted {
		t.Fatalf("expected completed, got %s", out.State)
	}
	wait(t, other)

	again, err := svc.Submit(context.Background(), exportTo(path))
	if err != nil {
		t.Fatalf("destination should be free after the run: %v", err)
	}
	wait(t, again)
}

func TestTransferService_Cancel(t *testing.T) {
	store := newGateStore(seed(50))
	svc := newTransferService(store, &service.MockEmitter{}, service.TransferServiceOptions{})

	h, err := svc.Submit(context.Background(), exportTo(filepath.Join(t.TempDir(), "items.jsonl")))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-store.started
	if err := svc.Cancel(h.ID()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	store.Release()

	out := wait(t, h)
	if out.State != transfer.StateCancelled {
		t.Fatalf("expected cancelled, got %s", out.State)
	}
	if out.Committed >= 50 {
		t.Errorf("expected a partial run, got %d committed", out.Committed)
	}
	if err := svc.Cancel(h.ID()); err == nil {
		t.Error("cancelling a finished run should fail")
	}
}

func TestTransferService_WaitTimesOut(t *testing.T) {
	store := newGateStore(seed(5))
	svc := newTransferService(store, &service.MockEmitter{}, service.TransferServiceOptions{})
	h, err := svc.Submit(context.Background(), exportTo(filepath.Join(t.TempDir(), "items.jsonl")))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.Outcome() != nil {
		t.Error("outcome should be nil while running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	store.Release()
	wait(t, h)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	svc.WaitRunning(waitCtx)
	if waitCtx.Err() != nil {
		t.Error("WaitRunning should return once runs finish")
	}
}

func TestTransferService_RecordsRuns(t *testing.T) {
	runs := openStore(t)
	svc := newTransferService(seed(12), &service.MockEmitter{}, service.TransferServiceOptions{Runs: runs, Jobs: runs})
	path := filepath.Join(t.TempDir(), "items.jsonl")

	saved := &domain.SavedJob{Name: "items", JobJSON: mustJSON(t, exportTo(path)), Enabled: true}
	if err := runs.CreateJob(saved); err != nil {
		t.Fatal(err)
	}

	h, err := svc.SubmitSaved(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("submit saved: %v", err)
	}
	if h.Job.Name != "items" {
		t.Errorf("expected the saved job name, got %q", h.Job.Name)
	}
	wait(t, h)

	list, err := svc.ListRuns(saved.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 run, got %d", len(list))
	}
	r := list[0]
	if r.State != string(transfer.StateCompleted) || r.Committed != 12 || r.FinishedAt == nil {
		t.Errorf("unexpected run record %+v", r)
	}
	if r.Destination != "file:"+path {
		t.Errorf("unexpected destination %q", r.Destination)
	}
	if !strings.Contains(r.OutcomeJSON, `"committed":12`) {
		t.Errorf("outcome not stored: %s", r.OutcomeJSON)
	}

	job, err := runs.GetJob(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.LastStatus != string(transfer.StateCompleted) || job.LastRunAt == nil {
		t.Errorf("saved job status not updated: %+v", job)
	}
}

func TestTransferService_Preview(t *testing.T) {
	svc := newTransferService(seed(40), &service.MockEmitter{}, service.TransferServiceOptions{})
	res, err := svc.Preview(context.Background(), exportTo("unused.jsonl"), 5)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(res.Rows) != 5 {
		t.Errorf("expected 5 rows, got %d", len(res.Rows))
	}
	if len(res.Columns) != 2 || res.Columns[0] != "_id" {
		t.Errorf("unexpected columns %v", res.Columns)
	}
}
