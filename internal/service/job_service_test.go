package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"doctransfer/internal/codec"
	"doctransfer/internal/domain"
	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

// ─────────────────────────────────────────────────────────────
// JobService tests
// ─────────────────────────────────────────────────────────────

func newJobService(t *testing.T, store *transfer.MemoryStore, emitter *service.MockEmitter) *service.JobService {
	t.Helper()
	saved := openStore(t)
	transfers := newTransferService(store, emitter, service.TransferServiceOptions{Runs: saved, Jobs: saved})
	svc := service.NewJobService(saved, transfers, emitter, 20*time.Millisecond)
	t.Cleanup(svc.Stop)
	return svc
}

func importFrom(path string) transfer.Job {
	return transfer.Job{
		Kind:        transfer.KindImport,
		Format:      codec.FormatJSONL,
		Source:      transfer.Endpoint{Path: path},
		Destination: transfer.Endpoint{Database: "shop", Collection: "incoming"},
		Options:     transfer.Options{InsertMode: transfer.InsertUpsert},
	}
}

func TestJobService_CreateValidates(t *testing.T) {
	svc := newJobService(t, seed(1), &service.MockEmitter{})
	ctx := context.Background()
	export := exportTo(filepath.Join(t.TempDir(), "out.jsonl"))

	cases := map[string]service.SaveJobInput{
		"missing name":       {Job: export},
		"invalid job":        {Name: "x", Job: exportTo("")},
		"bad cron":           {Name: "x", Job: export, TriggerType: "schedule", TriggerConfig: "every tuesday"},
		"watch needs import": {Name: "x", Job: export, TriggerType: "file_watch", TriggerConfig: "/tmp/x"},
		"unknown trigger":    {Name: "x", Job: export, TriggerType: "webhook"},
	}
	for name, input := range cases {
		if _, err := svc.CreateJob(ctx, input); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	job, err := svc.CreateJob(ctx, service.SaveJobInput{Name: "hourly", Job: export, TriggerType: "schedule", TriggerConfig: "@hourly", Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.TriggerType != domain.TriggerSchedule || job.JobJSON == "" {
		t.Errorf("unexpected saved job %+v", job)
	}

	manual, err := svc.CreateJob(ctx, service.SaveJobInput{Name: "adhoc", Job: export})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if manual.TriggerType != domain.TriggerManual {
		t.Errorf("expected manual trigger, got %q", manual.TriggerType)
	}

	jobs, err := svc.ListJobs()
	if err != nil || len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d (%v)", len(jobs), err)
	}
	if err := svc.DeleteJob(ctx, manual.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetJob(manual.ID); err == nil {
		t.Error("expected deleted job to be gone")
	}
}

func TestJobService_RunJob(t *testing.T) {
	svc := newJobService(t, seed(7), &service.MockEmitter{})
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "items.jsonl")

	job, err := svc.CreateJob(ctx, service.SaveJobInput{Name: "export", Job: exportTo(path)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := svc.RunJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != transfer.StateCompleted || out.Committed != 7 {
		t.Fatalf("unexpected outcome %s / %d", out.State, out.Committed)
	}

	runs, err := svc.ListRuns(job.ID)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d (%v)", len(runs), err)
	}

	// update keeps the id and rewrites the job
	if err := svc.UpdateJob(ctx, job.ID, service.SaveJobInput{Name: "renamed", Job: exportTo(path)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := svc.GetJob(job.ID)
	if got.Name != "renamed" {
		t.Errorf("expected renamed job, got %q", got.Name)
	}
}

func TestJobService_FileWatchTriggersImport(t *testing.T) {
	store := transfer.NewMemoryStore()
	emitter := &service.MockEmitter{}
	svc := newJobService(t, store, emitter)
	ctx := context.Background()

	svc.RestartWatchers(ctx)

	path := filepath.Join(t.TempDir(), "drop.jsonl")
	job, err := svc.CreateJob(ctx, service.SaveJobInput{
		Name:        "watch drop",
		Job:         importFrom(path),
		TriggerType: "file_watch",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.TriggerConfig != path {
		t.Errorf("expected trigger path to default to the source, got %q", job.TriggerConfig)
	}

	if err := os.WriteFile(path, []byte(`{"_id":1,"v":"a"}`+"\n"+`{"_id":2,"v":"b"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, "triggered event", func() bool { return len(emitter.Named(service.EventTriggered)) > 0 })
	eventually(t, "imported documents", func() bool { return len(store.Documents("shop", "incoming")) == 2 })

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	svc.WaitRunning(waitCtx)

	svc.Stop()
	svc.Stop()
}
