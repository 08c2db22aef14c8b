package service_test

import (
	"context"
	"testing"
	"time"

	"doctransfer/internal/service"
)

// ─────────────────────────────────────────────────────────────
// DestinationGuard tests
// ─────────────────────────────────────────────────────────────

func TestDestinationGuard_TryLock(t *testing.T) {
	var g service.ExportedDestinationGuard

	if _, ok := g.TryLock("file:/tmp/a.jsonl", "job-1"); !ok {
		t.Fatal("expected first TryLock to succeed")
	}
	holder, ok := g.TryLock("file:/tmp/a.jsonl", "job-2")
	if ok {
		t.Fatal("expected second TryLock for same destination to fail")
	}
	if holder != "job-1" {
		t.Errorf("expected holder job-1, got %q", holder)
	}
	if _, ok := g.TryLock("db:c1/shop/orders", "job-2"); !ok {
		t.Fatal("expected TryLock for different destination to succeed")
	}
	if got := g.Active(); len(got) != 2 || got[0] != "db:c1/shop/orders" {
		t.Errorf("unexpected active keys %v", got)
	}
	g.Unlock("file:/tmp/a.jsonl")
	g.Unlock("db:c1/shop/orders")
	g.Unlock("db:c1/shop/orders") // double unlock is ignored

	if _, ok := g.TryLock("file:/tmp/a.jsonl", "job-3"); !ok {
		t.Fatal("expected TryLock to succeed after unlock")
	}
	g.Unlock("file:/tmp/a.jsonl")
}

func TestDestinationGuard_WaitAll(t *testing.T) {
	var g service.ExportedDestinationGuard

	if _, ok := g.TryLock("k", "job-a"); !ok {
		t.Fatal("expected lock to succeed")
	}

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("k")
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("WaitAll timed out")
	}
}

// ─────────────────────────────────────────────────────────────
// MockEmitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, service.EventProgress, map[string]string{"foo": "bar"})
	m.Emit(ctx, service.EventCompleted, nil)
	m.Emit(ctx, service.EventProgress, nil)

	if len(m.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(m.Events))
	}
	if got := m.Named(service.EventProgress); len(got) != 2 {
		t.Errorf("expected 2 progress events, got %d", len(got))
	}
	if m.Events[len(m.Events)-1].Event != service.EventProgress {
		t.Errorf("unexpected last event %q", m.Events[len(m.Events)-1].Event)
	}
}
