package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"doctransfer/internal/codec"
	"doctransfer/internal/document"
	"doctransfer/internal/service"
	"doctransfer/internal/storage"
	"doctransfer/internal/transfer"
)

func seed(n int) *transfer.MemoryStore {
	s := transfer.NewMemoryStore()
	docs := make([]document.Document, n)
	for i := range docs {
		docs[i] = document.D("_id", document.Int32(i+1), "name", document.String(fmt.Sprintf("item-%d", i+1)))
	}
	s.Insert("shop", "items", docs...)
	return s
}

func exportTo(path string) transfer.Job {
	return transfer.Job{
		Kind:        transfer.KindExport,
		Format:      codec.FormatJSONL,
		Source:      transfer.Endpoint{Database: "shop", Collection: "items"},
		Destination: transfer.Endpoint{Path: path},
		Options:     transfer.Options{BatchSize: 10},
	}
}

func newTransferService(store transfer.Store, emitter service.EventEmitter, opts service.TransferServiceOptions) *service.TransferService {
	p := transfer.NewPipeline(store, nil, transfer.DefaultOptions())
	return service.NewTransferService(p, emitter, opts)
}

func openStore(t *testing.T) *storage.TransferStore {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "doctransfer.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewTransferStore(db)
}

func wait(t *testing.T, h *service.Handle) *transfer.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── gateStore ──────────────────────────────────────────────
// gateStore holds every cursor of the wrapped store until release is
// called, so tests can act while a run is in flight.

type gateStore struct {
	*transfer.MemoryStore
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
	release sync.Once
}

func newGateStore(inner *transfer.MemoryStore) *gateStore {
	return &gateStore{MemoryStore: inner, gate: make(chan struct{}), started: make(chan struct{})}
}

func (g *gateStore) Release() { g.release.Do(func() { close(g.gate) }) }

func (g *gateStore) Source(ctx context.Context, ep transfer.Endpoint, q transfer.ParsedQuery, limit int64) (transfer.Source, error) {
	src, err := g.MemoryStore.Source(ctx, ep, q, limit)
	if err != nil {
		return nil, err
	}
	return &gateSource{Source: src, g: g}, nil
}

type gateSource struct {
	transfer.Source
	g *gateStore
}

func (s *gateSource) Open(ctx context.Context, offset int64) (transfer.Cursor, error) {
	cur, err := s.Source.Open(ctx, offset)
	if err != nil {
		return nil, err
	}
	return &gateCursor{Cursor: cur, g: s.g}, nil
}

type gateCursor struct {
	transfer.Cursor
	g *gateStore
}

func (c *gateCursor) Next(ctx context.Context) (document.Document, error) {
	c.g.once.Do(func() { close(c.g.started) })
	select {
	case <-c.g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.Cursor.Next(ctx)
}

func mustJSON(t *testing.T, job transfer.Job) string {
	t.Helper()
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}
