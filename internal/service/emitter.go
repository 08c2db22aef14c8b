package service

import (
	"context"
	"log"
	"sync"
)

// Events emitted by the transfer service.
const (
	EventProgress  = "transfer:progress"
	EventCompleted = "transfer:completed"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from whoever displays progress
// ─────────────────────────────────────────────────────────────

// EventEmitter delivers service events to the caller's UI or log.
// Emit is called from run goroutines and must not block for long.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes completion events to the standard logger and drops
// progress, which is too chatty for a log.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	if event == EventProgress {
		return
	}
	log.Printf("[EVENT] %s %+v", event, data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Named returns a copy of the recorded emissions of one event.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
