package service

import (
	"context"
	"sort"
	"sync"
)

// ExportedDestinationGuard is an exported alias so _test packages can test the guard.
type ExportedDestinationGuard = destinationGuard

// ─────────────────────────────────────────────────────────────
// destinationGuard: one active run per destination
// ─────────────────────────────────────────────────────────────

// destinationGuard holds the destination keys of active runs. Two jobs
// writing the same file or collection would interleave batches, so the
// second is refused until the first finishes.
type destinationGuard struct {
	mu     sync.Mutex
	active map[string]string // destination key -> job id
	wg     sync.WaitGroup
}

// TryLock claims key for jobID. It returns false and the holder's job id
// when another run already holds key.
func (g *destinationGuard) TryLock(key, jobID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = make(map[string]string)
	}
	if holder, ok := g.active[key]; ok {
		return holder, false
	}
	g.active[key] = jobID
	g.wg.Add(1)
	return "", true
}

// Unlock releases key. Must be called once after a successful TryLock.
func (g *destinationGuard) Unlock(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[key]; !ok {
		return
	}
	delete(g.active, key)
	g.wg.Done()
}

// Active lists the held destination keys in order.
func (g *destinationGuard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.active))
	for k := range g.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WaitAll blocks until every held key is released or ctx is cancelled.
func (g *destinationGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
