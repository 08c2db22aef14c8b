package transfer

import (
	"context"

	"doctransfer/internal/document"
)

// ── Collaborators ──────────────────────────────────────────
// The pipeline reads and writes document stores only through these
// interfaces. dbclient implements them for MongoDB and SQL databases,
// MemoryStore for tests and previews.

// Cursor yields documents in source order. Next returns io.EOF at the
// end; an error wrapping *RecordError skips one record, anything else
// is fatal.
type Cursor interface {
	Next(ctx context.Context) (document.Document, error)
	Close(ctx context.Context) error
}

// Source is a restartable reader: every Open starts a fresh cursor at
// offset, which CSV export relies on for its discovery pass.
type Source interface {
	Open(ctx context.Context, offset int64) (Cursor, error)
	// Estimate returns the expected document count, if cheap to get.
	Estimate(ctx context.Context) (int64, bool)
	Label() string
}

// WriteFailure is one document a destination rejected. Index is its
// position inside the batch.
type WriteFailure struct {
	Index int
	Err   error
}

// WriteResult reports a batch write.
type WriteResult struct {
	Written  int64
	Failures []WriteFailure
}

// Destination accepts batches. WriteBatch returns an error only when the
// destination itself failed; rejected documents go to Failures.
type Destination interface {
	WriteBatch(ctx context.Context, docs []document.Document) (WriteResult, error)
	Close(ctx context.Context) error
}

// DestinationOptions configures a store destination.
type DestinationOptions struct {
	Mode InsertMode
	// Ordered stops a batch at its first failure.
	Ordered bool
	// Drop empties the collection first.
	Drop bool
}

// Store opens sources and destinations on named endpoints.
type Store interface {
	Source(ctx context.Context, ep Endpoint, q ParsedQuery, limit int64) (Source, error)
	Destination(ctx context.Context, ep Endpoint, opts DestinationOptions) (Destination, error)
	// Collections lists the collections of ep.Database.
	Collections(ctx context.Context, ep Endpoint) ([]string, error)
}
