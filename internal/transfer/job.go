package transfer

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"doctransfer/internal/codec"
	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
)

// ── Job ────────────────────────────────────────────────────
// A Job is immutable once submitted: Pipeline.Run works on a validated
// copy and never writes back to the caller's value.

// Kind is the direction of a transfer.
type Kind string

const (
	KindExport Kind = "export" // store → file
	KindImport Kind = "import" // file → store
	KindCopy   Kind = "copy"   // store → store
)

// Scope selects one collection or every collection of a database.
type Scope string

const (
	ScopeCollection Scope = "collection"
	ScopeDatabase   Scope = "database"
)

// InsertMode decides what happens when an imported document's _id exists.
type InsertMode string

const (
	// InsertStrict fails the record on a duplicate _id.
	InsertStrict InsertMode = "insert"
	// InsertUpsert updates the existing document's fields.
	InsertUpsert InsertMode = "upsert"
	// InsertReplace replaces the existing document.
	InsertReplace InsertMode = "replace"
)

// ColumnStrategy selects CSV column discovery.
type ColumnStrategy string

const (
	ColumnsFull   ColumnStrategy = "full"
	ColumnsSample ColumnStrategy = "sample"
)

// Endpoint names one side of a transfer. Store endpoints use
// ConnectionID (or URI), Database and Collection; file endpoints use Path.
type Endpoint struct {
	ConnectionID string `json:"connectionId,omitempty"`
	URI          string `json:"uri,omitempty"`
	Database     string `json:"database,omitempty"`
	Collection   string `json:"collection,omitempty"`
	Path         string `json:"path,omitempty"`
}

// WithCollection returns a copy of e pointing at coll.
func (e Endpoint) WithCollection(coll string) Endpoint {
	e.Collection = coll
	return e
}

func (e Endpoint) String() string {
	if e.Path != "" && e.Collection == "" {
		return e.Path
	}
	if e.Collection == "" {
		return e.Database
	}
	return e.Database + "." + e.Collection
}

// Query is applied by the source when reading. Each field holds an
// Extended JSON document; empty means none.
type Query struct {
	Filter     string `json:"filter,omitempty"`
	Projection string `json:"projection,omitempty"`
	Sort       string `json:"sort,omitempty"`
}

// ParsedQuery is a Query decoded into documents.
type ParsedQuery struct {
	Filter     document.Document
	Projection document.Document
	Sort       document.Document
}

// Parse decodes every non-empty field.
func (q Query) Parse() (ParsedQuery, error) {
	var (
		out ParsedQuery
		err error
	)
	for _, f := range []struct {
		name string
		raw  string
		dst  *document.Document
	}{
		{"filter", q.Filter, &out.Filter},
		{"projection", q.Projection, &out.Projection},
		{"sort", q.Sort, &out.Sort},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		if *f.dst, err = document.UnmarshalExtJSON([]byte(f.raw)); err != nil {
			return ParsedQuery{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
	}
	return out, nil
}

// Options are the per-job knobs. Zero values take the defaults from
// DefaultOptions when the job is validated.
type Options struct {
	BatchSize   int        `json:"batchSize,omitempty" toml:"batch_size"`
	Limit       int64      `json:"limit,omitempty" toml:"-"`
	InsertMode  InsertMode `json:"insertMode,omitempty" toml:"-"`
	StopOnError bool       `json:"stopOnError,omitempty" toml:"-"`
	MaxErrors   int        `json:"maxErrors,omitempty" toml:"max_errors"`

	Gzip      bool                 `json:"gzip,omitempty" toml:"-"`
	Pretty    bool                 `json:"pretty,omitempty" toml:"-"`
	JSONMode  document.ExtJSONMode `json:"jsonMode,omitempty" toml:"-"`
	Encoding  codec.Encoding       `json:"encoding,omitempty" toml:"-"`
	Delimiter string               `json:"delimiter,omitempty" toml:"-"`

	Flatten    flatten.Options `json:"flatten" toml:"-"`
	Columns    ColumnStrategy  `json:"columns,omitempty" toml:"-"`
	SampleSize int             `json:"sampleSize,omitempty" toml:"-"`

	// Exclude lists collections skipped by database-scope transfers.
	Exclude []string `json:"exclude,omitempty" toml:"-"`
	// DropBefore empties each destination collection before writing.
	DropBefore bool `json:"dropBefore,omitempty" toml:"-"`
	// ArchiveFile writes a single archive file instead of a dump folder.
	ArchiveFile bool `json:"archiveFile,omitempty" toml:"-"`

	// ReadAhead is the number of batches read ahead of the writer.
	ReadAhead int `json:"readAhead,omitempty" toml:"read_ahead"`
	// DocsPerSecond throttles destination writes; zero is unlimited.
	DocsPerSecond float64 `json:"docsPerSecond,omitempty" toml:"docs_per_second"`
}

// DefaultOptions returns the defaults applied to zero-valued fields.
func DefaultOptions() Options {
	return Options{
		BatchSize:  1000,
		InsertMode: InsertStrict,
		MaxErrors:  100,
		JSONMode:   document.Relaxed,
		Encoding:   codec.UTF8,
		Delimiter:  ",",
		Flatten:    flatten.DefaultOptions(),
		Columns:    ColumnsFull,
		SampleSize: 1000,
	}
}

// withDefaults fills zero-valued fields from base.
func (o Options) withDefaults(base Options) Options {
	if o.BatchSize <= 0 {
		o.BatchSize = base.BatchSize
	}
	if o.InsertMode == "" {
		o.InsertMode = base.InsertMode
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = base.MaxErrors
	}
	if o.JSONMode == "" {
		o.JSONMode = base.JSONMode
	}
	if o.Encoding == "" {
		o.Encoding = base.Encoding
	}
	if o.Delimiter == "" {
		o.Delimiter = base.Delimiter
	}
	if o.Flatten == (flatten.Options{}) {
		o.Flatten = base.Flatten
	}
	if o.Columns == "" {
		o.Columns = base.Columns
	}
	if o.SampleSize <= 0 {
		o.SampleSize = base.SampleSize
	}
	return o
}

func (o Options) delimiter() rune {
	r, _ := utf8.DecodeRuneInString(o.Delimiter)
	return r
}

func (o Options) discovery() flatten.Discovery {
	if o.Columns == ColumnsSample {
		return flatten.Sample(o.SampleSize)
	}
	return flatten.FullScan()
}

// Job describes one transfer.
type Job struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Kind        Kind         `json:"kind"`
	Scope       Scope        `json:"scope"`
	Format      codec.Format `json:"format,omitempty"`
	Source      Endpoint     `json:"source"`
	Destination Endpoint     `json:"destination"`
	Query       Query        `json:"query"`
	Options     Options      `json:"options"`
}

// Normalize validates the job and returns a copy with defaults applied.
func (j Job) Normalize(base Options) (Job, error) {
	j.Options = j.Options.withDefaults(base)
	if j.Scope == "" {
		j.Scope = ScopeCollection
	}
	if j.Kind != KindCopy {
		if j.Format == "" {
			return j, fmt.Errorf("format is required for %s", j.Kind)
		}
		f, err := codec.ParseFormat(string(j.Format))
		if err != nil {
			return j, err
		}
		j.Format = f
	}
	if _, err := document.ParseExtJSONMode(string(j.Options.JSONMode)); err != nil {
		return j, err
	}
	if err := j.Options.Flatten.Validate(); err != nil {
		return j, err
	}
	enc, err := codec.ParseEncoding(string(j.Options.Encoding))
	if err != nil {
		return j, err
	}
	j.Options.Encoding = enc
	if utf8.RuneCountInString(j.Options.Delimiter) != 1 {
		return j, fmt.Errorf("delimiter must be a single character, got %q", j.Options.Delimiter)
	}
	switch j.Options.InsertMode {
	case InsertStrict, InsertUpsert, InsertReplace:
	default:
		return j, fmt.Errorf("unknown insert mode %q", j.Options.InsertMode)
	}
	switch j.Options.Columns {
	case ColumnsFull, ColumnsSample:
	default:
		return j, fmt.Errorf("unknown column strategy %q", j.Options.Columns)
	}
	if j.Options.Limit < 0 || j.Options.DocsPerSecond < 0 || j.Options.ReadAhead < 0 {
		return j, fmt.Errorf("limit, read-ahead and rate must not be negative")
	}
	if _, err := j.Query.Parse(); err != nil {
		return j, err
	}

	switch j.Scope {
	case ScopeCollection, ScopeDatabase:
	default:
		return j, fmt.Errorf("unknown scope %q", j.Scope)
	}

	needColl := j.Scope == ScopeCollection
	switch j.Kind {
	case KindExport:
		if err := requireStore(j.Source, needColl && j.Format != codec.FormatArchive); err != nil {
			return j, fmt.Errorf("source: %w", err)
		}
		if j.Destination.Path == "" {
			return j, fmt.Errorf("destination path is required")
		}
	case KindImport:
		if j.Source.Path == "" {
			return j, fmt.Errorf("source path is required")
		}
		if err := requireStore(j.Destination, needColl && j.Format != codec.FormatArchive); err != nil {
			return j, fmt.Errorf("destination: %w", err)
		}
	case KindCopy:
		if err := requireStore(j.Source, needColl); err != nil {
			return j, fmt.Errorf("source: %w", err)
		}
		if err := requireStore(j.Destination, needColl); err != nil {
			return j, fmt.Errorf("destination: %w", err)
		}
		if j.Source == j.Destination {
			return j, fmt.Errorf("source and destination are the same")
		}
	default:
		return j, fmt.Errorf("unknown transfer kind %q", j.Kind)
	}
	if j.Format == codec.FormatArchive && j.Source.Collection == "" && j.Scope == ScopeCollection && j.Kind == KindExport {
		j.Scope = ScopeDatabase
	}
	return j, nil
}

// outputPath is the file an export actually writes for path.
func (j Job) outputPath(path string) string {
	if j.Options.Gzip && !codec.IsGzipName(path) {
		return path + codec.GzipExtension
	}
	return path
}

func requireStore(e Endpoint, needCollection bool) error {
	if e.Database == "" {
		return fmt.Errorf("database is required")
	}
	if needCollection && e.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	return nil
}

// DestinationKey identifies what a run writes to. Two runs with the same
// key must not be active at once.
func (j Job) DestinationKey() string {
	if j.Kind == KindExport {
		path := j.Destination.Path
		if j.Scope != ScopeDatabase && j.Format != codec.FormatArchive {
			path = j.outputPath(path)
		}
		return "file:" + filepath.Clean(path)
	}
	conn := j.Destination.ConnectionID
	if conn == "" {
		conn = j.Destination.URI
	}
	if j.Scope == ScopeDatabase {
		return "db:" + conn + "/" + j.Destination.Database
	}
	return "db:" + conn + "/" + j.Destination.Database + "/" + j.Destination.Collection
}
