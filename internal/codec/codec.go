package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
)

// ── Codec ──────────────────────────────────────────────────
// A Codec turns documents into a file encoding and back.
// Implementations live in this package, one file per format, and
// register themselves from init().

// Format names a file encoding.
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatArchive Format = "archive" // handled by the archive package, never registered
)

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jsonl", "ndjson", "json-lines":
		return FormatJSONL, nil
	case "json", "json-array":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "archive", "bson", "dump":
		return FormatArchive, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// Spec describes a registered codec.
type Spec struct {
	Format    Format `json:"format"`
	Label     string `json:"label"`
	Extension string `json:"extension"`
	// Tabular codecs need a column schema before the first write.
	Tabular bool `json:"tabular"`
}

// Options are shared by every codec; each reads the fields it needs.
type Options struct {
	Pretty    bool
	Mode      document.ExtJSONMode
	Delimiter rune
	Flatten   flatten.Options
	// Columns is the header for tabular encoders. Required for CSV writes.
	Columns *flatten.ColumnSchema
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// Encoder writes documents to an underlying stream. WriteBatch either
// writes every document, returns a *BatchError naming the documents it
// skipped, or returns a plain error when the stream itself failed.
// Close writes any trailer; it never closes the underlying writer.
type Encoder interface {
	WriteBatch(docs []document.Document) error
	Close() error
}

// Decoder reads documents one at a time. Next returns io.EOF at the end
// of input and a *RecordError for a bad record, after which the decoder
// is still usable. Any other error is fatal.
type Decoder interface {
	Next() (document.Document, error)
}

// Codec is implemented by every file format.
type Codec interface {
	Spec() Spec
	NewEncoder(w io.Writer, opts Options) (Encoder, error)
	NewDecoder(r io.Reader, opts Options) (Decoder, error)
}

// ── Registry ───────────────────────────────────────────────

var (
	registryMu sync.RWMutex
	registry   = map[Format]Codec{}
)

// Register adds a codec under its spec format.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Spec().Format] = c
}

// Get returns the codec registered for format.
func Get(format Format) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("no codec for format %q", format)
	}
	return c, nil
}

// Formats lists registered codecs sorted by format name.
func Formats() []Spec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]Spec, 0, len(registry))
	for _, c := range registry {
		specs = append(specs, c.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Format < specs[j].Format })
	return specs
}
