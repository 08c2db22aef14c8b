package flatten

import (
	"fmt"
	"sort"

	"doctransfer/internal/document"
)

// Discovery selects how column paths are collected before writing.
type Discovery struct {
	// Sample bounds the number of documents examined. Zero scans all.
	Sample int
}

// FullScan examines every document.
func FullScan() Discovery { return Discovery{} }

// Sample examines at most n documents.
func Sample(n int) Discovery { return Discovery{Sample: n} }

func (d Discovery) String() string {
	if d.Sample <= 0 {
		return "full"
	}
	return fmt.Sprintf("sample(%d)", d.Sample)
}

// Discoverer accumulates the union of paths in first-seen order.
type Discoverer struct {
	strategy Discovery
	seen     map[string]struct{}
	paths    []string
	observed int
}

// NewDiscoverer starts an empty discovery.
func NewDiscoverer(strategy Discovery) *Discoverer {
	return &Discoverer{strategy: strategy, seen: map[string]struct{}{}}
}

// Observe records the paths of one flattened row. It reports false once
// the sample bound is reached; further rows are ignored.
func (d *Discoverer) Observe(row Row) bool {
	if d.Done() {
		return false
	}
	d.observed++
	for _, c := range row {
		if _, ok := d.seen[c.Path]; ok {
			continue
		}
		d.seen[c.Path] = struct{}{}
		d.paths = append(d.paths, c.Path)
	}
	return !d.Done()
}

// Done reports whether a sample strategy has seen enough rows.
func (d *Discoverer) Done() bool {
	return d.strategy.Sample > 0 && d.observed >= d.strategy.Sample
}

// Observed is the number of rows recorded.
func (d *Discoverer) Observed() int { return d.observed }

// Schema returns the discovered columns.
func (d *Discoverer) Schema(unseen UnseenPolicy) *ColumnSchema {
	return NewColumnSchema(d.paths, unseen)
}

// DiscoverColumns full-scans docs and returns their column union.
func (f *Flattener) DiscoverColumns(docs []document.Document) (*ColumnSchema, error) {
	d := NewDiscoverer(FullScan())
	for i, doc := range docs {
		row, err := f.Flatten(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		d.Observe(row)
	}
	return d.Schema(UnseenDrop), nil
}

// ── fidelity warnings ──────────────────────────────────────

// Warning names a path whose values do not survive a CSV round-trip.
type Warning struct {
	Path string
	Kind document.Kind
	// EmptyName marks a field with an empty name, written as EmptyKey.
	EmptyName bool
}

func (w Warning) String() string {
	if w.EmptyName {
		return fmt.Sprintf("field %q has an empty name", w.Path)
	}
	return fmt.Sprintf("field %q contains %s which may lose type information", w.Path, w.Kind)
}

// Warnings scans docs for values that CSV cannot carry with their type.
// The result is sorted by path, then kind.
func (f *Flattener) Warnings(docs []document.Document) []Warning {
	seen := map[Warning]struct{}{}
	var walk func(path Path, v document.Value)
	field := func(path Path, fld document.Field) {
		if fld.Key == "" {
			seen[Warning{Path: path.String(), EmptyName: true}] = struct{}{}
		}
		walk(path, fld.Value)
	}
	walk = func(path Path, v document.Value) {
		switch v := v.(type) {
		case document.Document:
			for _, fld := range v {
				field(path.key(fld.Key), fld)
			}
			return
		case document.Array:
			for _, item := range v {
				walk(path, item)
			}
			return
		}
		if f.lossy(v.Kind()) {
			seen[Warning{Path: path.String(), Kind: v.Kind()}] = struct{}{}
		}
	}
	for _, doc := range docs {
		for _, fld := range doc {
			field(Path{{Key: fld.Key}}, fld)
		}
	}

	out := make([]Warning, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].EmptyName && !out[j].EmptyName
	})
	return out
}

func (f *Flattener) lossy(k document.Kind) bool {
	switch k {
	case document.KindExtended:
		return true
	case document.KindDateTime, document.KindDecimal128:
		return !f.opts.ExtendedScalars
	}
	return false
}
