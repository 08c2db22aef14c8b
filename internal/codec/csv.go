package codec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
)

// ── CSV ────────────────────────────────────────────────────
// Rows are flattened documents. The header is the column schema
// computed before the first write; it is written even when no rows
// follow. Import requires a header and rebuilds nesting from it.

type csvCodec struct{}

func init() { Register(csvCodec{}) }

func (csvCodec) Spec() Spec {
	return Spec{Format: FormatCSV, Label: "CSV", Extension: "csv", Tabular: true}
}

func (csvCodec) NewEncoder(w io.Writer, opts Options) (Encoder, error) {
	if opts.Columns == nil {
		return nil, fmt.Errorf("csv export needs a column schema")
	}
	cw := csv.NewWriter(w)
	cw.Comma = opts.delimiter()
	return &csvEncoder{
		w:       cw,
		flat:    flatten.New(opts.Flatten),
		schema:  flatten.NewColumnSchema(opts.Columns.Columns(), flatten.UnseenDrop),
		dropped: map[string]struct{}{},
	}, nil
}

func (csvCodec) NewDecoder(r io.Reader, opts Options) (Decoder, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.delimiter()
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return &csvDecoder{r: cr, flat: flatten.New(opts.Flatten)}, nil
}

type csvEncoder struct {
	w           *csv.Writer
	flat        *flatten.Flattener
	schema      *flatten.ColumnSchema
	wroteHeader bool
	dropped     map[string]struct{}
	droppedList []string
}

func (e *csvEncoder) header() error {
	if e.wroteHeader {
		return nil
	}
	e.wroteHeader = true
	return e.w.Write(e.schema.Columns())
}

func (e *csvEncoder) WriteBatch(docs []document.Document) error {
	if err := e.header(); err != nil {
		return err
	}
	var failed []RecordError
	for i, doc := range docs {
		row, err := e.flat.Flatten(doc)
		if err != nil {
			failed = append(failed, RecordError{Index: int64(i), Err: err})
			continue
		}
		cells, unseen := e.schema.Align(row)
		for _, p := range unseen {
			if _, ok := e.dropped[p]; ok {
				continue
			}
			e.dropped[p] = struct{}{}
			e.droppedList = append(e.droppedList, p)
			log.Printf("[CSV] column %q is not in the header, dropping it", p)
		}
		if err := e.w.Write(cells); err != nil {
			return err
		}
	}
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &BatchError{Failures: failed}
	}
	return nil
}

func (e *csvEncoder) Close() error {
	if err := e.header(); err != nil {
		return err
	}
	e.w.Flush()
	return e.w.Error()
}

// DroppedColumns lists paths that appeared after the header was fixed.
func (e *csvEncoder) DroppedColumns() []string {
	return append([]string(nil), e.droppedList...)
}

type csvDecoder struct {
	r      *csv.Reader
	flat   *flatten.Flattener
	schema *flatten.ColumnSchema
	// keep maps schema column i to its position in the input record;
	// columns with an empty header name are skipped.
	keep  []int
	cells []string
	index int64
}

func (d *csvDecoder) readHeader() error {
	header, err := d.r.Read()
	if errors.Is(err, io.EOF) {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	names := make([]string, 0, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			return fmt.Errorf("csv header repeats column %q", h)
		}
		seen[h] = struct{}{}
		names = append(names, h)
		d.keep = append(d.keep, i)
	}
	if len(names) == 0 {
		return ErrMissingHeader
	}
	schema := flatten.NewColumnSchema(names, flatten.UnseenDrop)
	if _, err := schema.Paths(); err != nil {
		return err
	}
	d.schema = schema
	d.cells = make([]string, len(names))
	return nil
}

func (d *csvDecoder) Next() (document.Document, error) {
	if d.schema == nil {
		if err := d.readHeader(); err != nil {
			return nil, err
		}
	}
	record, err := d.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	idx := d.index
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			d.index++
			return nil, &RecordError{Index: idx, Line: pe.StartLine, Err: pe.Err}
		}
		return nil, err
	}
	d.index++
	line, _ := d.r.FieldPos(0)
	for i, pos := range d.keep {
		d.cells[i] = record[pos]
	}
	doc, err := d.flat.Unflatten(d.cells, d.schema)
	if err != nil {
		return nil, &RecordError{Index: idx, Line: line, Err: err}
	}
	return doc, nil
}
