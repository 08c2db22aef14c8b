package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"doctransfer/internal/codec"
	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
)

// PreviewResult is the first rows of a job's input, both as documents and
// as the flattened table a CSV export would produce.
type PreviewResult struct {
	Columns   []string            `json:"columns"`
	Rows      [][]string          `json:"rows"`
	Documents []document.Document `json:"-"`
	// JSON holds each document as relaxed Extended JSON.
	JSON     []string       `json:"json"`
	Errors   []*RecordError `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// Preview reads at most limit documents of the job's input without
// writing anything. Columns grow as new paths appear.
func (p *Pipeline) Preview(ctx context.Context, job Job, limit int) (*PreviewResult, error) {
	job, err := job.Normalize(p.defaults)
	if err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}
	if job.Format == codec.FormatArchive {
		return nil, errors.New("archive transfers cannot be previewed")
	}
	if job.Scope != ScopeCollection {
		return nil, errors.New("preview needs a single collection or file")
	}

	r := &run{p: p, job: job}
	var next reader
	switch job.Kind {
	case KindImport:
		c, err := codec.Get(job.Format)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(job.Source.Path)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		rc, err := codec.WrapReader(f, job.Options.Encoding)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		dec, err := c.NewDecoder(rc, r.codecOptions())
		if err != nil {
			return nil, err
		}
		next = func(context.Context) (document.Document, error) { return dec.Next() }
	default:
		q, _ := job.Query.Parse()
		src, err := p.store.Source(ctx, job.Source, q, int64(limit))
		if err != nil {
			return nil, err
		}
		cur, err := src.Open(ctx, 0)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)
		next = cursorReader(cur)
	}
	return r.preview(ctx, next, limit)
}

// preview skips records the way a run does: decode failures of either
// the file or the store cursor land in Errors.
func (r *run) preview(ctx context.Context, next reader, limit int) (*PreviewResult, error) {
	fl := flatten.New(r.job.Options.Flatten)
	u := &unitRun{unit: unit{name: "preview"}}
	schema := flatten.NewColumnSchema(nil, flatten.UnseenAppend)
	res := &PreviewResult{}
	var rows [][]string
	for len(res.Documents) < limit {
		doc, err := next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if re, ok := r.asRecordError(u, err); ok {
				res.Errors = append(res.Errors, re)
				u.offset++
				continue
			}
			return nil, err
		}
		u.offset++
		row, err := fl.Flatten(doc)
		if err != nil {
			return nil, err
		}
		cells, _ := schema.Align(row)
		rows = append(rows, cells)
		res.Documents = append(res.Documents, doc)
		raw, err := document.MarshalExtJSON(doc, document.Relaxed, false)
		if err != nil {
			return nil, err
		}
		res.JSON = append(res.JSON, string(raw))
	}

	res.Columns = schema.Columns()
	for _, cells := range rows {
		for len(cells) < len(res.Columns) {
			cells = append(cells, "")
		}
		res.Rows = append(res.Rows, cells)
	}
	for _, w := range fl.Warnings(res.Documents) {
		res.Warnings = append(res.Warnings, w.String())
	}
	return res, nil
}
