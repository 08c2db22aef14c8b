package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"doctransfer/internal/codec"
	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
)

// unit is one collection of a run and, for file transfers, its file.
type unit struct {
	name string
	src  Endpoint
	dst  Endpoint
	path string
}

// ── Units ──────────────────────────────────────────────────
// A database-scope run is a sequence of independent collection units.
// Exported files are named <db>_<collection>.<ext>; imports map each
// file back to a collection by stripping that prefix.

func (r *run) units(ctx context.Context) ([]unit, error) {
	j := r.job
	if j.Scope == ScopeCollection {
		switch j.Kind {
		case KindExport:
			return []unit{{name: j.Source.Collection, src: j.Source, path: r.outputPath(j.Destination.Path)}}, nil
		case KindImport:
			return []unit{{name: j.Destination.Collection, dst: j.Destination, path: j.Source.Path}}, nil
		default:
			return []unit{{name: j.Source.Collection, src: j.Source, dst: j.Destination}}, nil
		}
	}

	if j.Kind == KindImport {
		return r.importFiles()
	}
	colls, err := r.p.store.Collections(ctx, j.Source)
	if err != nil {
		return nil, fmt.Errorf("list collections of %s: %w", j.Source.Database, err)
	}
	colls = filterCollections(colls, j.Options.Exclude)
	spec, err := r.spec()
	if err != nil && j.Kind == KindExport {
		return nil, err
	}
	units := make([]unit, 0, len(colls))
	for _, c := range colls {
		u := unit{name: c, src: j.Source.WithCollection(c)}
		if j.Kind == KindExport {
			u.path = r.outputPath(filepath.Join(j.Destination.Path, fmt.Sprintf("%s_%s.%s", j.Source.Database, c, spec.Extension)))
		} else {
			u.dst = j.Destination.WithCollection(c)
		}
		units = append(units, u)
	}
	return units, nil
}

// filterCollections drops system collections and excluded names and
// sorts the rest.
func filterCollections(colls, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	out := make([]string, 0, len(colls))
	for _, c := range colls {
		if strings.HasPrefix(c, "system.") || skip[c] {
			continue
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *run) importFiles() ([]unit, error) {
	j := r.job
	spec, err := r.spec()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(j.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("read import folder: %w", err)
	}
	skip := make(map[string]bool, len(j.Options.Exclude))
	for _, e := range j.Options.Exclude {
		skip[e] = true
	}
	var units []unit
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		coll, ok := CollectionFromFile(e.Name(), j.Destination.Database, spec.Extension)
		if !ok || skip[coll] {
			continue
		}
		units = append(units, unit{
			name: coll,
			dst:  j.Destination.WithCollection(coll),
			path: filepath.Join(j.Source.Path, e.Name()),
		})
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no .%s files in %s", spec.Extension, j.Source.Path)
	}
	return units, nil
}

// CollectionFromFile maps an exported file name back to its collection:
// "shop_orders.jsonl.gz" is "orders" for database "shop". Names without
// the database prefix are used as they are.
func CollectionFromFile(name, database, ext string) (string, bool) {
	base := strings.TrimSuffix(name, codec.GzipExtension)
	if !strings.HasSuffix(base, "."+ext) {
		return "", false
	}
	base = strings.TrimSuffix(base, "."+ext)
	if database != "" {
		base = strings.TrimPrefix(base, database+"_")
	}
	return base, base != ""
}

func (r *run) outputPath(path string) string { return r.job.outputPath(path) }

func (r *run) spec() (codec.Spec, error) {
	c, err := codec.Get(r.job.Format)
	if err != nil {
		return codec.Spec{}, err
	}
	return c.Spec(), nil
}

func (r *run) codecOptions() codec.Options {
	o := r.job.Options
	return codec.Options{
		Pretty:    o.Pretty,
		Mode:      o.JSONMode,
		Delimiter: o.delimiter(),
		Flatten:   o.Flatten,
	}
}

// ── Export ─────────────────────────────────────────────────

func (r *run) exportUnit(ctx context.Context, u *unitRun) (err error) {
	c, err := codec.Get(r.job.Format)
	if err != nil {
		return err
	}
	src, err := r.p.store.Source(ctx, u.src, r.query, r.job.Options.Limit)
	if err != nil {
		return fmt.Errorf("open %s: %w", u.src, err)
	}
	u.total, u.totalKnown = src.Estimate(ctx)
	if u.totalKnown && r.job.Options.Limit > 0 && u.total > r.job.Options.Limit {
		u.total = r.job.Options.Limit
	}

	opts := r.codecOptions()
	if c.Spec().Tabular {
		schema, err := r.discover(ctx, u, src)
		if err != nil {
			return err
		}
		opts.Columns = schema
		if u.count == 1 {
			r.out.Columns = schema.Columns()
		}
	}

	if err := os.MkdirAll(filepath.Dir(u.path), 0o755); err != nil {
		return fmt.Errorf("create output folder: %w", err)
	}
	f, err := os.Create(u.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	zw := codec.WrapWriter(f, r.job.Options.Gzip)
	enc, err := c.NewEncoder(zw, opts)
	if err != nil {
		f.Close()
		return err
	}
	// The trailer is written even on failure or cancel, so the file
	// holds exactly the committed batches in a well-formed layout.
	defer func() {
		closeErr := errors.Join(enc.Close(), zw.Close(), f.Close())
		if err == nil && closeErr != nil {
			err = fmt.Errorf("finish %s: %w", u.path, closeErr)
		}
		if d, ok := enc.(interface{ DroppedColumns() []string }); ok {
			r.out.DroppedColumns = append(r.out.DroppedColumns, d.DroppedColumns()...)
		}
	}()

	cur, err := src.Open(ctx, 0)
	if err != nil {
		return fmt.Errorf("read %s: %w", u.src, err)
	}
	defer cur.Close(ctx)

	log.Printf("[TRANSFER] Exporting %s to %s", src.Label(), u.path)
	return r.pump(ctx, u, cursorReader(cur), encoderWriter(enc))
}

func encoderWriter(enc codec.Encoder) writer {
	return func(_ context.Context, recs []record) (int64, []WriteFailure, error) {
		err := enc.WriteBatch(docsOf(recs))
		var be *codec.BatchError
		if errors.As(err, &be) {
			failures := make([]WriteFailure, 0, len(be.Failures))
			for _, f := range be.Failures {
				failures = append(failures, WriteFailure{Index: int(f.Index), Err: f.Err})
			}
			return int64(len(recs) - len(failures)), failures, nil
		}
		if err != nil {
			return 0, nil, err
		}
		return int64(len(recs)), nil, nil
	}
}

// discover runs the first of the two CSV passes: it collects the header
// and lossy-type warnings. The token is checked once per batch worth of
// documents.
func (r *run) discover(ctx context.Context, u *unitRun, src Source) (*flatten.ColumnSchema, error) {
	fl := flatten.New(r.job.Options.Flatten)
	d := flatten.NewDiscoverer(r.job.Options.discovery())
	cur, err := src.Open(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.src, err)
	}
	defer cur.Close(ctx)

	seen := map[string]bool{}
	var n int64
	for !d.Done() {
		if r.job.Options.Limit > 0 && n >= r.job.Options.Limit {
			break
		}
		if n%int64(r.job.Options.BatchSize) == 0 && r.token.Cancelled() {
			return nil, ErrCancelled
		}
		doc, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		n++
		if err != nil {
			if _, ok := r.asRecordError(u, err); ok {
				continue
			}
			return nil, err
		}
		row, err := fl.Flatten(doc)
		if err != nil {
			continue
		}
		d.Observe(row)
		for _, w := range fl.Warnings([]document.Document{doc}) {
			msg := w.String()
			if u.count > 1 {
				msg = u.name + ": " + msg
			}
			if !seen[msg] {
				seen[msg] = true
				r.out.Warnings = append(r.out.Warnings, msg)
			}
		}
	}
	log.Printf("[TRANSFER] Discovered %d columns in %s (%s, %d documents)", len(d.Schema(flatten.UnseenDrop).Columns()), u.name, r.job.Options.discovery(), d.Observed())
	return d.Schema(flatten.UnseenDrop), nil
}

// ── Import ─────────────────────────────────────────────────

func (r *run) importUnit(ctx context.Context, u *unitRun) error {
	c, err := codec.Get(r.job.Format)
	if err != nil {
		return err
	}
	f, err := os.Open(u.path)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()
	rc, err := codec.WrapReader(f, r.job.Options.Encoding)
	if err != nil {
		return fmt.Errorf("read %s: %w", u.path, err)
	}
	defer rc.Close()
	dec, err := c.NewDecoder(rc, r.codecOptions())
	if err != nil {
		return err
	}

	dst, err := r.p.store.Destination(ctx, u.dst, r.destinationOptions())
	if err != nil {
		return fmt.Errorf("open %s: %w", u.dst, err)
	}
	defer dst.Close(ctx)

	log.Printf("[TRANSFER] Importing %s into %s", u.path, u.dst)
	read := func(context.Context) (document.Document, error) { return dec.Next() }
	return r.pump(ctx, u, read, storeWriter(dst))
}

func (r *run) destinationOptions() DestinationOptions {
	o := r.job.Options
	return DestinationOptions{Mode: o.InsertMode, Ordered: o.StopOnError, Drop: o.DropBefore}
}

// ── Copy ───────────────────────────────────────────────────

func (r *run) copyUnit(ctx context.Context, u *unitRun) error {
	src, err := r.p.store.Source(ctx, u.src, r.query, r.job.Options.Limit)
	if err != nil {
		return fmt.Errorf("open %s: %w", u.src, err)
	}
	u.total, u.totalKnown = src.Estimate(ctx)
	if u.totalKnown && r.job.Options.Limit > 0 && u.total > r.job.Options.Limit {
		u.total = r.job.Options.Limit
	}
	dst, err := r.p.store.Destination(ctx, u.dst, r.destinationOptions())
	if err != nil {
		return fmt.Errorf("open %s: %w", u.dst, err)
	}
	defer dst.Close(ctx)
	cur, err := src.Open(ctx, 0)
	if err != nil {
		return fmt.Errorf("read %s: %w", u.src, err)
	}
	defer cur.Close(ctx)

	log.Printf("[TRANSFER] Copying %s to %s", src.Label(), u.dst)
	return r.pump(ctx, u, cursorReader(cur), storeWriter(dst))
}
