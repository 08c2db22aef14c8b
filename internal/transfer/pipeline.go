package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"doctransfer/internal/archive"
	"doctransfer/internal/codec"
	"doctransfer/internal/document"
)

// ── Pipeline ───────────────────────────────────────────────
// Run drives one job to a terminal state: it reads fixed-size batches
// from the source, writes each batch to the destination, reports
// progress after every batch and checks the cancel token between
// batches. A batch is the unit of commit; cancellation never splits one.

// ArchiveRunner runs the external dump/restore tools.
type ArchiveRunner interface {
	Dump(ctx context.Context, o archive.DumpOptions, onProgress func(archive.Progress)) error
	Restore(ctx context.Context, o archive.RestoreOptions, onProgress func(archive.Progress)) error
}

// Pipeline executes jobs against a Store.
type Pipeline struct {
	store    Store
	archive  ArchiveRunner
	defaults Options
}

// NewPipeline creates a pipeline. runner may be nil when archive
// transfers are not needed.
func NewPipeline(store Store, runner ArchiveRunner, defaults Options) *Pipeline {
	return &Pipeline{store: store, archive: runner, defaults: defaults.withDefaults(DefaultOptions())}
}

// Defaults returns the options applied to zero-valued job fields.
func (p *Pipeline) Defaults() Options { return p.defaults }

// Run executes job and returns its outcome. progress may be nil; sends
// on it never block. token may be nil.
func (p *Pipeline) Run(ctx context.Context, job Job, progress chan<- Progress, token *CancelToken) *Outcome {
	start := time.Now()
	out := &Outcome{JobID: job.ID, State: StateRunning, StartedAt: start}

	job, err := job.Normalize(p.defaults)
	if err != nil {
		out.State = StateFailed
		out.Err = fmt.Errorf("invalid job: %w", err)
		out.Duration = time.Since(start)
		log.Printf("[TRANSFER] Job %s rejected: %v", job.ID, err)
		return out
	}

	r := &run{
		p:        p,
		job:      job,
		out:      out,
		progress: progress,
		token:    token,
		errs:     errorLog{max: job.Options.MaxErrors},
	}
	r.query, _ = job.Query.Parse()
	if job.Options.DocsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(job.Options.DocsPerSecond), job.Options.BatchSize)
	}

	log.Printf("[TRANSFER] Starting %s job %s (%s, scope=%s)", job.Kind, job.ID, job.Format, job.Scope)
	if job.Format == codec.FormatArchive {
		err = r.runArchive(ctx)
	} else {
		err = r.runUnits(ctx)
	}
	r.finish(err, start)
	log.Printf("[TRANSFER] Job %s %s: %d committed, %d failed in %s",
		job.ID, out.State, out.Committed, out.Failed, out.Duration.Round(time.Millisecond))
	return out
}

// ── Run state ──────────────────────────────────────────────

type run struct {
	p        *Pipeline
	job      Job
	query    ParsedQuery
	out      *Outcome
	progress chan<- Progress
	token    *CancelToken
	limiter  *rate.Limiter
	errs     errorLog
}

// record is one document with its position in the unit's stream.
type record struct {
	doc    document.Document
	offset int64
	line   int
}

// batch is what the reader hands the writer. Read failures travel with
// the batch so they are counted in stream order.
type batch struct {
	records []record
	errs    []*RecordError
	read    int64
	eof     bool
	err     error
}

type reader func(ctx context.Context) (document.Document, error)

type writer func(ctx context.Context, recs []record) (int64, []WriteFailure, error)

// unitRun tracks one collection or file.
type unitRun struct {
	unit
	index, count int
	offset       int64
	remaining    int64 // -1 when unlimited
	processed    int64
	committed    int64
	failed       int64
	total        int64
	totalKnown   bool
}

func (r *run) runUnits(ctx context.Context) error {
	units, err := r.units(ctx)
	if err != nil {
		return err
	}
	for i, u := range units {
		if r.token.Cancelled() {
			return ErrCancelled
		}
		ur := &unitRun{unit: u, index: i, count: len(units), remaining: -1}
		if r.job.Options.Limit > 0 {
			ur.remaining = r.job.Options.Limit
		}
		var err error
		switch r.job.Kind {
		case KindExport:
			err = r.exportUnit(ctx, ur)
		case KindImport:
			err = r.importUnit(ctx, ur)
		case KindCopy:
			err = r.copyUnit(ctx, ur)
		}
		uo := UnitOutcome{Unit: u.name, Path: u.path, Committed: ur.committed, Failed: ur.failed}
		if err != nil && !errors.Is(err, ErrCancelled) {
			uo.Error = err.Error()
		}
		r.out.Units = append(r.out.Units, uo)
		if err != nil {
			return err
		}
	}
	return nil
}

// pump moves batches from read to write until the input ends, the token
// is set or a fatal error occurs. With ReadAhead the reader runs in its
// own goroutine, up to ReadAhead batches ahead of the writer.
func (r *run) pump(ctx context.Context, u *unitRun, read reader, write writer) error {
	ahead := r.job.Options.ReadAhead
	if ahead <= 0 {
		for {
			if r.token.Cancelled() {
				return ErrCancelled
			}
			b := r.readBatch(ctx, u, read)
			if err := r.commit(ctx, u, b, write); err != nil {
				return err
			}
			if b.eof {
				return nil
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan batch, ahead)
	g.Go(func() error {
		defer close(batches)
		for {
			b := r.readBatch(gctx, u, read)
			select {
			case batches <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
			if b.eof || b.err != nil {
				return nil
			}
		}
	})
	g.Go(func() error {
		for b := range batches {
			if r.token.Cancelled() {
				return ErrCancelled
			}
			if err := r.commit(gctx, u, b, write); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// readBatch reads up to BatchSize documents. It only touches the
// reader-side fields of u.
func (r *run) readBatch(ctx context.Context, u *unitRun, read reader) batch {
	var b batch
	size := r.job.Options.BatchSize
	for len(b.records) < size {
		if u.remaining == 0 {
			b.eof = true
			return b
		}
		doc, err := read(ctx)
		if errors.Is(err, io.EOF) {
			b.eof = true
			return b
		}
		if err != nil {
			if re, ok := r.asRecordError(u, err); ok {
				b.errs = append(b.errs, re)
				b.read++
				u.offset++
				continue
			}
			b.err = err
			return b
		}
		b.records = append(b.records, record{doc: doc, offset: u.offset})
		b.read++
		u.offset++
		if u.remaining > 0 {
			u.remaining--
		}
	}
	return b
}

func (r *run) asRecordError(u *unitRun, err error) (*RecordError, bool) {
	var own *RecordError
	if errors.As(err, &own) {
		cp := *own
		cp.Kind, cp.Unit, cp.Offset = PerRecord, u.name, u.offset
		return &cp, true
	}
	var ce *codec.RecordError
	if errors.As(err, &ce) {
		re := newRecordError(PerRecord, u.name, u.offset, ce.Err)
		re.Line = ce.Line
		return re, true
	}
	return nil, false
}

// commit writes one batch and accounts for it.
func (r *run) commit(ctx context.Context, u *unitRun, b batch, write writer) error {
	for _, re := range b.errs {
		r.fail(u, re)
		if r.job.Options.StopOnError {
			return fmt.Errorf("stopped on first error: %w", re)
		}
	}
	u.processed += b.read
	r.out.Processed += b.read

	if len(b.records) > 0 {
		if r.limiter != nil {
			if err := r.limiter.WaitN(ctx, len(b.records)); err != nil {
				return err
			}
		}
		written, failures, err := write(ctx, b.records)
		u.committed += written
		r.out.Committed += written
		for _, f := range failures {
			if f.Index < 0 || f.Index >= len(b.records) {
				continue
			}
			rec := b.records[f.Index]
			re := newRecordError(PerRecord, u.name, rec.offset, f.Err)
			re.Line = rec.line
			re.Key = document.KeyOf(rec.doc, rec.offset)
			r.fail(u, re)
		}
		if err != nil {
			return err
		}
		if r.job.Options.StopOnError && len(failures) > 0 {
			return fmt.Errorf("stopped on first error: %w", r.errs.last)
		}
	}
	r.report(u)
	if b.err != nil {
		return b.err
	}
	return nil
}

func (r *run) fail(u *unitRun, re *RecordError) {
	u.failed++
	r.errs.add(re)
}

func (r *run) report(u *unitRun) {
	emit(r.progress, Progress{
		JobID:      r.job.ID,
		Unit:       u.name,
		Processed:  u.processed,
		Committed:  r.out.Committed,
		Failed:     r.errs.count,
		Total:      u.total,
		TotalKnown: u.totalKnown,
		UnitIndex:  u.index,
		UnitCount:  u.count,
	})
}

func (r *run) finish(err error, start time.Time) {
	o := r.out
	o.Errors = r.errs.errs
	o.ErrorsTruncated = r.errs.truncated
	o.Failed = r.errs.count
	switch {
	case err == nil:
		o.State = StateCompleted
	case errors.Is(err, ErrCancelled):
		o.State = StateCancelled
		o.Err = ErrCancelled
	default:
		o.State = StateFailed
		o.Err = err
	}
	o.Duration = time.Since(start)
}

func docsOf(recs []record) []document.Document {
	docs := make([]document.Document, len(recs))
	for i, rec := range recs {
		docs[i] = rec.doc
	}
	return docs
}

func storeWriter(dst Destination) writer {
	return func(ctx context.Context, recs []record) (int64, []WriteFailure, error) {
		res, err := dst.WriteBatch(ctx, docsOf(recs))
		return res.Written, res.Failures, err
	}
}

func cursorReader(c Cursor) reader {
	return c.Next
}
