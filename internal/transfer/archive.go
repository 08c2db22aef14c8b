package transfer

import (
	"context"
	"errors"
	"fmt"

	"doctransfer/internal/archive"
)

// runArchive hands the whole job to the dump/restore tools. Their unit of
// progress is a collection, so cancellation kills the tool and the
// committed count is the sum of collections reported as finished.
func (r *run) runArchive(ctx context.Context) error {
	if r.p.archive == nil {
		return errors.New("archive transfers are not available: no tool runner configured")
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.token.Done():
			cancel()
		case <-actx.Done():
		}
	}()

	var (
		current  string
		unitDone int
	)
	onProgress := func(ev archive.Progress) {
		switch ev.Kind {
		case archive.Started:
			current = ev.Collection
		case archive.Advanced:
			current = ev.Collection
			p := Progress{JobID: r.job.ID, Unit: ev.Collection, Committed: r.out.Committed, UnitIndex: unitDone}
			if r.job.Kind == KindExport {
				p.Processed, p.Total, p.TotalKnown = int64(ev.Current), int64(ev.Total), true
			}
			emit(r.progress, p)
		case archive.Completed:
			n := int64(ev.Documents)
			r.out.Processed += n
			r.out.Committed += n
			r.out.Units = append(r.out.Units, UnitOutcome{Unit: ev.Collection, Committed: n})
			unitDone++
			emit(r.progress, Progress{JobID: r.job.ID, Unit: ev.Collection, Processed: n, Committed: r.out.Committed, UnitIndex: unitDone})
		}
	}

	j := r.job
	var err error
	switch j.Kind {
	case KindExport:
		if j.Source.URI == "" {
			return errors.New("archive export needs a connection URI")
		}
		o := archive.DumpOptions{
			URI:      j.Source.URI,
			Database: j.Source.Database,
			Path:     j.Destination.Path,
			Archive:  j.Options.ArchiveFile,
			Gzip:     j.Options.Gzip,
			Exclude:  j.Options.Exclude,
		}
		if j.Scope == ScopeCollection {
			o.Collection = j.Source.Collection
		}
		err = r.p.archive.Dump(actx, o, onProgress)
	case KindImport:
		if j.Destination.URI == "" {
			return errors.New("archive import needs a connection URI")
		}
		err = r.p.archive.Restore(actx, archive.RestoreOptions{
			URI:      j.Destination.URI,
			Database: j.Destination.Database,
			Path:     j.Source.Path,
			Drop:     j.Options.DropBefore,
			Gzip:     j.Options.Gzip,
		}, onProgress)
	default:
		return fmt.Errorf("archive format does not support %s", j.Kind)
	}

	if err != nil && r.token.Cancelled() && errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if err != nil && current != "" {
		return fmt.Errorf("%s: %w", current, err)
	}
	return err
}
