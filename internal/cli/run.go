package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

// progressEvery throttles the progress lines printed while following a run.
const progressEvery = 500 * time.Millisecond

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "run <job.json>",
		Short: "Run a transfer job and wait for it",
		Long: `Run the transfer described by a job file ("-" reads it from stdin).

Progress is printed to stderr. Interrupting the command cancels the
transfer after its current batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJob(cmd, args[0])
			if err != nil {
				return err
			}
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			h, err := a.Transfers.Submit(ctx, job)
			if err != nil {
				return err
			}
			return follow(ctx, cmd, h, asJSON, quiet)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

// follow prints a run's progress until it ends, cancelling it when ctx is
// done, then reports the outcome. A run that did not complete is an error.
func follow(ctx context.Context, cmd *cobra.Command, h *service.Handle, asJSON, quiet bool) error {
	stderr := cmd.ErrOrStderr()
	go func() {
		select {
		case <-ctx.Done():
			fmt.Fprintln(stderr, "Cancelling...")
			h.Cancel()
		case <-h.Done():
		}
	}()

	var last time.Time
	for p := range h.Progress() {
		if quiet || time.Since(last) < progressEvery {
			continue
		}
		last = time.Now()
		fmt.Fprintln(stderr, progressLine(p))
	}
	<-h.Done()

	out := h.Outcome()
	if asJSON {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printOutcome(cmd.OutOrStdout(), out)
	}
	switch out.State {
	case transfer.StateCompleted:
		return nil
	case transfer.StateCancelled:
		return transfer.ErrCancelled
	default:
		return fmt.Errorf("transfer failed: %s", out.Error())
	}
}

func progressLine(p transfer.Progress) string {
	var b strings.Builder
	if p.UnitCount > 1 {
		fmt.Fprintf(&b, "[%d/%d] ", p.UnitIndex+1, p.UnitCount)
	}
	b.WriteString(p.Unit)
	if pct := p.Percent(); pct >= 0 {
		fmt.Fprintf(&b, " %d/%d (%.0f%%)", p.Processed, p.Total, pct)
	} else {
		fmt.Fprintf(&b, " %d", p.Processed)
	}
	fmt.Fprintf(&b, " committed=%d failed=%d", p.Committed, p.Failed)
	return b.String()
}

func printOutcome(w io.Writer, out *transfer.Outcome) {
	fmt.Fprintf(w, "%s: %d processed, %d committed, %d failed in %s\n",
		out.State, out.Processed, out.Committed, out.Failed, out.Duration.Round(time.Millisecond))
	if len(out.Units) > 1 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, u := range out.Units {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%s\n", u.Unit, u.Path, u.Committed, u.Failed, u.Error)
		}
		tw.Flush()
	}
	if len(out.DroppedColumns) > 0 {
		fmt.Fprintf(w, "dropped columns: %s\n", strings.Join(out.DroppedColumns, ", "))
	}
	for _, warn := range out.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, e := range out.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	if out.ErrorsTruncated {
		fmt.Fprintf(w, "... %d more errors not shown\n", out.Failed-int64(len(out.Errors)))
	}
}

func newPreviewCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "preview <job.json>",
		Short: "Show the first documents a job would read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJob(cmd, args[0])
			if err != nil {
				return err
			}
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			res, err := a.Transfers.Preview(cmd.Context(), job, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				for _, line := range res.JSON {
					fmt.Fprintln(w, line)
				}
			} else {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
				for _, row := range res.Rows {
					fmt.Fprintln(tw, strings.Join(row, "\t"))
				}
				tw.Flush()
			}
			for _, warn := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warn)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of documents to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print documents as Extended JSON instead of a table")
	return cmd
}
