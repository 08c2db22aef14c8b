package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"doctransfer/internal/domain"
	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

func newJobsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage saved jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(root),
		newJobsShowCmd(root),
		newJobsAddCmd(root),
		newJobsRunCmd(root),
		newJobsRmCmd(root),
	)
	return cmd
}

func newJobsListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			jobs, err := a.Jobs.ListJobs()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTRIGGER\tENABLED\tLAST RUN\tSTATUS")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					j.ID, j.Name, triggerText(j), j.Enabled, timeText(j.LastRunAt), j.LastStatus)
			}
			return tw.Flush()
		},
	}
}

func triggerText(j domain.SavedJob) string {
	if j.TriggerType == domain.TriggerManual || j.TriggerConfig == "" {
		return string(j.TriggerType)
	}
	return fmt.Sprintf("%s(%s)", j.TriggerType, j.TriggerConfig)
}

func timeText(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newJobsShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved job's definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			saved, err := a.Jobs.GetJob(args[0])
			if err != nil {
				return err
			}
			var job transfer.Job
			if err := json.Unmarshal([]byte(saved.JobJSON), &job); err != nil {
				return fmt.Errorf("saved job %s: %w", saved.ID, err)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newJobsAddCmd(root *rootOptions) *cobra.Command {
	var (
		trigger  string
		on       string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "add <name> <job.json>",
		Short: "Save a job, optionally with a trigger",
		Long: `Save the job file under a name. Triggers:

  manual       run only with 'doctransfer jobs run' (default)
  schedule     --on is a cron spec, e.g. "0 3 * * *"
  file_watch   --on is the file to watch; defaults to the import's source path

The printed ID identifies the job in the other jobs commands.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := readJob(cmd, args[1])
			if err != nil {
				return err
			}
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			saved, err := a.Jobs.CreateJob(cmd.Context(), service.SaveJobInput{
				Name:          args[0],
				Job:           job,
				TriggerType:   trigger,
				TriggerConfig: on,
				Enabled:       !disabled,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", string(domain.TriggerManual), "manual, schedule or file_watch")
	cmd.Flags().StringVar(&on, "on", "", "cron spec or watched path for the trigger")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "save the job without activating its trigger")
	return cmd
}

func newJobsRunCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run a saved job now and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			h, err := a.Transfers.SubmitSaved(ctx, args[0])
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

func newJobsRmCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a saved job and its run history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)
			return a.Jobs.DeleteJob(cmd.Context(), args[0])
		},
	}
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [saved-job-id]",
		Short: "Show run history, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			var savedJobID string
			if len(args) == 1 {
				savedJobID = args[0]
			}
			runs, err := a.Transfers.ListRuns(savedJobID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tKIND\tDESTINATION\tSTATE\tSTARTED\tCOMMITTED\tFAILED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.JobID, r.Kind, r.Destination, r.State, timeText(&r.StartedAt), r.Committed, r.Failed, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
