package cli

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run saved jobs on their schedules and file triggers",
		Long: `Run in the foreground, executing enabled saved jobs when their cron
schedule fires or their watched file changes. Stops on SIGINT or SIGTERM,
cancelling active transfers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon always logs.
			log.SetOutput(cmd.ErrOrStderr())

			a, err := root.openApp()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.Startup(ctx)
			log.Printf("[SERVE] Running, press Ctrl-C to stop")
			<-ctx.Done()
			log.Printf("[SERVE] Shutting down")
			shutdown(a)
			return nil
		},
	}
}
