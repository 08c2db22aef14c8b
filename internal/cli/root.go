// Package cli is the doctransfer command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"doctransfer/internal/app"
	"doctransfer/internal/config"
	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the command tree. Each call returns fresh commands
// with their own flag state.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "doctransfer",
		Short: "Move documents between MongoDB, files and SQL databases",
		Long: `doctransfer exports collections to JSON, JSON Lines, CSV and mongodump
archives, imports them back, and copies between databases.

Jobs are JSON files describing a transfer. They can be run once with
'doctransfer run', or saved with a schedule or file trigger and executed
by 'doctransfer serve'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				log.SetOutput(cmd.ErrOrStderr())
			} else {
				log.SetOutput(io.Discard)
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(
		newRunCmd(opts),
		newPreviewCmd(opts),
		newServeCmd(opts),
		newJobsCmd(opts),
		newRunsCmd(opts),
		newConnCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// Execute runs the command line and prints a failing command's error.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath()
}

// openApp loads the config and builds the services. Callers must Shutdown.
func (o *rootOptions) openApp() (*app.App, error) {
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, err
	}
	return app.New(cfg, service.LogEmitter{})
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	a.Shutdown(ctx)
}

// readJob decodes a job file. "-" reads standard input.
func readJob(cmd *cobra.Command, path string) (transfer.Job, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return transfer.Job{}, fmt.Errorf("read job: %w", err)
	}
	var job transfer.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return transfer.Job{}, fmt.Errorf("parse job %s: %w", path, err)
	}
	return job, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
