package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

func newConnCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conn",
		Aliases: []string{"connections"},
		Short:   "Manage saved database connections",
	}
	cmd.AddCommand(
		newConnListCmd(root),
		newConnAddCmd(root),
		newConnRmCmd(root),
		newConnTestCmd(root),
		newConnCollectionsCmd(root),
	)
	return cmd
}

func newConnListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			conns, err := a.Connections.ListConnections()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDRIVER\tHOST\tDATABASE")
			for _, c := range conns {
				host := c.Host
				if c.Port != 0 {
					host = fmt.Sprintf("%s:%d", c.Host, c.Port)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Driver, host, c.Database)
			}
			return tw.Flush()
		},
	}
}

func newConnAddCmd(root *rootOptions) *cobra.Command {
	var in service.CreateConnInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a connection",
		Long: `Save a connection and print its ID. For MongoDB, --host may be a full
mongodb:// or mongodb+srv:// URI; a <db_password> placeholder in it is
replaced by the password. For SQLite, --host is the database file.

Passwords are kept in the secrets file, or can be supplied at run time in
DOCTRANSFER_DB_<ID> (ID upper-cased, dashes as underscores).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Name == "" {
				in.Name = in.Host
			}
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			conn, err := a.Connections.CreateConnection(in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conn.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "display name (default the host)")
	f.StringVar(&in.Driver, "driver", "mongodb", "mongodb, postgres, mysql or sqlite")
	f.StringVar(&in.Host, "host", "", "host name, connection URI or SQLite file")
	f.IntVar(&in.Port, "port", 0, "port (default for the driver)")
	f.StringVar(&in.Database, "database", "", "default database")
	f.StringVar(&in.Username, "user", "", "user name")
	f.StringVar(&in.Password, "password", "", "password")
	f.StringVar(&in.SSLMode, "ssl-mode", "", "SSL mode for postgres and mysql")
	f.StringVar(&in.ExtraJSON, "extra", "", `driver options as JSON, e.g. {"authSource":"admin"}`)
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newConnRmCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a saved connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)
			return a.Connections.DeleteConnection(args[0])
		},
	}
}

func newConnTestCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Check that a saved connection can be reached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			if err := a.Connections.TestConnection(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("connection %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newConnCollectionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "collections <id> [database]",
		Aliases: []string{"ls"},
		Short:   "List the collections or tables behind a connection",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			ep := transfer.Endpoint{ConnectionID: args[0]}
			if len(args) == 2 {
				ep.Database = args[1]
			}
			names, err := a.Connections.Collections(cmd.Context(), ep)
			if err != nil {
				return err
			}
			if len(names) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			}
			return nil
		},
	}
}
