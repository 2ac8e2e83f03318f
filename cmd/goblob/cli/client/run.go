package client

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mwantia/goblob/internal/vault"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect recorded transfer runs",
	}

	cmd.AddCommand(newRunListCommand())
	cmd.AddCommand(newRunShowCommand())

	return cmd
}

func newRunListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				history, err := v.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printResult(cmd, history, func(w io.Writer) {
					table := newTable(w)
					fmt.Fprintln(table, "ID\tKIND\tSCOPE\tSTATUS\tITEMS\tFAILED\tBYTES\tSTARTED")
					for _, run := range history {
						started := "-"
						if run.StartedAt != nil {
							started = humanize.Time(*run.StartedAt)
						}
						fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
							run.RunID, run.Kind, run.Scope, runStatusColor(run.Status).Sprint(run.Status),
							run.TotalItems, run.FailedItems, formatBytes(run.BytesDone), started)
					}
					table.Flush()
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	addJSONFlag(cmd)

	return cmd
}

func newRunShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a sync, cleanup or verify run and its failed items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				run, err := v.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printResult(cmd, run, func(w io.Writer) {
					printRun(w, run)
				})
			})
		},
	}

	addJSONFlag(cmd)

	return cmd
}

func NewDatabaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Metadata database utilities",
	}

	cmd.AddCommand(newDatabaseStatusCommand())

	return cmd
}

func newDatabaseStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List schema migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				statuses, err := v.Migrations(cmd.Context())
				if err != nil {
					return err
				}

				table := newTable(cmd.OutOrStdout())
				fmt.Fprintln(table, "VERSION\tDESCRIPTION\tSTATE")
				for _, status := range statuses {
					state := warnColor.Sprint("pending")
					if status.Applied {
						state = successColor.Sprint("applied")
					}
					fmt.Fprintf(table, "%d\t%s\t%s\n", status.Version, status.Description, state)
				}
				return table.Flush()
			})
		},
	}
}
