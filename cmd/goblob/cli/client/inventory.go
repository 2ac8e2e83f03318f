package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/vault"
)

func NewInventoryCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "inventory",
		Aliases: []string{"ls"},
		Short:   "List every known blob",
		Long:    "List every blob held locally, on the backup or referenced by a pack, with its location, status and reference count.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				summary, err := v.Inventory(cmd.Context())
				if err != nil {
					return err
				}
				if status != "" {
					filtered := summary.Items[:0]
					for _, item := range summary.Items {
						if string(item.Status) == status {
							filtered = append(filtered, item)
						}
					}
					summary.Items = filtered
				}

				return printResult(cmd, summary, func(w io.Writer) {
					printInventory(w, summary)
				})
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list blobs with this status (referenced, orphan, missing, backup_only)")
	addJSONFlag(cmd)

	return cmd
}

func printInventory(w io.Writer, summary *inventory.Summary) {
	table := newTable(w)
	fmt.Fprintln(table, "DIGEST\tNAME\tKIND\tSIZE\tLOCATION\tSTATUS\tREFS\tVERIFIED")
	for _, item := range summary.Items {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			item.Digest.Short(), item.Name, item.Kind, formatBytes(item.Size), item.Location,
			statusColor(item.Status).Sprint(item.Status), item.RefCount, item.Verified)
	}
	table.Flush()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d blobs, %s\n", titleColor.Sprint("Total:"), summary.Total.Count, formatBytes(summary.Total.Bytes))
	for _, status := range []inventory.Status{
		inventory.StatusReferenced,
		inventory.StatusOrphan,
		inventory.StatusBackupOnly,
		inventory.StatusMissing,
	} {
		if totals, ok := summary.ByStatus[status]; ok {
			fmt.Fprintf(w, "  %-12s %d blobs, %s\n", statusColor(status).Sprint(status), totals.Count, formatBytes(totals.Bytes))
		}
	}

	switch {
	case !summary.Backup.Enabled:
		fmt.Fprintln(w, dimColor.Sprint("Backup location is not configured"))
	case !summary.Backup.Connected:
		fmt.Fprintln(w, warnColor.Sprint("Backup location is not reachable, backup copies are not listed"))
	}
}

func NewImpactCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "impact <digest>",
		Short: "Show what deleting a blob would affect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := vault.ParseDigest(args[0])
			if err != nil {
				return err
			}
			t, err := inventory.ParseTarget(target)
			if err != nil {
				return fmt.Errorf("%w: %v", vault.ErrInvalidArgument, err)
			}

			return withVault(cmd, func(v *vault.Vault) error {
				impact, err := v.Impact(cmd.Context(), d, t)
				if err != nil {
					return err
				}
				return printResult(cmd, impact, func(w io.Writer) {
					printImpact(w, impact)
				})
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", "both", "copies to delete (local, backup, both)")
	addJSONFlag(cmd)

	return cmd
}

func printImpact(w io.Writer, impact *inventory.Impact) {
	titleColor.Fprintf(w, "%s\n", impact.Digest)
	fmt.Fprintf(w, "  Target:   %s\n", impact.Target)
	fmt.Fprintf(w, "  Location: %s\n", impact.Location)
	fmt.Fprintf(w, "  Status:   %s\n", statusColor(impact.Status).Sprint(impact.Status))
	fmt.Fprintf(w, "  Size:     %s\n", formatBytes(impact.Size))
	if len(impact.Packs) > 0 {
		fmt.Fprintf(w, "  Packs:    %s\n", strings.Join(impact.Packs, ", "))
	}
	if impact.SafeToDelete {
		fmt.Fprintf(w, "  Safe:     %s\n", successColor.Sprint("yes"))
	} else {
		fmt.Fprintf(w, "  Safe:     %s\n", errorColor.Sprint("no"))
	}
	if impact.Warning != "" {
		fmt.Fprintf(w, "  %s %s\n", warnColor.Sprint("Warning:"), impact.Warning)
	}
}

func NewRemoveCommand() *cobra.Command {
	var (
		target string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "rm <digest>",
		Short: "Delete copies of a blob",
		Long: `Delete the local copy, the backup copy or both copies of a blob.

Deleting the last copy of a blob that a pack still references is refused
unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := vault.ParseDigest(args[0])
			if err != nil {
				return err
			}
			t, err := inventory.ParseTarget(target)
			if err != nil {
				return fmt.Errorf("%w: %v", vault.ErrInvalidArgument, err)
			}

			return withVault(cmd, func(v *vault.Vault) error {
				deletion, err := v.Delete(cmd.Context(), d, t, force)
				if err != nil {
					return err
				}
				return printResult(cmd, deletion, func(w io.Writer) {
					if deletion.Warning != "" {
						fmt.Fprintf(w, "%s %s\n", warnColor.Sprint("Warning:"), deletion.Warning)
					}
					for _, location := range deletion.Removed {
						fmt.Fprintf(w, "%s Deleted %s from %s\n", successColor.Sprint("✓"), d.Short(), location)
					}
					fmt.Fprintf(w, "Freed %s\n", formatBytes(deletion.BytesFreed))
				})
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", "both", "copies to delete (local, backup, both)")
	cmd.Flags().BoolVar(&force, "force", false, "delete even if the last copy is still referenced")
	addJSONFlag(cmd)

	return cmd
}

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the backup location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				status := v.BackupStatus(cmd.Context())
				return printResult(cmd, status, func(w io.Writer) {
					printBackupStatus(w, status)
				})
			})
		},
	}

	addJSONFlag(cmd)

	return cmd
}

func printBackupStatus(w io.Writer, status vault.BackupStatus) {
	if !status.Enabled {
		fmt.Fprintln(w, dimColor.Sprint("Backup location is not configured"))
		return
	}

	titleColor.Fprintf(w, "Backup %s\n", status.Path)
	if status.Connected {
		fmt.Fprintf(w, "  Connected: %s\n", successColor.Sprint("yes"))
		fmt.Fprintf(w, "  Free:      %s\n", formatBytes(status.FreeBytes))
	} else {
		fmt.Fprintf(w, "  Connected: %s\n", errorColor.Sprint("no"))
		fmt.Fprintf(w, "  Error:     %s\n", status.Error)
	}
}
