package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mwantia/goblob/internal/cleanup"
	"github.com/mwantia/goblob/internal/syncer"
	"github.com/mwantia/goblob/internal/vault"
	"github.com/mwantia/goblob/internal/verify"
	"github.com/mwantia/goblob/pkg/digest"
)

func NewBackupCommand() *cobra.Command {
	return newTransferCommand("backup", "Copy a blob to the backup location", (*vault.Vault).Backup)
}

func NewRestoreCommand() *cobra.Command {
	return newTransferCommand("restore", "Copy a blob from the backup location to local storage", (*vault.Vault).Restore)
}

type transferFunc func(v *vault.Vault, ctx context.Context, d digest.Digest) (*vault.Transfer, error)

func newTransferCommand(use, short string, fn transferFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <digest>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := vault.ParseDigest(args[0])
			if err != nil {
				return err
			}

			return withVault(cmd, func(v *vault.Vault) error {
				result, err := fn(v, cmd.Context(), d)
				if err != nil {
					return err
				}
				return printResult(cmd, result, func(w io.Writer) {
					if result.Skipped {
						fmt.Fprintf(w, "%s %s: %s\n", dimColor.Sprint("-"), d.Short(), result.Note)
						return
					}
					fmt.Fprintf(w, "%s %s %s (%s)\n", successColor.Sprint("✓"), result.Direction, d.Short(), formatBytes(result.Bytes))
				})
			})
		},
	}

	addJSONFlag(cmd)

	return cmd
}

func NewSyncCommand() *cobra.Command {
	var (
		pack   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sync <to_backup|from_backup>",
		Short: "Copy every blob missing on one side to the other",
		Long: `Copy blobs that exist only locally to the backup location (to_backup), or
blobs that exist only on the backup to local storage (from_backup).

Use --dry-run to list what would be copied without touching either side.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(syncer.ToBackup), string(syncer.FromBackup)},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := vault.SyncRequest{
				Direction: args[0],
				DryRun:    dryRun,
				Pack:      pack,
			}

			return withVault(cmd, func(v *vault.Vault) error {
				resp, err := v.BackupSync(cmd.Context(), req)
				if err != nil && !errors.Is(err, vault.ErrPartialFailure) {
					return err
				}
				if perr := printResult(cmd, resp, func(w io.Writer) {
					if resp.Plan != nil {
						printSyncPlan(w, resp.Plan)
					}
					if resp.Result != nil {
						printSyncResult(w, resp.Result)
					}
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&pack, "pack", "", "only sync blobs referenced by this pack")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only show what would be copied")
	addJSONFlag(cmd)

	return cmd
}

func printSyncPlan(w io.Writer, plan *syncer.Plan) {
	titleColor.Fprintf(w, "Sync %s (%s)\n", plan.Direction, plan.Scope)
	table := newTable(w)
	for _, item := range plan.Items {
		fmt.Fprintf(table, "  %s\t%s\t%s\n", item.Digest.Short(), item.Name, formatBytes(item.Size))
	}
	table.Flush()
	fmt.Fprintf(w, "%d blobs to sync, %s\n", plan.BlobsToSync, formatBytes(plan.BytesToSync))
}

func printSyncResult(w io.Writer, result *syncer.Result) {
	titleColor.Fprintf(w, "Sync %s (%s): %s\n", result.Direction, result.Scope, runStatusColor(result.Status).Sprint(result.Status))
	fmt.Fprintf(w, "  Synced:  %s blobs, %s\n", humanize.Comma(int64(result.BlobsSynced)), formatBytes(result.BytesSynced))
	fmt.Fprintf(w, "  Skipped: %d\n", result.SkippedItems)
	fmt.Fprintf(w, "  Failed:  %d\n", result.FailedItems)
	printItemErrors(w, result.Errors)
	if result.FailedItems > 0 {
		fmt.Fprintf(w, "Run the sync again to retry the %d failed item(s) of run %s\n", result.FailedItems, result.RunID)
	}
}

func NewCleanupCommand() *cobra.Command {
	var (
		dryRun        bool
		includeBackup bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete blobs no pack references",
		Long: `Delete orphaned blobs, blobs that no pack references any more.

Only local copies are removed unless --include-backup is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := vault.CleanupRequest{
				DryRun:        dryRun,
				IncludeBackup: includeBackup,
			}

			return withVault(cmd, func(v *vault.Vault) error {
				resp, err := v.CleanupOrphans(cmd.Context(), req)
				if err != nil && !errors.Is(err, vault.ErrPartialFailure) {
					return err
				}
				if perr := printResult(cmd, resp, func(w io.Writer) {
					if resp.Report != nil {
						printCleanupReport(w, resp.Report)
					}
					if resp.Result != nil {
						printCleanupResult(w, resp.Result)
					}
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list the orphans")
	cmd.Flags().BoolVar(&includeBackup, "include-backup", false, "also delete orphaned backup copies")
	addJSONFlag(cmd)

	return cmd
}

func printCleanupReport(w io.Writer, report *cleanup.Report) {
	titleColor.Fprintf(w, "Orphans (%s)\n", report.Scope)
	table := newTable(w)
	for _, item := range report.Items {
		fmt.Fprintf(table, "  %s\t%s\t%s\t%s\n", item.Digest.Short(), item.Name, item.Location, formatBytes(item.Size))
	}
	table.Flush()
	fmt.Fprintf(w, "%d orphans, %s would be freed\n", report.OrphansFound, formatBytes(report.BytesFreed))
}

func printCleanupResult(w io.Writer, result *cleanup.Result) {
	titleColor.Fprintf(w, "Cleanup (%s): %s\n", result.Scope, runStatusColor(result.Status).Sprint(result.Status))
	fmt.Fprintf(w, "  Deleted: %d blobs, %s freed\n", result.Deleted, formatBytes(result.BytesFreed))
	fmt.Fprintf(w, "  Skipped: %d\n", result.SkippedItems)
	fmt.Fprintf(w, "  Failed:  %d\n", result.FailedItems)
	printItemErrors(w, result.Errors)
}

func NewVerifyCommand() *cobra.Command {
	var (
		pack     string
		location string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Rehash stored blobs and report corrupted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := vault.VerifyRequest{
				Pack:     pack,
				Location: location,
			}

			return withVault(cmd, func(v *vault.Vault) error {
				resp, err := v.Verify(cmd.Context(), req)
				if err != nil && !errors.Is(err, vault.ErrPartialFailure) {
					return err
				}
				if perr := printResult(cmd, resp, func(w io.Writer) {
					printVerifyReport(w, resp.Report)
				}); perr != nil {
					return perr
				}
				if err == nil && len(resp.Report.Invalid) > 0 {
					return fmt.Errorf("%w: %d blob(s) failed verification", vault.ErrIntegrity, len(resp.Report.Invalid))
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&pack, "pack", "", "only verify blobs referenced by this pack")
	cmd.Flags().StringVar(&location, "location", "local", "copies to verify (local, backup, both)")
	addJSONFlag(cmd)

	return cmd
}

func printVerifyReport(w io.Writer, report *verify.Report) {
	titleColor.Fprintf(w, "Verify %s (%s): %s\n", report.Location, report.Scope, runStatusColor(report.Status).Sprint(report.Status))
	for _, d := range report.Invalid {
		fmt.Fprintf(w, "  %s %s\n", errorColor.Sprint("✗ invalid"), d)
	}
	fmt.Fprintf(w, "  Valid:   %d\n", len(report.Valid))
	fmt.Fprintf(w, "  Invalid: %d\n", len(report.Invalid))
	printItemErrors(w, report.Errors)
}
