package client

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	config "github.com/mwantia/goblob/internal/config/server"
	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/internal/vault"
	"github.com/mwantia/goblob/pkg/log"
)

var (
	titleColor   = color.New(color.FgHiCyan, color.Bold)
	successColor = color.New(color.FgHiGreen)
	errorColor   = color.New(color.FgHiRed)
	warnColor    = color.New(color.FgHiYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.FgHiBlack)
)

// openVault loads the server configuration and opens the stores it
// names. The caller owns the returned vault.
func openVault(cmd *cobra.Command) (*vault.Vault, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server configuration: %w", err)
	}
	if cfg.Log.NoColor {
		color.NoColor = true
	}

	logger := log.NewLoggerService("goblob", cfg.Log)
	return vault.Open(cmd.Context(), cfg, logger)
}

// withVault opens the vault for the duration of fn.
func withVault(cmd *cobra.Command, fn func(v *vault.Vault) error) error {
	v, err := openVault(cmd)
	if err != nil {
		return err
	}
	defer v.Close()

	return fn(v)
}

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "print the result as JSON")
}

// printResult writes value as JSON when --json is set and falls back to
// the human readable form otherwise.
func printResult(cmd *cobra.Command, value any, human func(w io.Writer)) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	human(cmd.OutOrStdout())
	return nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func statusColor(status inventory.Status) *color.Color {
	switch status {
	case inventory.StatusReferenced:
		return successColor
	case inventory.StatusOrphan:
		return warnColor
	case inventory.StatusMissing:
		return errorColor
	default:
		return infoColor
	}
}

func runStatusColor(status transfer.RunStatus) *color.Color {
	switch status {
	case transfer.RunCompleted:
		return successColor
	case transfer.RunFailed:
		return errorColor
	case transfer.RunCancelled:
		return warnColor
	default:
		return infoColor
	}
}

func printItemErrors(w io.Writer, errs []transfer.ItemError) {
	for _, e := range errs {
		fmt.Fprintf(w, "  %s %s: %s\n", errorColor.Sprint("✗"), e.Digest.Short(), e.Error)
	}
}

func printRun(w io.Writer, run transfer.Run) {
	titleColor.Fprintf(w, "Run %s\n", run.RunID)
	fmt.Fprintf(w, "  Kind:      %s\n", run.Kind)
	if run.Direction != "" {
		fmt.Fprintf(w, "  Direction: %s\n", run.Direction)
	}
	if run.Scope != "" {
		fmt.Fprintf(w, "  Scope:     %s\n", run.Scope)
	}
	if run.ParentRunID != "" {
		fmt.Fprintf(w, "  Retry of:  %s\n", run.ParentRunID)
	}
	fmt.Fprintf(w, "  Status:    %s\n", runStatusColor(run.Status).Sprint(run.Status))
	fmt.Fprintf(w, "  Items:     %d total, %d completed, %d failed, %d skipped, %d pending\n",
		run.TotalItems, run.CompletedItems, run.FailedItems, run.SkippedItems, run.PendingItems)
	fmt.Fprintf(w, "  Bytes:     %s of %s\n", formatBytes(run.BytesDone), formatBytes(run.TotalBytes))
	if run.StartedAt != nil {
		fmt.Fprintf(w, "  Started:   %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), humanize.Time(*run.StartedAt))
	}
	if run.Elapsed > 0 {
		fmt.Fprintf(w, "  Elapsed:   %s\n", run.Elapsed.Round(time.Millisecond))
	}
	printItemErrors(w, run.Failures())
}
