package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRootCommand(info VersionInfo) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:           "goblob",
		Short:         "GoBlob content-addressed blob store",
		Long:          "A content-addressed store for large model files with a local working copy, an optional backup location, reference-counted deletion and integrity verification.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				color.NoColor = true
			}
			return initConfig(path)
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().Bool("no-color", false, "Disables colored command output")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.no_color", cmd.PersistentFlags().Lookup("no-color"))

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}
