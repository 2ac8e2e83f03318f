package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type VersionInfo struct {
	Version string
	Commit  string
}

func NewVersionCommand(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "goblob %s (%s) %s/%s %s\n",
				info.Version, info.Commit, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
