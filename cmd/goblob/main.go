package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/mwantia/goblob/cmd/goblob/cli"
	"github.com/mwantia/goblob/cmd/goblob/cli/client"
	"github.com/mwantia/goblob/cmd/goblob/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	info := cli.VersionInfo{
		Version: version,
		Commit:  commit,
	}
	root := cli.NewRootCommand(info)

	root.AddCommand(cli.NewVersionCommand(info))

	root.AddCommand(server.NewAgentCommand())
	root.AddCommand(server.NewConfigCommand())

	root.AddCommand(client.NewInventoryCommand())
	root.AddCommand(client.NewImpactCommand())
	root.AddCommand(client.NewRemoveCommand())
	root.AddCommand(client.NewBackupCommand())
	root.AddCommand(client.NewRestoreCommand())
	root.AddCommand(client.NewCleanupCommand())
	root.AddCommand(client.NewSyncCommand())
	root.AddCommand(client.NewVerifyCommand())
	root.AddCommand(client.NewStatusCommand())
	root.AddCommand(client.NewImportCommand())
	root.AddCommand(client.NewPackCommand())
	root.AddCommand(client.NewRunCommand())
	root.AddCommand(client.NewDatabaseCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := root.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
