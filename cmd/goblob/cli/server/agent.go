package server

import (
	"context"
	"fmt"

	"github.com/mwantia/goblob/internal/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	config "github.com/mwantia/goblob/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the GoBlob agent",
		Long: `Start the GoBlob agent.

The agent opens the local and backup stores and serves the HTTP API
until it receives an interrupt. Background runs are cancelled on
shutdown after their in-flight items finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			agent := agent.NewAgent(cfg)
			return agent.Serve(context.Background())
		},
	}

	cmd.Flags().String("address", "", "address the HTTP API listens on")
	viper.BindPFlag("http.address", cmd.Flags().Lookup("address"))

	return cmd
}
