package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	config "github.com/mwantia/goblob/internal/config/server"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
		Long: `Manage GoBlob configuration files.

This command provides utilities for generating a default configuration
and inspecting the configuration the agent would run with.`,
	}

	cmd.AddCommand(newConfigGenerateCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a default configuration file",
		Long: `Generate goblob.yaml with every option set to its default value.

Rename it to config.yaml, or pass it with --config, after adjusting the
store and backup paths.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			filename := filepath.Join(outputDir, "goblob.yaml")
			if _, err := os.Stat(filename); err == nil && !overwrite {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipping %s (file exists, use --overwrite to replace)\n", filename)
				return nil
			}

			data, err := yaml.Marshal(config.GetServerDefault())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			if err := os.WriteFile(filename, data, 0644); err != nil {
				return fmt.Errorf("failed to write config file %s: %w", filename, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", filename)
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for configuration files")
	cmd.Flags().Bool("overwrite", false, "overwrite existing files")

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			defer encoder.Close()
			return encoder.Encode(cfg)
		},
	}
}
