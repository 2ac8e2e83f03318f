package client

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/internal/vault"
	"github.com/mwantia/goblob/pkg/blobstore"
)

func NewImportCommand() *cobra.Command {
	var (
		opts        vault.ImportOptions
		kind        string
		provider    string
		identifiers []string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Store a file and optionally reference it from a pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Kind = blobstore.ParseKind(kind)
			if provider != "" {
				opts.Origin = &blobstore.Origin{
					Provider:    provider,
					Identifiers: identifiers,
				}
			}

			return withVault(cmd, func(v *vault.Vault) error {
				imported, err := v.Import(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				return printResult(cmd, imported, func(w io.Writer) {
					fmt.Fprintf(w, "%s Imported %s as %s (%s)\n",
						successColor.Sprint("✓"), imported.Name, imported.Digest, formatBytes(imported.Size))
					if !imported.ManifestWritten {
						fmt.Fprintln(w, dimColor.Sprint("  Manifest already present, kept the existing one"))
					}
					if imported.Pack != "" {
						fmt.Fprintf(w, "  Referenced by pack '%s'\n", imported.Pack)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Pack, "pack", "", "record the file as a dependency of this pack")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (defaults to the file name)")
	cmd.Flags().StringVar(&kind, "kind", "", "model kind (checkpoint, lora, vae, embedding, controlnet, upscaler, other)")
	cmd.Flags().StringVar(&provider, "provider", "", "provider the file was downloaded from")
	cmd.Flags().StringSliceVar(&identifiers, "id", nil, "provider identifiers of the file")
	addJSONFlag(cmd)

	return cmd
}

func NewPackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Manage pack lock state",
		Long:  "List packs and edit the dependencies they lock. Reference counts are derived from this state.",
	}

	cmd.AddCommand(newPackListCommand())
	cmd.AddCommand(newPackAddCommand())
	cmd.AddCommand(newPackRemoveDependencyCommand())
	cmd.AddCommand(newPackRemoveCommand())

	return cmd
}

func newPackListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List packs and their dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				packs, err := v.Packs(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, packs, func(w io.Writer) {
					if len(packs) == 0 {
						fmt.Fprintln(w, dimColor.Sprint("No packs"))
						return
					}
					for _, pack := range packs {
						titleColor.Fprintf(w, "%s", pack.Name)
						fmt.Fprintf(w, " (%d dependencies)\n", pack.Dependencies)
						for _, d := range pack.Digests {
							fmt.Fprintf(w, "  %s\n", d)
						}
					}
				})
			})
		},
	}

	addJSONFlag(cmd)

	return cmd
}

func newPackAddCommand() *cobra.Command {
	var (
		dependency refindex.Dependency
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "add-dep <pack> <digest>",
		Short: "Lock a digest as a dependency of a pack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := vault.ParseDigest(args[1])
			if err != nil {
				return err
			}
			dependency.Pack = args[0]
			dependency.Digest = d
			dependency.Kind = blobstore.ParseKind(kind)

			return withVault(cmd, func(v *vault.Vault) error {
				if err := v.AddDependency(cmd.Context(), dependency); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s now depends on %s\n", successColor.Sprint("✓"), dependency.Pack, d.Short())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dependency.Name, "name", "", "display name of the dependency")
	cmd.Flags().StringVar(&kind, "kind", "", "model kind of the dependency")
	cmd.Flags().Int64Var(&dependency.Size, "size", 0, "declared size in bytes")

	return cmd
}

func newPackRemoveDependencyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm-dep <pack> <digest>",
		Short: "Drop a dependency from a pack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := vault.ParseDigest(args[1])
			if err != nil {
				return err
			}

			return withVault(cmd, func(v *vault.Vault) error {
				if err := v.RemoveDependency(cmd.Context(), args[0], d); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s no longer depends on %s\n", successColor.Sprint("✓"), args[0], d.Short())
				return nil
			})
		},
	}
}

func newPackRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <pack>",
		Short: "Drop a pack and all of its dependencies",
		Long:  "Drop a pack. Blobs only this pack referenced become orphans; run cleanup to delete them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, func(v *vault.Vault) error {
				if err := v.RemovePack(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Removed pack %s\n", successColor.Sprint("✓"), args[0])
				return nil
			})
		},
	}
}
