package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"coffre/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigCheckCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template to edit by hand",
		Long: "Writes a configuration populated with defaults. The vault section " +
			"must be filled in before the file validates; `coffre setup` builds a " +
			"complete configuration interactively instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			if err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", ctx.configPath)
			}
			if err != nil && !errors.Is(err, config.ErrNotFound) && !overwrite {
				return err
			}

			target := ctx.configPath
			cfg := config.Default()
			if dataDir := ctx.dataDirValue(); dataDir != "" {
				expanded, err := config.ExpandPath(dataDir)
				if err != nil {
					return err
				}
				cfg.DataDir = expanded
			} else {
				defaultDir, err := config.DefaultDataDir()
				if err != nil {
					return err
				}
				cfg.DataDir = defaultDir
			}

			if err := config.WriteAtomic(target, &cfg); err != nil {
				return fmt.Errorf("write config template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s; fill in [vault] before use.\n", target)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing config file")
	return cmd
}

func newConfigCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and list every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			out := cmd.OutOrStdout()
			switch {
			case err == nil:
				fmt.Fprintf(out, "OK: %s\n", ctx.configPath)
				return nil
			case errors.Is(err, config.ErrNotFound):
				return fmt.Errorf("no configuration found at %s", ctx.configPath)
			default:
				var invalid *config.InvalidError
				if errors.As(err, &invalid) {
					fmt.Fprintf(out, "%s has %d problem(s):\n", invalid.Path, len(invalid.Problems))
					for _, problem := range invalid.Problems {
						fmt.Fprintf(out, "  - %s\n", problem)
					}
					return fmt.Errorf("configuration invalid")
				}
				return err
			}
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				if errors.Is(err, config.ErrNotFound) {
					return fmt.Errorf("no configuration found at %s", ctx.configPath)
				}
				return err
			}

			var rendered strings.Builder
			encoder := toml.NewEncoder(&rendered)
			if err := encoder.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", ctx.configPath, rendered.String())
			return nil
		},
	}
}
