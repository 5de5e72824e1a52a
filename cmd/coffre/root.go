package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var confFlag string
	var dataDirFlag string

	ctx := newCommandContext(&confFlag, &dataDirFlag)

	rootCmd := &cobra.Command{
		Use:           "coffre",
		Short:         "Coffre vault front-end",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&confFlag, "conf", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "datadir", "", "Data directory holding coffre.toml and daemon state")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newSetupCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newVaultsCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
