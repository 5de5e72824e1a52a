package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"coffre/internal/ipc"
)

func newVaultsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "vaults",
		Short: "List the vaults tracked by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
				resp, err := client.ListVaults(cmd.Context())
				if err != nil {
					return fmt.Errorf("list vaults: %w", err)
				}

				out := cmd.OutOrStdout()
				vaults := make([]ipc.Vault, 0, len(resp.Vaults))
				for _, vault := range resp.Vaults {
					if statusFilter != "" && string(vault.Status) != statusFilter {
						continue
					}
					vaults = append(vaults, vault)
				}
				if len(vaults) == 0 {
					fmt.Fprintln(out, "No vaults.")
					return nil
				}
				fmt.Fprintln(out, renderVaultTable(vaults))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show vaults in the given status")
	return cmd
}

// formatSats renders a satoshi amount with BTC units.
func formatSats(sats uint64) string {
	whole := sats / 100_000_000
	frac := sats % 100_000_000
	return fmt.Sprintf("%d.%08d BTC", whole, frac)
}
