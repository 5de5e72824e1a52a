package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"coffre/internal/ipc"
	"coffre/internal/journal"
)

func newTableWriter(header table.Row, configs ...table.ColumnConfig) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	if len(configs) > 0 {
		tw.SetColumnConfigs(configs)
	}
	return tw
}

func numericColumn(number int) table.ColumnConfig {
	return table.ColumnConfig{
		Number:      number,
		Align:       text.AlignRight,
		AlignHeader: text.AlignLeft,
	}
}

// renderFieldTable renders the two-column field/value summary used by
// `coffre status`.
func renderFieldTable(fields [][2]string) string {
	tw := newTableWriter(table.Row{"Field", "Value"}, numericColumn(2))
	for _, field := range fields {
		tw.AppendRow(table.Row{field[0], field[1]})
	}
	return tw.Render()
}

// renderEventTable renders recent journal entries for `coffre status --history`.
func renderEventTable(events []journal.Event) string {
	tw := newTableWriter(table.Row{"Time", "Event", "Detail"})
	for _, event := range events {
		tw.AppendRow(table.Row{
			event.At.Local().Format("2006-01-02 15:04:05"),
			string(event.Kind),
			event.Detail,
		})
	}
	return tw.Render()
}

// renderVaultTable renders the deposit listing for `coffre vaults`.
func renderVaultTable(vaults []ipc.Vault) string {
	tw := newTableWriter(
		table.Row{"Deposit", "Vout", "Status", "Amount"},
		numericColumn(2), numericColumn(4),
	)
	for _, vault := range vaults {
		tw.AppendRow(table.Row{
			vault.Txid,
			strconv.FormatUint(uint64(vault.Vout), 10),
			string(vault.Status),
			formatSats(vault.Amount),
		})
	}
	return tw.Render()
}
