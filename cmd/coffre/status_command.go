package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"coffre/internal/config"
	"coffre/internal/ipc"
	"coffre/internal/journal"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and recent session events",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := printDaemonStatus(cmd, ctx, out); err != nil {
				return err
			}
			if historyLimit > 0 {
				return printHistory(cmd, ctx, out, historyLimit)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&historyLimit, "history", 0, "Also show the N most recent session events")
	return cmd
}

func printDaemonStatus(cmd *cobra.Command, ctx *commandContext, out io.Writer) error {
	var info *ipc.GetInfoResponse
	err := ctx.withClient(cmd.Context(), func(client *ipc.Client) error {
		resp, err := client.GetInfo(cmd.Context())
		if err != nil {
			return err
		}
		info = resp
		return nil
	})
	if err != nil {
		fmt.Fprintf(out, "Daemon: %s\n", paintStatus("unreachable", color.FgRed, out))
		fmt.Fprintf(out, "  %v\n", err)
		return nil
	}

	fmt.Fprintf(out, "Daemon: %s\n", paintStatus("running", color.FgGreen, out))
	fmt.Fprintln(out, renderFieldTable([][2]string{
		{"Version", info.Version},
		{"Network", info.Network},
		{"Block height", strconv.FormatInt(info.Blockheight, 10)},
		{"Sync", fmt.Sprintf("%.1f%%", info.Sync*100)},
		{"PID", strconv.Itoa(info.PID)},
	}))
	return nil
}

func printHistory(cmd *cobra.Command, ctx *commandContext, out io.Writer, limit int) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no configuration found; run `coffre setup` to create one")
		}
		return err
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	events, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No session events recorded yet.")
		return nil
	}

	fmt.Fprintln(out, renderEventTable(events))
	return nil
}

// paintStatus colors the value when the destination is a terminal.
func paintStatus(value string, attr color.Attribute, out io.Writer) string {
	if !writerIsTerminal(out) {
		return value
	}
	return color.New(attr).Sprint(value)
}

func writerIsTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
