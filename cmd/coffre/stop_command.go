package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"coffre/internal/config"
	"coffre/internal/ipc"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the daemon to shut down, escalating to SIGTERM if it lingers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd.Context(), ctx, cmd.OutOrStdout())
		},
	}
}

func stopDaemon(cmdCtx context.Context, ctx *commandContext, out io.Writer) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no configuration found; run `coffre setup` to create one")
		}
		return err
	}

	var pid int
	err = ctx.withClient(cmdCtx, func(client *ipc.Client) error {
		info, err := client.GetInfo(cmdCtx)
		if err != nil {
			return err
		}
		pid = info.PID
		resp, err := client.StopDaemon(cmdCtx)
		if err != nil {
			return fmt.Errorf("stop daemon: %w", err)
		}
		if !resp.Stopping {
			return errors.New("daemon declined to stop")
		}
		return nil
	})
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.Daemon.StopTimeout) * time.Second
	if daemonGone(cmdCtx, cfg, timeout) {
		fmt.Fprintln(out, "Daemon stopped.")
		return nil
	}

	if pid > 0 {
		fmt.Fprintf(out, "Daemon still running after %s, sending SIGTERM to pid %d.\n", timeout, pid)
		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			return fmt.Errorf("signal daemon: %w", err)
		}
		if daemonGone(cmdCtx, cfg, timeout) {
			fmt.Fprintln(out, "Daemon stopped.")
			return nil
		}
	}
	return errors.New("daemon did not stop; inspect it manually")
}

// daemonGone polls the socket until it stops accepting connections or the
// timeout elapses.
func daemonGone(ctx context.Context, cfg *config.Config, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		client, err := ipc.Dial(probeCtx, cfg.Daemon.SocketPath, time.Second)
		cancel()
		if err != nil {
			return true
		}
		client.Close()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}
