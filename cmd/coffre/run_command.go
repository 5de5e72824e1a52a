package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"coffre/internal/config"
	"coffre/internal/journal"
	"coffre/internal/logging"
	"coffre/internal/orchestrator"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to coffred, starting and supervising it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), ctx)
		},
	}
}

func runSession(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no configuration found at %s; run `coffre setup` to create one", ctx.configPath)
		}
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "coffre.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another coffre instance is already running")
	}
	defer lock.Unlock()

	store, err := journal.Open(cfg)
	if err != nil {
		logger.Warn("journal unavailable", logging.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	orch := orchestrator.New(orchestrator.Options{
		ConfPath:    ctx.confValue(),
		DataDir:     ctx.dataDirValue(),
		Journal:     journalRecorder(store),
		Logger:      logger,
		WatchConfig: true,
	})

	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Run(signalCtx)
	}()

	for {
		select {
		case err := <-runDone:
			if errors.Is(err, context.Canceled) {
				logger.Info("coffre shutting down")
				return nil
			}
			return err
		case state := <-orch.Updates():
			reportState(logger, state)
		}
	}
}

// journalRecorder avoids storing a typed nil in the Recorder interface when
// the journal could not be opened.
func journalRecorder(store *journal.Store) orchestrator.Recorder {
	if store == nil {
		return nil
	}
	return store
}

func reportState(logger *slog.Logger, state orchestrator.AppState) {
	switch state.Phase {
	case orchestrator.PhaseConnecting:
		if state.Conn.LastError != "" {
			logger.Warn("connection attempt failed",
				logging.Int("attempt", state.Conn.Attempt),
				logging.Duration("next_retry", state.Conn.NextRetry),
				logging.String("error", state.Conn.LastError))
			return
		}
		logger.Info("connecting to coffred", logging.Int("attempt", state.Conn.Attempt))
	case orchestrator.PhaseRunning:
		if state.Daemon != nil {
			logger.Info("session established",
				logging.String("version", state.Daemon.Version),
				logging.String("network", state.Daemon.Network),
				logging.Int64("blockheight", state.Daemon.Blockheight),
				logging.Bool("external", state.Daemon.External))
			return
		}
		logger.Info("session established")
	case orchestrator.PhaseUnrecoverable:
		if state.Failure != nil {
			logger.Error("session unrecoverable",
				logging.String("reason", string(state.Failure.Kind)),
				logging.String("detail", state.Failure.Detail))
			return
		}
		logger.Error("session unrecoverable")
	case orchestrator.PhaseInstaller:
		logger.Warn("configuration missing; run `coffre setup` from another terminal or edit the config file")
	}
}
