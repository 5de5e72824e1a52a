package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coffre/internal/config"
	"coffre/internal/ipc"
)

// commandContext shares flag values and lazily-resolved configuration across
// subcommands.
type commandContext struct {
	confFlag    *string
	dataDirFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(confFlag, dataDirFlag *string) *commandContext {
	return &commandContext{
		confFlag:    confFlag,
		dataDirFlag: dataDirFlag,
	}
}

func (c *commandContext) confValue() string {
	if c.confFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.confFlag)
}

func (c *commandContext) dataDirValue() string {
	if c.dataDirFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.dataDirFlag)
}

// ensureConfig resolves configuration once per invocation. The resolved path
// is retained even when resolution fails so callers can report or create it.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configPath, c.configErr = config.Locate(c.confValue(), c.dataDirValue())
	})
	return c.config, c.configErr
}

func (c *commandContext) withClient(ctx context.Context, fn func(*ipc.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no configuration found; run `coffre setup` to create one")
		}
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Connect.DialTimeout)*time.Second)
	defer cancel()
	client, err := ipc.Dial(dialCtx, cfg.Daemon.SocketPath, time.Duration(cfg.Connect.CallTimeout)*time.Second)
	if err != nil {
		return wrapDialError(err, cfg.Daemon.SocketPath)
	}
	defer client.Close()
	return fn(client)
}

func wrapDialError(err error, socket string) error {
	if ipcErr, ok := ipc.AsError(err); ok {
		switch ipcErr.Kind {
		case ipc.KindUnreachable:
			return fmt.Errorf("connect to coffred: socket %s unreachable; start the daemon with `coffre run`", socket)
		case ipc.KindRejected:
			return fmt.Errorf("connect to coffred: socket %s refused access; check its permissions", socket)
		}
	}
	return fmt.Errorf("connect to coffred: %w", err)
}
