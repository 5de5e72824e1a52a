package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"coffre/internal/config"
)

const testXpub = "xpub6CUGRUonZSQ4TWtTMmzXdrXDtypWKiKrhko4egpiMZbpiaQL2jkwSB1icqYh2cfDfVxdx4df189oLKnC5fSwqPfgyP3hooxujYzAu3fDVmz"

func runCLI(t *testing.T, args []string, confPath string, stdin io.Reader) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	flags := []string{}
	if confPath != "" {
		flags = append(flags, "--conf", confPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func validTestConfig(dataDir string) config.Config {
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Network = "regtest"
	cfg.Daemon.SocketPath = dataDir + "/coffred.sock"
	cfg.Vault.ParticipantXpubs = []string{testXpub}
	cfg.Vault.Threshold = 1
	return cfg
}
