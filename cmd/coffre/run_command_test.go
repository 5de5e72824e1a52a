package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"coffre/internal/config"
)

func TestRunRefusesSecondInstance(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "coffre.toml")
	cfg := validTestConfig(dir)
	if err := config.WriteAtomic(target, &cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// Hold the lock the way a running instance would.
	lock := flock.New(filepath.Join(dir, "coffre.lock"))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("prepare lock: ok=%v err=%v", ok, err)
	}
	defer lock.Unlock()

	conf := target
	ctx := newCommandContext(&conf, new(string))
	err = runSession(context.Background(), ctx)
	if err == nil {
		t.Fatal("expected second instance to be refused")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRequiresConfiguration(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "coffre.toml")
	ctx := newCommandContext(&conf, new(string))
	err := runSession(context.Background(), ctx)
	if err == nil {
		t.Fatal("expected run to refuse without configuration")
	}
	if !strings.Contains(err.Error(), "coffre setup") {
		t.Fatalf("error should point at setup, got: %v", err)
	}
}
