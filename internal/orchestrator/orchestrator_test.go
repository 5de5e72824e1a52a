package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coffre/internal/config"
	"coffre/internal/daemonctl"
	"coffre/internal/installer"
	"coffre/internal/ipc"
	"coffre/internal/journal"
	"coffre/internal/orchestrator"
)

const testXpub = "xpub6CUGRUonZSQ4TWtTMmzXdrXDtypWKiKrhko4egpiMZbpiaQL2jkwSB1icqYh2cfDfVxdx4df189oLKnC5fSwqPfgyP3hooxujYzAu3fDVmz"

type fakeSession struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
	info   *ipc.GetInfoResponse
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		done: make(chan struct{}),
		info: &ipc.GetInfoResponse{Version: "1.0.0", Network: "regtest", Blockheight: 120, PID: 4242},
	}
}

func (s *fakeSession) GetInfo(context.Context) (*ipc.GetInfoResponse, error) { return s.info, nil }

func (s *fakeSession) ListVaults(context.Context) (*ipc.ListVaultsResponse, error) {
	return &ipc.ListVaultsResponse{}, nil
}

func (s *fakeSession) StopDaemon(context.Context) (*ipc.StopResponse, error) {
	return &ipc.StopResponse{Stopping: true}, nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// drop simulates the daemon side going away.
func (s *fakeSession) drop() { s.Close() }

type dialOutcome struct {
	session *fakeSession
	err     error
}

type fakeDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	calls    int
}

func (d *fakeDialer) Dial(ctx context.Context, cfg *config.Config) (orchestrator.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if len(d.outcomes) == 0 {
		return newFakeSession(), nil
	}
	if idx >= len(d.outcomes) {
		idx = len(d.outcomes) - 1
	}
	out := d.outcomes[idx]
	if out.err != nil {
		return nil, out.err
	}
	if out.session != nil {
		return out.session, nil
	}
	return newFakeSession(), nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeHandle struct {
	external bool
	exitErr  *daemonctl.SpawnError
}

func (h *fakeHandle) External() bool { return h.external }

func (h *fakeHandle) PID() int {
	if h.external {
		return 0
	}
	return 9999
}

func (h *fakeHandle) ExitError() *daemonctl.SpawnError { return h.exitErr }

type fakeSupervisor struct {
	mu      sync.Mutex
	handle  orchestrator.Handle
	handles []orchestrator.Handle // per-call results, last one repeats
	err     error
	ensures int
	stops   int
	stopped []orchestrator.Handle
}

func (s *fakeSupervisor) EnsureRunning(ctx context.Context, cfg *config.Config) (orchestrator.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.handles) > 0 {
		idx := s.ensures - 1
		if idx >= len(s.handles) {
			idx = len(s.handles) - 1
		}
		return s.handles[idx], nil
	}
	if s.handle == nil {
		return &fakeHandle{}, nil
	}
	return s.handle, nil
}

func (s *fakeSupervisor) Stop(ctx context.Context, handle orchestrator.Handle, session orchestrator.Session, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.stopped = append(s.stopped, handle)
	return nil
}

func (s *fakeSupervisor) ensureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensures
}

func (s *fakeSupervisor) stoppedHandles() []orchestrator.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orchestrator.Handle(nil), s.stopped...)
}

type fakeRecorder struct {
	mu    sync.Mutex
	kinds []journal.EventKind
}

func (r *fakeRecorder) Record(ctx context.Context, kind journal.EventKind, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *fakeRecorder) sawKind(kind journal.EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.DataDir = "/tmp/coffre-test"
	cfg.Daemon.SocketPath = "/tmp/coffre-test/coffred.sock"
	cfg.Connect.AttemptBudget = 3
	cfg.Connect.InitialBackoff = 1
	cfg.Connect.MaxBackoff = 4
	cfg.Vault.ParticipantXpubs = []string{testXpub}
	cfg.Vault.Threshold = 1
	return cfg
}

func staticLocator(cfg config.Config) orchestrator.Locator {
	return func(confPath, dataDir string) (*config.Config, string, error) {
		c := cfg
		return &c, "/tmp/coffre-test/coffre.toml", nil
	}
}

func missingLocator(path string) orchestrator.Locator {
	return func(confPath, dataDir string) (*config.Config, string, error) {
		return nil, path, config.ErrNotFound
	}
}

func transientErr() error {
	return &ipc.Error{Kind: ipc.KindUnreachable, Op: "dial", Err: errors.New("connection refused")}
}

func startOrchestrator(t *testing.T, opts orchestrator.Options) *orchestrator.Orchestrator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	orch := orchestrator.New(opts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("orchestrator did not shut down")
		}
	})
	return orch
}

func waitState(t *testing.T, orch *orchestrator.Orchestrator, what string, pred func(orchestrator.AppState) bool) orchestrator.AppState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-orch.Updates():
			if pred(state) {
				return state
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, current phase %s", what, orch.Snapshot().Phase)
		}
	}
}

func waitPhase(t *testing.T, orch *orchestrator.Orchestrator, phase orchestrator.Phase) orchestrator.AppState {
	t.Helper()
	return waitState(t, orch, "phase "+phase.String(), func(s orchestrator.AppState) bool {
		return s.Phase == phase
	})
}

func TestConnectsToExternalDaemon(t *testing.T) {
	dialer := &fakeDialer{}
	supervisor := &fakeSupervisor{handle: &fakeHandle{external: true}}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: supervisor,
	})

	state := waitPhase(t, orch, orchestrator.PhaseRunning)
	if state.Daemon == nil || !state.Daemon.External {
		t.Fatalf("expected an external daemon, got %+v", state.Daemon)
	}
	if state.Daemon.Version != "1.0.0" {
		t.Errorf("daemon version = %q, want 1.0.0", state.Daemon.Version)
	}
	if state.Conn.Attempt != 1 {
		t.Errorf("connected on attempt %d, want 1", state.Conn.Attempt)
	}
	if got := dialer.callCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
	if orch.Session() == nil {
		t.Error("Session() returned nil while running")
	}
}

func TestRunsInstallerWhenConfigMissing(t *testing.T) {
	confPath := filepath.Join(t.TempDir(), "coffre.toml")
	dataDir := t.TempDir()
	dialer := &fakeDialer{}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    missingLocator(confPath),
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
	})

	state := waitPhase(t, orch, orchestrator.PhaseInstaller)
	if state.Installer == nil || state.Installer.Step != installer.StepNetwork {
		t.Fatalf("installer not at first step: %+v", state.Installer)
	}

	ctx := context.Background()
	steps := []any{
		installer.NetworkInput{Network: "regtest"},
		installer.DataDirInput{Path: dataDir},
		installer.KeysInput{ParticipantXpubs: []string{testXpub}, Threshold: 1},
		installer.ReviewInput{Confirmed: true},
	}
	for _, input := range steps {
		if err := orch.AdvanceInstaller(ctx, input); err != nil {
			t.Fatalf("advance %T: %v", input, err)
		}
	}
	if err := orch.CommitInstaller(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	waitPhase(t, orch, orchestrator.PhaseRunning)

	written, err := config.Load(confPath)
	if err != nil {
		t.Fatalf("committed config unreadable: %v", err)
	}
	if written.Network != "regtest" {
		t.Errorf("written network = %q, want regtest", written.Network)
	}
	if dialer.callCount() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.callCount())
	}
}

func TestInstallerRejectsInvalidInputWithoutAdvancing(t *testing.T) {
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    missingLocator(filepath.Join(t.TempDir(), "coffre.toml")),
		Dialer:     &fakeDialer{},
		Supervisor: &fakeSupervisor{},
	})
	waitPhase(t, orch, orchestrator.PhaseInstaller)

	err := orch.AdvanceInstaller(context.Background(), installer.NetworkInput{Network: "moonnet"})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	snap := orch.Snapshot()
	if snap.Installer == nil || snap.Installer.Step != installer.StepNetwork {
		t.Fatalf("step moved despite invalid input: %+v", snap.Installer)
	}
	if snap.Installer.LastFailure == "" {
		t.Error("validation failure not surfaced in snapshot")
	}
}

func TestAbortInstallerReturnsToResolution(t *testing.T) {
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    missingLocator(filepath.Join(t.TempDir(), "coffre.toml")),
		Dialer:     &fakeDialer{},
		Supervisor: &fakeSupervisor{},
	})
	waitPhase(t, orch, orchestrator.PhaseInstaller)

	if err := orch.AbortInstaller(context.Background()); err != nil {
		t.Fatalf("abort: %v", err)
	}
	// Config is still missing, so resolution lands back in the installer.
	state := waitPhase(t, orch, orchestrator.PhaseInstaller)
	if state.Installer.Step != installer.StepNetwork {
		t.Errorf("restarted installer at step %s, want %s", state.Installer.Step, installer.StepNetwork)
	}
}

func TestMissingExecutableIsFatalWithoutRetry(t *testing.T) {
	supervisor := &fakeSupervisor{err: &daemonctl.SpawnError{
		Kind: daemonctl.KindExecutableNotFound,
		Err:  errors.New(`exec: "coffred": executable file not found in $PATH`),
	}}
	dialer := &fakeDialer{}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: supervisor,
	})

	state := waitPhase(t, orch, orchestrator.PhaseUnrecoverable)
	if state.Failure == nil || state.Failure.Kind != orchestrator.FailExecutableNotFound {
		t.Fatalf("failure = %+v, want %s", state.Failure, orchestrator.FailExecutableNotFound)
	}
	time.Sleep(50 * time.Millisecond)
	if got := supervisor.ensureCount(); got != 1 {
		t.Errorf("EnsureRunning called %d times, want 1", got)
	}
	if dialer.callCount() != 0 {
		t.Errorf("dial count = %d, want 0", dialer.callCount())
	}
	if orch.Session() != nil {
		t.Error("Session() returned non-nil while unrecoverable")
	}
}

func TestRejectedSessionIsFatal(t *testing.T) {
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{err: &ipc.Error{Kind: ipc.KindRejected, Op: "dial", Err: errors.New("permission denied")}},
	}}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
	})

	state := waitPhase(t, orch, orchestrator.PhaseUnrecoverable)
	if state.Failure.Kind != orchestrator.FailRejected {
		t.Fatalf("failure kind = %s, want %s", state.Failure.Kind, orchestrator.FailRejected)
	}
	time.Sleep(50 * time.Millisecond)
	if dialer.callCount() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.callCount())
	}
}

func TestTransientFailuresRetryUntilSuccess(t *testing.T) {
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{err: transientErr()},
		{err: transientErr()},
		{session: newFakeSession()},
	}}
	recorder := &fakeRecorder{}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
		Journal:    recorder,
	})

	state := waitPhase(t, orch, orchestrator.PhaseRunning)
	if state.Conn.Attempt != 3 {
		t.Errorf("connected on attempt %d, want 3", state.Conn.Attempt)
	}
	if dialer.callCount() != 3 {
		t.Errorf("dial count = %d, want 3", dialer.callCount())
	}
	if !recorder.sawKind(journal.EventConnected) {
		t.Error("connected event not journaled")
	}
}

// A daemon spawned on the first attempt must stay owned across retries. The
// supervisor probes the socket before spawning, so re-running it after the
// child comes up would hand back an external handle and the child would never
// be stopped at shutdown. The scripted supervisor mirrors that probe: a
// second EnsureRunning call would see the external handle.
func TestRetryKeepsOwnershipOfSpawnedDaemon(t *testing.T) {
	owned := &fakeHandle{}
	supervisor := &fakeSupervisor{handles: []orchestrator.Handle{owned, &fakeHandle{external: true}}}
	dialer := &fakeDialer{outcomes: []dialOutcome{{err: transientErr()}, {session: newFakeSession()}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := orchestrator.New(orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: supervisor,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()

	state := waitPhase(t, orch, orchestrator.PhaseRunning)
	if state.Daemon == nil || state.Daemon.External {
		t.Fatalf("daemon reported external after retry: %+v", state.Daemon)
	}
	if got := supervisor.ensureCount(); got != 1 {
		t.Errorf("EnsureRunning called %d times across retries, want 1", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not shut down")
	}
	stopped := supervisor.stoppedHandles()
	if len(stopped) != 1 || stopped[0] != owned {
		t.Fatalf("spawned daemon not stopped at shutdown, stopped handles: %v", stopped)
	}
}

func TestAttemptBudgetExhaustionIsUnrecoverable(t *testing.T) {
	dialer := &fakeDialer{outcomes: []dialOutcome{{err: transientErr()}}}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
	})

	state := waitPhase(t, orch, orchestrator.PhaseUnrecoverable)
	if state.Failure.Kind != orchestrator.FailAttemptsExhausted {
		t.Fatalf("failure kind = %s, want %s", state.Failure.Kind, orchestrator.FailAttemptsExhausted)
	}
	if !strings.Contains(state.Failure.Detail, "3 attempts") {
		t.Errorf("failure detail %q does not mention the attempt count", state.Failure.Detail)
	}
	time.Sleep(50 * time.Millisecond)
	if dialer.callCount() != 3 {
		t.Errorf("dial count = %d, want 3", dialer.callCount())
	}
}

func TestSessionLossTriggersReconnect(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	dialer := &fakeDialer{outcomes: []dialOutcome{{session: first}, {session: second}}}
	recorder := &fakeRecorder{}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
		Journal:    recorder,
	})

	waitPhase(t, orch, orchestrator.PhaseRunning)
	first.drop()
	state := waitState(t, orch, "reconnected session", func(s orchestrator.AppState) bool {
		return s.Phase == orchestrator.PhaseRunning && dialer.callCount() == 2
	})
	if state.Conn.Attempt != 1 {
		t.Errorf("reconnect used attempt %d, want a fresh cycle starting at 1", state.Conn.Attempt)
	}
	if !recorder.sawKind(journal.EventDisconnected) {
		t.Error("disconnect event not journaled")
	}
}

func TestCancelConnectDiscardsRetryCycle(t *testing.T) {
	cfg := fastConfig()
	cfg.Connect.InitialBackoff = 200
	cfg.Connect.MaxBackoff = 400
	dialer := &fakeDialer{outcomes: []dialOutcome{{err: transientErr()}, {session: newFakeSession()}}}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(cfg),
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
	})

	waitState(t, orch, "scheduled retry", func(s orchestrator.AppState) bool {
		return s.Phase == orchestrator.PhaseConnecting && s.Conn.LastError != ""
	})
	ctx := context.Background()
	if err := orch.CancelConnect(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if snap := orch.Snapshot(); snap.Conn.Phase != orchestrator.ConnIdle {
		t.Fatalf("connection phase after cancel = %s, want %s", snap.Conn.Phase, orchestrator.ConnIdle)
	}

	// The scheduled retry must not fire after the cancel.
	time.Sleep(500 * time.Millisecond)
	if dialer.callCount() != 1 {
		t.Fatalf("dial count after cancel = %d, want 1", dialer.callCount())
	}

	if err := orch.Reconnect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitPhase(t, orch, orchestrator.PhaseRunning)
	if dialer.callCount() != 2 {
		t.Errorf("dial count after reconnect = %d, want 2", dialer.callCount())
	}
}

func TestReconnectRefusedWhileRunning(t *testing.T) {
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    staticLocator(fastConfig()),
		Dialer:     &fakeDialer{},
		Supervisor: &fakeSupervisor{},
	})
	waitPhase(t, orch, orchestrator.PhaseRunning)

	if err := orch.Reconnect(context.Background()); err == nil {
		t.Fatal("expected reconnect to be refused while running")
	}
}

func TestUnusableConfigIsUnrecoverable(t *testing.T) {
	locator := func(confPath, dataDir string) (*config.Config, string, error) {
		return nil, "/tmp/coffre-test/coffre.toml", &config.InvalidError{
			Path:     "/tmp/coffre-test/coffre.toml",
			Problems: []string{"network must be one of bitcoin/testnet/signet/regtest"},
		}
	}
	orch := startOrchestrator(t, orchestrator.Options{
		Locator:    locator,
		Dialer:     &fakeDialer{},
		Supervisor: &fakeSupervisor{},
	})

	state := waitPhase(t, orch, orchestrator.PhaseUnrecoverable)
	if state.Failure.Kind != orchestrator.FailConfigInvalid {
		t.Fatalf("failure kind = %s, want %s", state.Failure.Kind, orchestrator.FailConfigInvalid)
	}
	if !strings.Contains(state.Failure.Detail, "network") {
		t.Errorf("failure detail %q does not carry the problem list", state.Failure.Detail)
	}
}

func TestAbortInstallerPicksUpHandWrittenConfig(t *testing.T) {
	confPath := filepath.Join(t.TempDir(), "coffre.toml")
	dialer := &fakeDialer{}
	orch := startOrchestrator(t, orchestrator.Options{
		ConfPath:   confPath,
		Dialer:     dialer,
		Supervisor: &fakeSupervisor{},
	})

	// No file yet and an explicit conf path: resolution reports it missing
	// and the installer starts. Write a valid config by hand and abort the
	// installer; re-resolution should pick the file up and connect.
	waitPhase(t, orch, orchestrator.PhaseInstaller)

	cfg := fastConfig()
	if err := config.WriteAtomic(confPath, &cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := orch.AbortInstaller(context.Background()); err != nil {
		t.Fatalf("abort: %v", err)
	}
	waitPhase(t, orch, orchestrator.PhaseRunning)
	if dialer.callCount() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.callCount())
	}
}

func TestConfigRewriteRecoversFromUnrecoverable(t *testing.T) {
	confPath := filepath.Join(t.TempDir(), "coffre.toml")
	if err := os.WriteFile(confPath, []byte("network = \"moonnet\"\n"), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	dialer := &fakeDialer{}
	orch := startOrchestrator(t, orchestrator.Options{
		ConfPath:    confPath,
		Dialer:      dialer,
		Supervisor:  &fakeSupervisor{},
		WatchConfig: true,
	})

	state := waitPhase(t, orch, orchestrator.PhaseUnrecoverable)
	if state.Failure.Kind != orchestrator.FailConfigInvalid {
		t.Fatalf("failure kind = %s, want %s", state.Failure.Kind, orchestrator.FailConfigInvalid)
	}

	// Give the watcher a moment to register before the rewrite.
	time.Sleep(100 * time.Millisecond)
	cfg := fastConfig()
	if err := config.WriteAtomic(confPath, &cfg); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	waitPhase(t, orch, orchestrator.PhaseRunning)
	if dialer.callCount() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.callCount())
	}
}
