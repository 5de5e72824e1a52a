package daemonctl

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"coffre/internal/config"
	"coffre/internal/ipc"
	"coffre/internal/logging"
)

// Handle is an opaque reference to a supervised daemon. It is owned by
// exactly one caller and is never shared across connection attempts.
type Handle struct {
	external   bool
	socketPath string
	cmd        *exec.Cmd
	stderr     *tailBuffer
	stdout     *tailBuffer

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitErr  error

	waitDone chan struct{}
}

// External reports whether the daemon is managed outside this process.
func (h *Handle) External() bool { return h.external }

// PID returns the child process id, or 0 for an external daemon.
func (h *Handle) PID() int {
	if h.external || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// ExitState reports whether the owned process has exited and with what code.
func (h *Handle) ExitState() (exited bool, code int) {
	if h.external {
		return false, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited, h.exitCode
}

// ExitError returns the classified early-exit failure for an owned daemon
// that died, or nil while it is still running. The stderr tail is attached
// for diagnostics.
func (h *Handle) ExitError() *SpawnError {
	exited, code := h.ExitState()
	if !exited {
		return nil
	}
	h.mu.Lock()
	waitErr := h.waitErr
	h.mu.Unlock()
	return &SpawnError{
		Kind:   KindExitedEarly,
		Err:    waitErr,
		Status: code,
		Stderr: h.stderr.String(),
	}
}

// StderrTail returns the captured tail of the daemon's standard error.
func (h *Handle) StderrTail() string {
	if h.external {
		return ""
	}
	return h.stderr.String()
}

func (h *Handle) recordExit(err error) {
	h.mu.Lock()
	h.exited = true
	h.waitErr = err
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Unlock()
	close(h.waitDone)
}

// Supervisor spawns, monitors, and terminates the coffred process.
type Supervisor struct {
	logger *slog.Logger
}

// New returns a Supervisor logging through the given logger.
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{logger: logger}
}

// EnsureRunning returns a handle to a reachable daemon, spawning one when the
// configured socket answers nothing. A daemon that was already reachable is
// marked external and is never signalled by Stop.
func (s *Supervisor) EnsureRunning(ctx context.Context, cfg *config.Config) (*Handle, error) {
	if s.probe(ctx, cfg) {
		s.logger.Debug("daemon already reachable",
			logging.String("socket", cfg.Daemon.SocketPath))
		return &Handle{external: true, socketPath: cfg.Daemon.SocketPath}, nil
	}

	resolved, err := exec.LookPath(cfg.Daemon.Exec)
	if err != nil {
		return nil, &SpawnError{Kind: KindExecutableNotFound, Err: fmt.Errorf("resolve %q: %w", cfg.Daemon.Exec, err)}
	}

	args := []string{"--datadir", cfg.DataDir, "--network", cfg.Network}
	if strings.TrimSpace(cfg.Daemon.ConfPath) != "" {
		args = []string{"--conf", cfg.Daemon.ConfPath}
	}

	handle := &Handle{
		socketPath: cfg.Daemon.SocketPath,
		stdout:     newTailBuffer(tailCapacity),
		stderr:     newTailBuffer(tailCapacity),
		waitDone:   make(chan struct{}),
	}
	cmd := exec.Command(resolved, args...)
	cmd.Stdout = handle.stdout
	cmd.Stderr = handle.stderr
	handle.cmd = cmd

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Kind: KindLaunchFailed, Err: err}
	}
	s.logger.Info("daemon spawned",
		logging.String("exec", resolved),
		logging.Int("pid", cmd.Process.Pid))

	go func() {
		handle.recordExit(cmd.Wait())
	}()
	return handle, nil
}

// Alive reports whether the daemon behind the handle is still running. Owned
// processes are checked via their recorded exit state and a null signal;
// external daemons via a socket probe.
func (s *Supervisor) Alive(ctx context.Context, cfg *config.Config, handle *Handle) bool {
	if handle == nil {
		return false
	}
	if handle.external {
		return s.probe(ctx, cfg)
	}
	if exited, _ := handle.ExitState(); exited {
		return false
	}
	return unix.Kill(handle.PID(), 0) == nil
}

// Stop terminates the daemon. External daemons are left alone. Owned daemons
// receive a graceful RPC stop when a live session is supplied, then SIGTERM,
// then SIGKILL once the timeout elapses.
func (s *Supervisor) Stop(ctx context.Context, handle *Handle, session *ipc.Client, timeout time.Duration) error {
	if handle == nil || handle.external {
		return nil
	}
	if exited, _ := handle.ExitState(); exited {
		return nil
	}

	if session != nil && session.Err() == nil {
		if _, err := session.StopDaemon(ctx); err != nil {
			s.logger.Debug("graceful stop request failed", logging.Error(err))
		} else if handle.waitExit(timeout) {
			return nil
		}
	}

	pid := handle.PID()
	s.logger.Debug("sending SIGTERM", logging.Int("pid", pid))
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon %d: %w", pid, err)
	}
	if handle.waitExit(timeout) {
		return nil
	}

	s.logger.Warn("daemon did not exit in time, killing",
		logging.Int("pid", pid),
		logging.Duration("timeout", timeout))
	if err := handle.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill daemon %d: %w", pid, err)
	}
	if !handle.waitExit(timeout) {
		return fmt.Errorf("daemon %d survived SIGKILL", pid)
	}
	return nil
}

func (h *Handle) waitExit(timeout time.Duration) bool {
	select {
	case <-h.waitDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Supervisor) probe(ctx context.Context, cfg *config.Config) bool {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Connect.DialTimeout)*time.Second)
	defer cancel()
	client, err := ipc.Dial(dialCtx, cfg.Daemon.SocketPath, time.Second)
	if err != nil {
		return false
	}
	_ = client.Close()
	return true
}
