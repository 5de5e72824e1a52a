package orchestrator

import (
	"context"
	"time"

	"coffre/internal/config"
	"coffre/internal/daemonctl"
	"coffre/internal/ipc"
	"coffre/internal/journal"
)

// Session is the slice of the RPC client the orchestrator and front-end
// consume. *ipc.Client satisfies it.
type Session interface {
	GetInfo(ctx context.Context) (*ipc.GetInfoResponse, error)
	ListVaults(ctx context.Context) (*ipc.ListVaultsResponse, error)
	StopDaemon(ctx context.Context) (*ipc.StopResponse, error)
	Done() <-chan struct{}
	Close() error
}

// Dialer establishes a daemon session from resolved configuration.
type Dialer interface {
	Dial(ctx context.Context, cfg *config.Config) (Session, error)
}

// Handle is the slice of a supervised daemon the orchestrator needs.
// *daemonctl.Handle satisfies it.
type Handle interface {
	External() bool
	PID() int
	ExitError() *daemonctl.SpawnError
}

// Supervisor ensures a daemon is reachable and tears it down again.
type Supervisor interface {
	EnsureRunning(ctx context.Context, cfg *config.Config) (Handle, error)
	Stop(ctx context.Context, handle Handle, session Session, timeout time.Duration) error
}

// Locator resolves configuration. config.Locate is the production locator.
type Locator func(confPath, dataDir string) (*config.Config, string, error)

// Recorder receives diagnostic events. *journal.Store satisfies it; a nil
// Recorder disables journaling.
type Recorder interface {
	Record(ctx context.Context, kind journal.EventKind, detail string) error
}

// SocketDialer dials the daemon's unix socket with the configured dial and
// call timeouts.
type SocketDialer struct{}

func (SocketDialer) Dial(ctx context.Context, cfg *config.Config) (Session, error) {
	dialCtx := ctx
	if d := cfg.Connect.DialTimeout; d > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(d)*time.Second)
		defer cancel()
	}
	client, err := ipc.Dial(dialCtx, cfg.Daemon.SocketPath, time.Duration(cfg.Connect.CallTimeout)*time.Second)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ProcessSupervisor wraps daemonctl.Supervisor behind the orchestrator's
// narrower interfaces.
type ProcessSupervisor struct {
	inner *daemonctl.Supervisor
}

func NewProcessSupervisor(inner *daemonctl.Supervisor) *ProcessSupervisor {
	return &ProcessSupervisor{inner: inner}
}

func (s *ProcessSupervisor) EnsureRunning(ctx context.Context, cfg *config.Config) (Handle, error) {
	handle, err := s.inner.EnsureRunning(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (s *ProcessSupervisor) Stop(ctx context.Context, handle Handle, session Session, timeout time.Duration) error {
	owned, ok := handle.(*daemonctl.Handle)
	if !ok {
		return nil
	}
	client, _ := session.(*ipc.Client)
	return s.inner.Stop(ctx, owned, client, timeout)
}
